package main

import "ubuild/internal/cli"

func main() {
	cli.Main()
}
