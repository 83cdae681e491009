package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"ubuild/internal/execx"
)

// DetectKind asks exe for its version banner.
func DetectKind(ctx context.Context, cmd execx.Commander, exe string) (Kind, error) {
	out, err := cmd.Output(ctx, "", exe, "--version")
	if err != nil {
		return "", fmt.Errorf("running %s --version: %w", exe, err)
	}
	if strings.Contains(strings.ToLower(string(out)), "clang") {
		return Clang, nil
	}
	return GCC, nil
}

// PkgConfig queries exe for the flags of name. A package pkg-config does
// not know is reported as found=false, not as an error.
func PkgConfig(ctx context.Context, cmd execx.Commander, exe, name string) (Package, bool, error) {
	if exe == "" {
		exe = "pkg-config"
	}
	cflags, err := cmd.Output(ctx, "", exe, "--cflags", name)
	if err != nil {
		return notFound(err)
	}
	libs, err := cmd.Output(ctx, "", exe, "--libs", name)
	if err != nil {
		return notFound(err)
	}
	return Package{
		Name:   name,
		CFlags: strings.Fields(string(cflags)),
		LDLibs: strings.Fields(string(libs)),
	}, true, nil
}

func notFound(err error) (Package, bool, error) {
	var exit *execx.ExitError
	if errors.As(err, &exit) {
		return Package{}, false, nil
	}
	return Package{}, false, err
}

var rubyVersionRe = regexp.MustCompile(`^ruby (\d\.\d)`)

// RubyVersion returns the major.minor version printed by bin --version.
func RubyVersion(ctx context.Context, cmd execx.Commander, bin string) (string, bool) {
	out, err := cmd.Output(ctx, "", bin, "--version")
	if err != nil {
		return "", false
	}
	return ParseRubyVersion(string(out))
}

// ParseRubyVersion extracts "X.Y" from a "ruby X.Y.Z..." banner.
func ParseRubyVersion(banner string) (string, bool) {
	m := rubyVersionRe.FindStringSubmatch(banner)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// HeaderExists compiles a translation unit that includes header. scratch
// is a writable directory for the probe's files.
func HeaderExists(ctx context.Context, cmd execx.Commander, cc Compiler, header, scratch string) (bool, error) {
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return false, err
	}
	base := strings.NewReplacer("/", "_", ".", "_").Replace(header)
	src := filepath.Join(scratch, "have_"+base+".c")
	code := fmt.Sprintf("#include <%s>\nint main(void) { return 0; }\n", header)
	if err := os.WriteFile(src, []byte(code), 0o644); err != nil {
		return false, err
	}
	argv := append([]string{cc.Exe}, cc.Flags...)
	argv = append(argv, "-c", src, "-o", strings.TrimSuffix(src, ".c")+".o")
	if err := cmd.Run(ctx, scratch, argv...); err != nil {
		var exit *execx.ExitError
		if errors.As(err, &exit) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// HasRubyGem reports whether bin can load gem.
func HasRubyGem(ctx context.Context, cmd execx.Commander, bin, gem string) bool {
	_, err := cmd.Output(ctx, "", bin, "-r"+gem, "-e", "")
	return err == nil
}
