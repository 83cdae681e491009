// Package config resolves the build configuration: user options layered
// from files, environment and flags, and the probed configuration record
// every build step consumes.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"
)

const (
	// ProjectFile holds project defaults in the source root.
	ProjectFile = "ubuild.toml"
	// SavedFile holds the options last given to configure, in the build dir.
	SavedFile = "options.toml"
)

// Remote configures the S3-compatible cache mirror.
type Remote struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// Enabled reports whether a bucket is configured.
func (r Remote) Enabled() bool {
	return r.Bucket != ""
}

// Options are the user-facing build settings.
type Options struct {
	CC          string   `toml:"cc"`
	CFlags      []string `toml:"cflags"`
	UseColor    bool     `toml:"use_color"`
	Release     bool     `toml:"release"`
	PkgConfig   string   `toml:"pkg_config"`
	Ruby        string   `toml:"ruby"`
	DocTool     string   `toml:"doc_tool"`
	Mrkd        string   `toml:"mrkd"`
	Ronn        string   `toml:"ronn"`
	Prefix      string   `toml:"prefix"`
	DestDir     string   `toml:"destdir"`
	AutoService bool     `toml:"auto_service"`
	Jobs        int      `toml:"jobs"`
	BuildDir    string   `toml:"build_dir"`
	SourceDir   string   `toml:"source_dir"`
	Remote      Remote   `toml:"remote,omitempty"`
}

// Doc tool names.
const (
	DocMrkd = "mrkd"
	DocRonn = "ronn"
	DocNone = "none"
)

// Defaults returns the built-in option values.
func Defaults() Options {
	return Options{
		UseColor:  true,
		DocTool:   DocMrkd,
		Ronn:      "scripts/ronn.rb",
		Prefix:    "usr",
		DestDir:   "/",
		Jobs:      runtime.NumCPU(),
		BuildDir:  "build",
		SourceDir: ".",
	}
}

// Validate checks option values that cannot be checked by probing.
func (o Options) Validate() error {
	switch o.DocTool {
	case DocMrkd, DocRonn, DocNone:
	default:
		return fmt.Errorf("doc_tool must be %s, %s or %s, not %q", DocMrkd, DocRonn, DocNone, o.DocTool)
	}
	if o.Jobs < 0 {
		return errors.New("jobs must not be negative")
	}
	if o.BuildDir == "" {
		return errors.New("build_dir must not be empty")
	}
	return nil
}

// ProbeArgs renders the options that influence probing in a canonical
// order. They identify the configure task.
func (o Options) ProbeArgs() []string {
	return []string{
		"cc=" + o.CC,
		"cflags=" + strings.Join(o.CFlags, "\x00"),
		"use_color=" + strconv.FormatBool(o.UseColor),
		"release=" + strconv.FormatBool(o.Release),
		"pkg_config=" + o.PkgConfig,
		"ruby=" + o.Ruby,
		"doc_tool=" + o.DocTool,
		"mrkd=" + o.Mrkd,
		"ronn=" + o.Ronn,
		"source_dir=" + o.SourceDir,
	}
}

// decodeFile overlays the keys defined in path onto o. A missing file is
// not an error.
func (o *Options) decodeFile(path string) error {
	meta, err := toml.DecodeFile(path, o)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load %s: unknown key %s", path, undecoded[0])
	}
	return nil
}

// Save writes o to path atomically. Remote credentials are not saved;
// they belong in ProjectFile or the environment.
func (o Options) Save(path string) error {
	o.Remote = Remote{}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(o); err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

// mergeEnv applies UBUILD_* overrides.
func (o *Options) mergeEnv(environ []string) error {
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "UBUILD_") {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, "UBUILD_"))
		if err := o.set(name, val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// set assigns one option from its string form. Unknown names are ignored
// so that unrelated UBUILD_ variables do not break the build.
func (o *Options) set(name, val string) error {
	parseBool := func(dst *bool) error {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
	switch name {
	case "cc":
		o.CC = val
	case "cflags":
		o.CFlags = strings.Fields(val)
	case "use_color":
		return parseBool(&o.UseColor)
	case "release":
		return parseBool(&o.Release)
	case "pkg_config":
		o.PkgConfig = val
	case "ruby":
		o.Ruby = val
	case "doc_tool":
		o.DocTool = val
	case "mrkd":
		o.Mrkd = val
	case "ronn":
		o.Ronn = val
	case "prefix":
		o.Prefix = val
	case "destdir":
		o.DestDir = val
	case "auto_service":
		return parseBool(&o.AutoService)
	case "jobs":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		o.Jobs = n
	case "build_dir":
		o.BuildDir = val
	case "source_dir":
		o.SourceDir = val
	}
	return nil
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, " ") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Flags binds command line flags for the options. Values set on the
// command line override every other layer.
type Flags struct {
	fs   *flag.FlagSet
	vals Options
	list stringList
}

// Which flag groups a command accepts.
const (
	FlagsConfigure = 1 << iota
	FlagsBuild
	FlagsInstall
)

// BindFlags registers option flags on fs. groups selects which of them the
// command accepts; the directory flags are always present.
func BindFlags(fs *flag.FlagSet, groups int) *Flags {
	f := &Flags{fs: fs}
	v := &f.vals
	fs.StringVar(&v.BuildDir, "build-dir", "", "Build directory (default build)")
	fs.StringVar(&v.SourceDir, "source-dir", "", "Source directory (default .)")
	if groups&FlagsConfigure != 0 {
		fs.StringVar(&v.CC, "cc", "", "Use the given C compiler")
		fs.Var(&f.list, "cflag", "Pass the given flag to the C compiler (repeatable)")
		fs.BoolVar(&v.UseColor, "use-color", true, "Force colored compiler diagnostics")
		fs.BoolVar(&v.Release, "release", false, "Build in release mode")
		fs.StringVar(&v.PkgConfig, "pkg-config", "", "Use the given pkg-config executable")
		fs.StringVar(&v.Ruby, "ruby", "", "Use the given Ruby binary")
		fs.StringVar(&v.DocTool, "doc-tool", "", "Documentation renderer: mrkd, ronn or none")
		fs.StringVar(&v.Mrkd, "mrkd", "", "Use the given mrkd executable")
		fs.StringVar(&v.Ronn, "ronn", "", "Use the given ronn wrapper script")
		fs.StringVar(&v.Prefix, "prefix", "", "Set the installation prefix")
		fs.BoolVar(&v.AutoService, "auto-service", false, "Automatically stop services before installation")
	}
	if groups&(FlagsConfigure|FlagsInstall) != 0 {
		fs.StringVar(&v.DestDir, "destdir", "", "Set the installation destdir")
	}
	if groups&(FlagsConfigure|FlagsBuild) != 0 {
		fs.IntVar(&v.Jobs, "j", 0, "Number of parallel jobs")
	}
	return f
}

// apply copies every flag that was given explicitly onto o.
func (f *Flags) apply(o *Options) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "build-dir":
			o.BuildDir = f.vals.BuildDir
		case "source-dir":
			o.SourceDir = f.vals.SourceDir
		case "cc":
			o.CC = f.vals.CC
		case "cflag":
			o.CFlags = append([]string(nil), f.list...)
		case "use-color":
			o.UseColor = f.vals.UseColor
		case "release":
			o.Release = f.vals.Release
		case "pkg-config":
			o.PkgConfig = f.vals.PkgConfig
		case "ruby":
			o.Ruby = f.vals.Ruby
		case "doc-tool":
			o.DocTool = f.vals.DocTool
		case "mrkd":
			o.Mrkd = f.vals.Mrkd
		case "ronn":
			o.Ronn = f.vals.Ronn
		case "prefix":
			o.Prefix = f.vals.Prefix
		case "destdir":
			o.DestDir = f.vals.DestDir
		case "auto-service":
			o.AutoService = f.vals.AutoService
		case "j":
			o.Jobs = f.vals.Jobs
		}
	})
}

// Load layers the option sources: defaults, ProjectFile in the source
// directory, SavedFile in the build directory, UBUILD_* variables from
// environ and finally explicitly given flags. flags may be nil.
func Load(flags *Flags, environ []string) (Options, error) {
	o := Defaults()

	// The directories locate the files, so they come from the layers that
	// do not depend on them. The project file may still name the build dir.
	dirs := Defaults()
	if err := dirs.mergeEnv(environ); err != nil {
		return o, err
	}
	if flags != nil {
		flags.apply(&dirs)
	}

	o.SourceDir = dirs.SourceDir
	if err := o.decodeFile(filepath.Join(o.SourceDir, ProjectFile)); err != nil {
		return o, err
	}
	if dirs.BuildDir != Defaults().BuildDir {
		o.BuildDir = dirs.BuildDir
	}
	if !filepath.IsAbs(o.BuildDir) {
		o.BuildDir = filepath.Join(o.SourceDir, o.BuildDir)
	}
	buildDir := o.BuildDir
	if err := o.decodeFile(filepath.Join(buildDir, SavedFile)); err != nil {
		return o, err
	}
	if err := o.mergeEnv(environ); err != nil {
		return o, err
	}
	if flags != nil {
		flags.apply(&o)
	}
	o.SourceDir, o.BuildDir = dirs.SourceDir, buildDir
	if o.Jobs == 0 {
		o.Jobs = runtime.NumCPU()
	}
	return o, o.Validate()
}
