package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ubuild/internal/build"
	"ubuild/internal/cache"
	"ubuild/internal/config"
	"ubuild/internal/console"
	"ubuild/internal/install"
	"ubuild/internal/manifest"
	"ubuild/internal/module"
	"ubuild/internal/pymods"
	"ubuild/internal/remote"
	"ubuild/internal/sched"
	"ubuild/internal/task"
	"ubuild/internal/watch"
)

// cacheDir is the task cache below the build directory.
const cacheDir = ".cache"

// session is an open build directory.
type session struct {
	opts   config.Options
	store  *cache.Store
	runner *task.Runner
	sched  *sched.Scheduler
}

func (a *app) open(opts config.Options, progress bool) (*session, error) {
	store, err := cache.Open(filepath.Join(opts.BuildDir, cacheDir), a.log)
	if err != nil {
		return nil, err
	}
	var sopts []sched.Option
	if progress {
		sopts = append(sopts, sched.WithProgress(os.Stderr))
	}
	return &session{
		opts:   opts,
		store:  store,
		runner: task.NewRunner(store, a.log),
		sched:  sched.New(opts.Jobs, sopts...),
	}, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

func (a *app) resolve(ctx context.Context, s *session) (*config.Record, task.Status, error) {
	prober := &config.SystemProber{Cmd: a.exec, Scratch: filepath.Join(s.opts.BuildDir, "probe")}
	return config.NewResolver(s.runner, prober, a.log).Resolve(ctx, s.opts)
}

func (a *app) modules(opts config.Options) ([]module.Spec, error) {
	return module.Load(filepath.Join(opts.SourceDir, module.FileName))
}

func (a *app) configure(ctx context.Context, args []string) error {
	opts, err := a.parse("configure", config.FlagsConfigure, args, nil)
	if err != nil {
		return err
	}
	mods, err := a.modules(opts)
	if err != nil {
		return err
	}
	s, err := a.open(opts, false)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, status, err := a.resolve(ctx, s)
	if err != nil {
		return err
	}
	if status == task.Hit {
		a.log.Note("Options unchanged since the last configure, reusing its results.")
	}
	if err := opts.Save(filepath.Join(opts.BuildDir, config.SavedFile)); err != nil {
		return fmt.Errorf("save options: %w", err)
	}
	config.PrintSummary(a.log, rec, mods)
	return nil
}

// pipeline resolves the configuration and returns a ready build.
func (a *app) pipeline(ctx context.Context, s *session) (*build.Pipeline, error) {
	mods, err := a.modules(s.opts)
	if err != nil {
		return nil, err
	}
	rec, status, err := a.resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	if status == task.Ran {
		config.PrintSummary(a.log, rec, mods)
	}
	return &build.Pipeline{
		Rec:       rec,
		Modules:   mods,
		SourceDir: s.opts.SourceDir,
		BuildDir:  s.opts.BuildDir,
		Prefix:    s.opts.Prefix,
		Runner:    s.runner,
		Sched:     s.sched,
		Cmd:       a.exec,
		Log:       a.log,
	}, nil
}

func (a *app) runBuild(ctx context.Context, p *build.Pipeline) error {
	start := time.Now()
	before := p.Runner.Stats()
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	st := p.Runner.Stats()
	a.log.Arrow("Built %d install entries in %s (%d tasks ran, %d cached)",
		len(res.Records), time.Since(start).Round(time.Millisecond),
		st.Ran-before.Ran, st.Hits-before.Hits+st.Memo-before.Memo)
	return nil
}

func (a *app) build(ctx context.Context, args []string) error {
	var progress bool
	opts, err := a.parse("build", config.FlagsBuild, args, func(fs *flag.FlagSet) {
		fs.BoolVar(&progress, "progress", false, "Show progress bars")
	})
	if err != nil {
		return err
	}
	s, err := a.open(opts, progress)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := a.pipeline(ctx, s)
	if err != nil {
		return err
	}
	return a.runBuild(ctx, p)
}

func (a *app) watch(ctx context.Context, args []string) error {
	opts, err := a.parse("watch", config.FlagsBuild, args, nil)
	if err != nil {
		return err
	}
	s, err := a.open(opts, false)
	if err != nil {
		return err
	}
	defer s.Close()

	w := &watch.Watcher{Root: opts.SourceDir, Dirs: build.SourceDirs, Log: a.log}
	return w.Run(ctx, func(ctx context.Context) error {
		// A fresh runner per round: the memo only lives for one build.
		s.runner = task.NewRunner(s.store, a.log)
		p, err := a.pipeline(ctx, s)
		if err != nil {
			return err
		}
		return a.runBuild(ctx, p)
	})
}

// hooks returns the service hooks for the configured host. systemctl is
// only looked up when auto_service is set. Hooks are best-effort, so a
// build dir that cannot be opened or resolved disables them with a
// warning instead of failing the command.
func (a *app) hooks(ctx context.Context, opts config.Options) install.Hooks {
	h := install.Hooks{Enabled: opts.AutoService, Cmd: a.exec, Log: a.log}
	if !h.Enabled {
		return h
	}
	systemctl, err := a.systemctl(ctx, opts)
	if err != nil {
		a.log.Warn("Skipping service hooks: %v", err)
		h.Enabled = false
		return h
	}
	h.Systemctl = systemctl
	return h
}

func (a *app) systemctl(ctx context.Context, opts config.Options) (string, error) {
	s, err := a.open(opts, false)
	if err != nil {
		return "", err
	}
	defer s.Close()
	rec, _, err := a.resolve(ctx, s)
	if err != nil {
		return "", err
	}
	return rec.Systemctl, nil
}

func (a *app) install(ctx context.Context, args []string) error {
	opts, err := a.parse("install", config.FlagsInstall, args, nil)
	if err != nil {
		return err
	}
	recs, err := install.Load(opts.BuildDir)
	if err != nil {
		return err
	}
	h := a.hooks(ctx, opts)

	h.PreInstall(ctx)
	if err := install.Install(recs, opts.DestDir, a.log); err != nil {
		return err
	}
	h.PostInstall(ctx)
	return nil
}

func (a *app) hook(ctx context.Context, name string, args []string) error {
	opts, err := a.parse(name, 0, args, nil)
	if err != nil {
		return err
	}
	h := a.hooks(ctx, opts)
	if name == "pre_install" {
		h.PreInstall(ctx)
	} else {
		h.PostInstall(ctx)
	}
	return nil
}

func (a *app) manifest(args []string) error {
	opts, err := a.parse("manifest", 0, args, nil)
	if err != nil {
		return err
	}
	recs, err := install.Load(opts.BuildDir)
	if err != nil {
		return err
	}
	return console.RunPager(os.Stdout, "ubuild manifest", manifest.Lines(recs))
}

func (a *app) dist(args []string) error {
	var format, out string
	opts, err := a.parse("dist", 0, args, func(fs *flag.FlagSet) {
		fs.StringVar(&format, "format", "zst", "Compression: zst, gz or xz")
		fs.StringVar(&out, "o", "", "Output file (default <build-dir>/uprocd.tar.<format>)")
	})
	if err != nil {
		return err
	}
	f, err := install.ParseFormat(format)
	if err != nil {
		return err
	}
	if out == "" {
		out = filepath.Join(opts.BuildDir, "uprocd"+f.Ext())
	}
	recs, err := install.Load(opts.BuildDir)
	if err != nil {
		return err
	}
	if err := install.Dist(out, recs, f); err != nil {
		return err
	}
	a.log.Arrow("Wrote %s (%d entries)", out, len(recs))
	return nil
}

func (a *app) cache(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: ubuild cache stats|clean|push|pull")
	}
	sub := args[0]
	opts, err := a.parse("cache "+sub, 0, args[1:], nil)
	if err != nil {
		return err
	}
	s, err := a.open(opts, false)
	if err != nil {
		return err
	}
	defer s.Close()

	switch sub {
	case "stats":
		st, err := s.store.Stats()
		if err != nil {
			return err
		}
		a.log.Info("%s: %d entries, %.1f KiB", s.store.Dir(), st.Entries, float64(st.Bytes)/1024)
		return nil
	case "clean":
		if err := s.store.Clean(); err != nil {
			return err
		}
		a.log.Arrow("Cache cleared")
		return nil
	case "push", "pull":
		bucket, err := remote.NewS3Bucket(ctx, opts.Remote, a.debug)
		if err != nil {
			return err
		}
		m := &remote.Mirror{Store: s.store, Bucket: bucket, Prefix: opts.Remote.Prefix, Sched: s.sched, Log: a.log}
		var n int
		if sub == "push" {
			n, err = m.Push(ctx)
		} else {
			n, err = m.Pull(ctx)
		}
		if err != nil {
			return err
		}
		a.log.Arrow("%s: %d entries", sub, n)
		return nil
	}
	return fmt.Errorf("unknown cache command %q", sub)
}

func (a *app) genModules(ctx context.Context, args []string) error {
	var url, out string
	var timeout time.Duration
	opts, err := a.parse("gen-modules", 0, args, func(fs *flag.FlagSet) {
		fs.StringVar(&url, "url", pymods.IndexURL, "Python library index to scrape")
		fs.StringVar(&out, "o", "", "Output file (default "+pymods.Output+" in the source dir)")
		fs.DurationVar(&timeout, "timeout", time.Minute, "Give up scraping after this long")
	})
	if err != nil {
		return err
	}
	if out == "" {
		out = filepath.Join(opts.SourceDir, pymods.Output)
	}
	n, err := pymods.Generate(ctx, url, out, timeout)
	if err != nil {
		return err
	}
	a.log.Arrow("Wrote %d modules to %s", n, out)
	return nil
}
