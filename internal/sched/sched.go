// Package sched runs independent build tasks concurrently with a bounded
// degree of parallelism.
package sched

import (
	"context"
	"io"
	"os"
	"runtime"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// Scheduler holds the parallelism limit and progress settings shared by
// every Map call of one invocation.
type Scheduler struct {
	jobs     int
	progress bool
	out      io.Writer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithProgress draws a progress bar per Map on w when w is a terminal.
func WithProgress(w io.Writer) Option {
	return func(s *Scheduler) {
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			s.progress = true
			s.out = w
		}
	}
}

// New returns a Scheduler running at most jobs items at once per Map.
// jobs <= 0 means one per CPU.
func New(jobs int, opts ...Option) *Scheduler {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	s := &Scheduler{jobs: jobs}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Jobs returns the per-Map parallelism limit.
func (s *Scheduler) Jobs() int {
	return s.jobs
}

// Map applies fn to every item concurrently and returns the results in
// input order. Once an item fails no further items are started, in-flight
// items see a cancelled context, and the first error is returned. Map may
// be called from inside fn; each call has its own limit.
func Map[T, R any](ctx context.Context, s *Scheduler, label string, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	var bar *progressbar.ProgressBar
	if s.progress && len(items) > 1 {
		bar = progressbar.NewOptions(len(items),
			progressbar.OptionSetWriter(s.out),
			progressbar.OptionSetDescription(label),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.jobs)
	for i, item := range items {
		// SetLimit makes Go block, so this check sees a failure from any
		// item that finished while we waited for a slot.
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The caller's own cancellation also counts as failure.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Each is Map for functions without a result.
func Each[T any](ctx context.Context, s *Scheduler, label string, items []T, fn func(context.Context, T) error) error {
	_, err := Map(ctx, s, label, items, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	return err
}
