// Package task runs units of build work at most once: a task whose inputs
// are unchanged and whose outputs still exist is answered from the cache
// store instead of executing again.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"ubuild/internal/cache"
	"ubuild/internal/console"
)

// Spec declares a task's identity and the artifacts it is known to touch
// before it runs.
type Spec struct {
	// Op names the operation, e.g. "cc.compile".
	Op string
	// Args are the operation's parameters in a canonical order.
	Args []string
	// Inputs are source files whose contents the result depends on.
	Inputs []string
	// Outputs are files the operation produces.
	Outputs []string
}

// Key returns the call key of s.
func (s Spec) Key() string {
	return cache.Key(s.Op, s.Args, s.Inputs)
}

// Status tells how a result was obtained.
type Status int

const (
	// Ran means the operation executed.
	Ran Status = iota
	// Hit means a valid entry from a previous invocation was reused.
	Hit
	// Memo means the operation already completed in this invocation.
	Memo
)

func (s Status) String() string {
	switch s {
	case Ran:
		return "ran"
	case Hit:
		return "hit"
	case Memo:
		return "memo"
	}
	return "unknown"
}

// Error wraps a failed operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recorder lets a running operation declare dependencies it only learns
// about while executing, such as headers reported by the compiler.
type Recorder struct {
	mu      sync.Mutex
	inputs  []string
	outputs []string
}

// AddInputs declares additional input files.
func (r *Recorder) AddInputs(paths ...string) {
	r.mu.Lock()
	r.inputs = append(r.inputs, paths...)
	r.mu.Unlock()
}

// AddOutputs declares additional output files.
func (r *Recorder) AddOutputs(paths ...string) {
	r.mu.Lock()
	r.outputs = append(r.outputs, paths...)
	r.mu.Unlock()
}

// Stats counts how tasks were resolved during one invocation.
type Stats struct {
	Ran  int64
	Hits int64
	Memo int64
}

// Runner evaluates tasks against a cache store. One Runner corresponds to
// one build invocation: its memo and fingerprint cache are not persisted.
type Runner struct {
	store *cache.Store
	fp    *cache.Fingerprinter
	log   *console.Logger

	group singleflight.Group

	mu   sync.Mutex
	memo map[string]json.RawMessage

	ran, hits, memoHits atomic.Int64
}

// NewRunner returns a Runner backed by store.
func NewRunner(store *cache.Store, log *console.Logger) *Runner {
	if log == nil {
		log = console.Discard()
	}
	return &Runner{
		store: store,
		fp:    cache.NewFingerprinter(),
		log:   log,
		memo:  make(map[string]json.RawMessage),
	}
}

// Store returns the underlying cache store.
func (r *Runner) Store() *cache.Store {
	return r.store
}

// Stats reports counters accumulated so far.
func (r *Runner) Stats() Stats {
	return Stats{Ran: r.ran.Load(), Hits: r.hits.Load(), Memo: r.memoHits.Load()}
}

// Func is the side-effecting body of a task.
type Func[T any] func(ctx context.Context, rec *Recorder) (T, error)

// Do evaluates spec, executing fn only when no valid result exists.
func Do[T any](ctx context.Context, r *Runner, spec Spec, fn Func[T]) (T, error) {
	v, _, err := DoStatus(ctx, r, spec, fn)
	return v, err
}

// DoStatus is Do that also reports how the result was obtained.
func DoStatus[T any](ctx context.Context, r *Runner, spec Spec, fn Func[T]) (T, Status, error) {
	var zero T
	key := spec.Key()

	type outcome struct {
		raw    json.RawMessage
		status Status
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		r.mu.Lock()
		raw, ok := r.memo[key]
		r.mu.Unlock()
		if ok {
			r.memoHits.Add(1)
			return outcome{raw: raw, status: Memo}, nil
		}

		if raw, ok := r.lookup(key, spec); ok {
			r.remember(key, raw)
			r.hits.Add(1)
			return outcome{raw: raw, status: Hit}, nil
		}

		raw, err := r.execute(ctx, key, spec, func(ctx context.Context, rec *Recorder) (any, error) {
			return fn(ctx, rec)
		})
		if err != nil {
			return nil, err
		}
		r.remember(key, raw)
		r.ran.Add(1)
		return outcome{raw: raw, status: Ran}, nil
	})
	if err != nil {
		return zero, Ran, err
	}

	out := v.(outcome)
	status := out.status

	var result T
	if len(out.raw) > 0 {
		if err := json.Unmarshal(out.raw, &result); err != nil {
			return zero, status, &Error{Op: spec.Op, Err: fmt.Errorf("decoding result: %w", err)}
		}
	}
	return result, status, nil
}

func (r *Runner) remember(key string, raw json.RawMessage) {
	r.mu.Lock()
	r.memo[key] = raw
	r.mu.Unlock()
}

func (r *Runner) lookup(key string, spec Spec) (json.RawMessage, bool) {
	if r.store == nil {
		return nil, false
	}
	entry, ok := r.store.Lookup(key)
	if !ok {
		return nil, false
	}
	if fresh, reason := entry.Fresh(r.fp); !fresh {
		r.log.Debugf("%s: stale (%s)", spec.Op, reason)
		return nil, false
	}
	r.log.Debugf("%s: cached %s", spec.Op, cache.Identity(entry)[:12])
	return entry.Result, true
}

func (r *Runner) execute(ctx context.Context, key string, spec Spec, fn func(context.Context, *Recorder) (any, error)) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Declared inputs are stamped before the run: an edit made while the
	// operation executes must invalidate the entry, not be absorbed by it.
	declared, err := r.stamp(spec.Inputs)
	if err != nil {
		return nil, &Error{Op: spec.Op, Err: err}
	}

	rec := &Recorder{}
	result, err := fn(ctx, rec)
	if err != nil {
		return nil, &Error{Op: spec.Op, Err: err}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, &Error{Op: spec.Op, Err: fmt.Errorf("encoding result: %w", err)}
	}

	rec.mu.Lock()
	discovered := append([]string{}, rec.inputs...)
	outputs := dedupe(append(append([]string{}, spec.Outputs...), rec.outputs...))
	rec.mu.Unlock()

	for _, out := range outputs {
		if _, err := os.Lstat(out); err != nil {
			return nil, &Error{Op: spec.Op, Err: fmt.Errorf("declared output %s was not produced", out)}
		}
	}

	if r.store == nil {
		return raw, nil
	}

	seen := make(map[string]bool, len(declared))
	for _, s := range declared {
		seen[s.Path] = true
	}
	var extra []string
	for _, p := range dedupe(discovered) {
		if !seen[p] {
			extra = append(extra, p)
		}
	}
	extraStamps, err := r.stamp(extra)
	if err != nil {
		return nil, &Error{Op: spec.Op, Err: err}
	}
	stamps := append(declared, extraStamps...)

	entry := &cache.Entry{
		Key:     key,
		Op:      spec.Op,
		Args:    spec.Args,
		Inputs:  stamps,
		Outputs: outputs,
		Result:  raw,
	}
	if err := r.store.Put(entry); err != nil {
		// An unrecorded success only costs a rebuild next time.
		r.log.Warn("%s: could not record result: %v", spec.Op, err)
	}
	return raw, nil
}

func (r *Runner) stamp(paths []string) ([]cache.Stamp, error) {
	return r.fp.Stamp(dedupe(append([]string{}, paths...)))
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
