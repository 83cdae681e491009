package build

import (
	"context"
	"fmt"
	"path/filepath"

	"ubuild/internal/console"
	"ubuild/internal/fsutil"
	"ubuild/internal/task"
)

type linkResult struct {
	Link string `json:"link"`
	Dest string `json:"dest"`
}

// Symlink creates link pointing at target through a relative path and
// returns link. The task is keyed on both paths and depends on target's
// contents.
//
// Links carry no content of their own, so a cached or memoized result
// cannot prove the link on disk still points where it should: unless the
// task ran, the link is replaced again from the cached relative
// destination.
func Symlink(ctx context.Context, r *task.Runner, log *console.Logger, target, link string) (string, error) {
	spec := task.Spec{
		Op:      "symlink",
		Args:    []string{target, link},
		Inputs:  []string{target},
		Outputs: []string{link},
	}
	res, status, err := task.DoStatus(ctx, r, spec, func(ctx context.Context, _ *task.Recorder) (linkResult, error) {
		dest, err := filepath.Rel(filepath.Dir(link), target)
		if err != nil {
			return linkResult{}, err
		}
		log.Step("symlink", fmt.Sprintf("%s -> %s", link, dest))
		if err := fsutil.Symlink(dest, link); err != nil {
			return linkResult{}, err
		}
		return linkResult{Link: link, Dest: dest}, nil
	})
	if err != nil {
		return "", err
	}
	if status != task.Ran {
		log.Debugf("symlink %s -> %s (%s)", res.Link, res.Dest, status)
		if err := fsutil.Symlink(res.Dest, res.Link); err != nil {
			return "", fmt.Errorf("symlink %s: %w", res.Link, err)
		}
	}
	return res.Link, nil
}
