package build

import (
	"context"
	"fmt"

	"ubuild/internal/console"
	"ubuild/internal/fsutil"
	"ubuild/internal/task"
)

// Copy copies src to dst as a cached task.
func Copy(ctx context.Context, r *task.Runner, log *console.Logger, src, dst string) (string, error) {
	spec := task.Spec{
		Op:      "copy",
		Args:    []string{src, dst},
		Inputs:  []string{src},
		Outputs: []string{dst},
	}
	return task.Do(ctx, r, spec, func(ctx context.Context, _ *task.Recorder) (string, error) {
		log.Step("copy", fmt.Sprintf("%s -> %s", src, dst))
		if err := fsutil.CopyFile(src, dst); err != nil {
			return "", err
		}
		return dst, nil
	})
}
