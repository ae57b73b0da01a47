// Package stock provides ready-made actions for common work: placeholders,
// sleeping, filesystem manipulation and calling external programs.
package stock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aristath/actiontree/internal/scheduler"
)

// Kit holds the shared state stock actions coordinate through. The zero Kit
// works: actions then take no path locks, track no processes and use no
// circuit breakers.
type Kit struct {
	Locks     *PathLocks
	Processes *ProcessManager
	Breakers  *CircuitBreakerRegistry
}

// Null returns an action that does nothing. It is useful to group several
// dependencies under one node.
func Null() *scheduler.Action {
	return scheduler.NewAction("", nil)
}

// Sleep returns an action that waits for d, or until its context is done.
func Sleep(d time.Duration) *scheduler.Action {
	return scheduler.NewAction("sleep "+d.String(), func(ctx context.Context, _ io.Writer) (any, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// TouchFile returns an action that creates name if it does not exist and
// updates its modification time. The parent directory must exist.
func (k *Kit) TouchFile(name string) *scheduler.Action {
	return scheduler.NewAction("touch "+name, func(context.Context, io.Writer) (any, error) {
		defer k.Locks.Acquire(name)()

		f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("touching %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("touching %s: %w", name, err)
		}
		now := time.Now()
		if err := os.Chtimes(name, now, now); err != nil {
			return nil, fmt.Errorf("touching %s: %w", name, err)
		}
		return nil, nil
	})
}

// CreateDirectory returns an action that creates name and any missing
// parents. A directory that already exists is not an error.
func (k *Kit) CreateDirectory(name string) *scheduler.Action {
	return scheduler.NewAction("mkdir "+name, func(context.Context, io.Writer) (any, error) {
		defer k.Locks.Acquire(name)()

		if err := os.MkdirAll(name, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", name, err)
		}
		return nil, nil
	})
}

// DeleteFile returns an action that removes the file name. A missing file is
// not an error.
func (k *Kit) DeleteFile(name string) *scheduler.Action {
	return scheduler.NewAction("rm "+name, func(context.Context, io.Writer) (any, error) {
		defer k.Locks.Acquire(name)()

		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("deleting %s: %w", name, err)
		}
		return nil, nil
	})
}

// CopyFile returns an action that copies the file src to dst, keeping src's
// permission bits. If dst is an existing directory, the copy is placed inside
// it under src's base name.
func (k *Kit) CopyFile(src, dst string) *scheduler.Action {
	return scheduler.NewAction("cp "+src+" "+dst, func(context.Context, io.Writer) (any, error) {
		target := copyTarget(src, dst)
		defer k.Locks.Acquire(src, target)()

		if err := copyFile(src, target); err != nil {
			return nil, fmt.Errorf("copying %s to %s: %w", src, dst, err)
		}
		return nil, nil
	})
}

// copyTarget is the file a copy of src to dst writes.
func copyTarget(src, dst string) string {
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		return filepath.Join(dst, filepath.Base(src))
	}
	return dst
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CallSubprocess returns an action that runs argv[0] with the remaining
// arguments and streams its stdout and stderr into the action's output.
// A non-zero exit status fails the action. When the Kit has breakers, calls to
// the same program share one breaker.
func (k *Kit) CallSubprocess(argv ...string) *scheduler.Action {
	return scheduler.NewAction(strings.Join(argv, " "), k.Subprocess(argv...))
}

// Subprocess is the behavior of CallSubprocess, for callers that wrap it
// before building the action.
func (k *Kit) Subprocess(argv ...string) scheduler.Func {
	argv = append([]string(nil), argv...)
	fn := func(ctx context.Context, out io.Writer) (any, error) {
		if len(argv) == 0 {
			return nil, errors.New("empty command")
		}
		cmd := newCommand(ctx, argv[0], argv[1:]...)
		if err := streamCommand(cmd, out, k.Processes); err != nil {
			return nil, fmt.Errorf("%s: %w", argv[0], err)
		}
		return nil, nil
	}

	if k.Breakers == nil || len(argv) == 0 {
		return fn
	}
	return Guarded(k.Breakers.Get(filepath.Base(argv[0])), fn)
}
