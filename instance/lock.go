package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/rogpeppe/go-internal/lockedfile"
)

// Lock guarantees a single routing process per user session. A second
// process would treat the first one's virtual devices as leftovers and
// unload them.
type Lock struct {
	f    *lockedfile.File
	path string
}

// DefaultPath returns the lock location under the XDG runtime directory
func DefaultPath(appName string) (string, error) {
	path, err := xdg.RuntimeFile(filepath.Join(appName, "routing.lock"))
	if err != nil {
		return "", fmt.Errorf("failed to get runtime file path: %w", err)
	}
	return path, nil
}

// Acquire takes the lock at path, waiting until ctx is done if another
// process holds it.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	cf := make(chan *lockedfile.File)
	cerr := make(chan error)
	go func() {
		f, err := lockedfile.Create(path)
		if err != nil {
			cerr <- err
		} else {
			cf <- f
		}
	}()

	select {
	case f := <-cf:
		// Owner details are only a debugging aid.
		fmt.Fprintf(f, "PID=%d\n", os.Getpid())
		return &Lock{f: f, path: path}, nil

	case err := <-cerr:
		return nil, err

	case <-ctx.Done():
		// The open may still succeed later; release it if it does.
		go func() {
			select {
			case <-cerr:
			case f := <-cf:
				f.Close()
			}
		}()
		return nil, fmt.Errorf("another instance holds %s: %w", path, ctx.Err())
	}
}

// Path returns the lock file location
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return fmt.Errorf("lock not held")
	}
	err := l.f.Close()
	l.f = nil
	return err
}
