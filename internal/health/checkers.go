package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// CacheDir returns a checker verifying that the speech cache directory
// exists and is writable. A server that cannot persist synthesized audio
// would hammer the upstream provider, so it is reported not ready.
func CacheDir(dir string) Checker {
	return Checker{
		Name: "cache_dir",
		Check: func(_ context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				return fmt.Errorf("stat %s: %w", dir, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			probe, err := os.CreateTemp(dir, ".readyz-*")
			if err != nil {
				return fmt.Errorf("not writable: %w", err)
			}
			probe.Close()
			os.Remove(probe.Name())
			return nil
		},
	}
}

// Pinger is anything with a context-aware liveness probe, such as a pgx
// connection pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a checker delegating to p's Ping method.
func Ping(name string, p Pinger) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// FileExists returns a checker verifying that a required file is present,
// e.g. a TLS certificate.
func FileExists(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			if _, err := os.Stat(filepath.Clean(path)); err != nil {
				return err
			}
			return nil
		},
	}
}
