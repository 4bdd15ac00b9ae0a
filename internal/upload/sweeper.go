package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/afero"
)

const (
	DefaultMaxAge        = time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// RetentionPolicy controls how long uploads are kept and how often the
// upload directory is swept.
type RetentionPolicy struct {
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// DefaultRetentionPolicy keeps uploads for an hour and sweeps every ten
// minutes.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxAge:        DefaultMaxAge,
		SweepInterval: DefaultSweepInterval,
	}
}

// Validate checks that both durations are positive.
func (p RetentionPolicy) Validate() error {
	if p.MaxAge <= 0 {
		return errors.New("retention max age must be positive")
	}
	if p.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	return nil
}

// Forgetter is told about every file the sweeper removes, so that records
// kept elsewhere can be dropped as well.
type Forgetter interface {
	Forget(ctx context.Context, name string) error
}

// SweepResult summarises a single pass over the upload directory.
type SweepResult struct {
	Removed []string
	Kept    int
	Failed  int
}

// SweeperConfig holds everything a Sweeper needs.
type SweeperConfig struct {
	Fs     afero.Fs
	Dir    string
	Policy RetentionPolicy
	Clock  clock.Clock

	// Forgetters are notified of each removed file. Their errors are logged.
	Forgetters []Forgetter

	// OnSweep, when set, is called after every pass.
	OnSweep func(SweepResult)
}

// Sweeper deletes uploads older than the retention window.
type Sweeper struct {
	cfg SweeperConfig
}

// NewSweeper validates cfg and returns a Sweeper. A nil Clock defaults to
// the wall clock.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Fs == nil {
		return nil, errors.New("sweeper filesystem must not be nil")
	}
	if cfg.Dir == "" {
		return nil, errors.New("sweeper dir must not be empty")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	return &Sweeper{cfg: cfg}, nil
}

// Sweep performs one pass over the upload directory, removing every regular
// file whose modification time is more than MaxAge before now. Failures on
// individual files are logged and counted but never abort the pass; only a
// failure to list the directory is returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	now := s.cfg.Clock.Now()

	entries, err := afero.ReadDir(s.cfg.Fs, s.cfg.Dir)
	if err != nil {
		return result, fmt.Errorf("list upload dir: %w", err)
	}

	for _, info := range entries {
		if !info.Mode().IsRegular() {
			continue
		}

		age := now.Sub(info.ModTime())
		if age <= s.cfg.Policy.MaxAge {
			result.Kept++
			continue
		}

		name := info.Name()
		path := filepath.Join(s.cfg.Dir, name)
		if err := s.cfg.Fs.Remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Removed by someone else since the listing.
				continue
			}
			slog.Warn("Failed to remove expired upload", "path", path, "error", err)
			result.Failed++
			continue
		}

		slog.Info("Removed expired upload", "name", name, "age", age.Truncate(time.Second))
		result.Removed = append(result.Removed, name)

		for _, f := range s.cfg.Forgetters {
			if err := f.Forget(ctx, name); err != nil {
				slog.Warn("Failed to forget expired upload", "name", name, "error", err)
			}
		}
	}

	return result, nil
}

// Run sweeps immediately and then once every SweepInterval until ctx is
// cancelled. Cancellation interrupts the wait between passes and is not
// reported as an error.
func (s *Sweeper) Run(ctx context.Context) error {
	slog.Info("Starting upload sweeper",
		"dir", s.cfg.Dir,
		"max_age", s.cfg.Policy.MaxAge,
		"interval", s.cfg.Policy.SweepInterval,
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		result, err := s.Sweep(ctx)
		if err != nil {
			slog.Warn("Upload sweep failed", "dir", s.cfg.Dir, "error", err)
		}
		if s.cfg.OnSweep != nil {
			s.cfg.OnSweep(result)
		}

		select {
		case <-ctx.Done():
			slog.Info("Stopping upload sweeper", "dir", s.cfg.Dir)
			return nil
		case <-s.cfg.Clock.After(s.cfg.Policy.SweepInterval):
		}
	}
}

// Handle controls a sweeper started with Start.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start runs the sweeper in a new goroutine. The returned Handle stops it.
func (s *Sweeper) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		h.err = s.Run(ctx)
	}()

	return h
}

// Done is closed once the sweeper goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stop cancels the sweeper and waits for it to exit. It is safe to call more
// than once.
func (h *Handle) Stop() error {
	h.cancel()
	<-h.done
	return h.err
}
