// Package certificate creates, stores and reloads TLS certificates for
// Gemini servers.
package certificate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// DefaultReloadDelay is how long Watch waits for a burst of file changes
// to settle before reloading.
const DefaultReloadDelay = 500 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	// Delay debounces reloads. Zero means DefaultReloadDelay.
	Delay time.Duration

	// Logger receives reload errors. The zero value discards them.
	Logger logr.Logger

	// OnReload, if not nil, is called after every reload.
	OnReload func(error)
}

// Watch reloads the store from its path whenever a certificate or key file
// there is written, created or renamed. It blocks until ctx is done.
//
// Certificates replaced on disk, by an ACME client for example, are picked
// up by new connections without restarting the server.
func (s *Store) Watch(ctx context.Context, opts WatchOptions) error {
	path := s.Path()
	if path == "" {
		return fmt.Errorf("certificate: store has no path to watch")
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		return fmt.Errorf("watching directory %s: %w", path, err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isCertificateEvent(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}

		case <-timerC(timer):
			err := s.Load(path)
			if err != nil {
				logger.Error(err, "reloading certificates", "path", path)
			} else {
				logger.V(1).Info("certificates reloaded", "path", path)
			}
			if opts.OnReload != nil {
				opts.OnReload(err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error(err, "watching certificates", "path", path)
		}
	}
}

func isCertificateEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	return ext == ".crt" || ext == ".key"
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
