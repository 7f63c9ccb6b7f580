package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ReloadableFields is the subset of Config that Reloader compares and
// reports to its callback on a hot reload: directory, compression, and
// the introspection toggle. Reloader itself reconfigures nothing; acting
// on the reported fields is up to the callback. Identity-affecting
// fields (Sink.ID, Sink.Variant) require a process restart, so a changed
// file that only touches those fields produces no log line and no
// callback.
type ReloadableFields struct {
	ContainerFileDirectory   string
	ContainerFileCompression string
	IntrospectEnabled        bool
}

func fieldsOf(c *Config) ReloadableFields {
	return ReloadableFields{
		ContainerFileDirectory:   c.ContainerFile.Directory,
		ContainerFileCompression: c.ContainerFile.Compression,
		IntrospectEnabled:        c.Introspect.Enabled,
	}
}

// Reloader watches a config file and invokes a callback with the
// reloadable field subset whenever it changes on disk, debounced so a
// burst of writes (editors that write-then-rename) produces one
// reload. Grounded on the teacher's ConfigReloader, trimmed to the
// fields this library is allowed to change without a restart.
type Reloader struct {
	path     string
	debounce time.Duration
	logger   *logrus.Logger
	onChange func(ReloadableFields)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	current ReloadableFields
}

// NewReloader builds a Reloader for the config file at path. current is
// the already-loaded config's reloadable fields, used as the baseline
// to diff subsequent reloads against.
func NewReloader(path string, current *Config, logger *logrus.Logger, onChange func(ReloadableFields)) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config: watch %q: %w", filepath.Dir(path), err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Reloader{
		path:     path,
		debounce: 200 * time.Millisecond,
		logger:   logger,
		onChange: onChange,
		watcher:  watcher,
		current:  fieldsOf(current),
	}, nil
}

// Start begins watching in the background.
func (r *Reloader) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop halts watching and waits for the background goroutine to exit.
func (r *Reloader) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	_ = r.watcher.Close()
	r.wg.Wait()
}

func (r *Reloader) run(ctx context.Context) {
	defer r.wg.Done()

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(r.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.WithError(err).Warn("config: watcher error")
		case <-fire:
			r.reload()
		}
	}
}

func (r *Reloader) reload() {
	cfg, err := Load(r.path)
	if err != nil {
		r.logger.WithError(err).Warn("config: reload failed, keeping previous config")
		return
	}

	next := fieldsOf(cfg)

	r.mu.Lock()
	changed := next != r.current
	if changed {
		r.current = next
	}
	r.mu.Unlock()

	if !changed {
		return
	}

	r.logger.WithFields(logrus.Fields{
		"directory":   next.ContainerFileDirectory,
		"compression": next.ContainerFileCompression,
		"introspect":  next.IntrospectEnabled,
	}).Info("config: reloaded")

	if r.onChange != nil {
		r.onChange(next)
	}
}
