// Package daemon keeps the bridge running.
//
// The daemon:
//  1. Runs a full inbound and outbound pass on start
//  2. Watches the inbound directory and runs an inbound pass once file
//     activity settles
//  3. Runs an outbound pass on a fixed interval
//  4. Shuts down when its context is cancelled
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/tracos/syncbridge/internal/bridge"
)

// Runner runs the sync passes. *bridge.Syncer satisfies it.
type Runner interface {
	Inbound(ctx context.Context) (bridge.Report, error)
	Outbound(ctx context.Context) (bridge.Report, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// OutboundInterval is how often unsynced records are pushed out.
	OutboundInterval time.Duration

	// DebounceInterval is how long the inbound dir must stay quiet before an
	// inbound pass runs. Bursts of writes collapse into one pass.
	DebounceInterval time.Duration

	// Match reports whether a path relative to the inbound dir is an inbound
	// file. Nil matches every .json file.
	Match func(rel string) bool

	// OnPass is called after every pass.
	OnPass func(rep bridge.Report, err error)

	Logger zerolog.Logger
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		OutboundInterval: 30 * time.Second,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           zerolog.Nop(),
	}
}

// Daemon watches the inbound directory and schedules sync passes.
type Daemon struct {
	runner     Runner
	inboundDir string
	config     Config
	log        zerolog.Logger

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon for runner watching inboundDir. Use Start to run it.
func New(runner Runner, inboundDir string, config Config) (*Daemon, error) {
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if inboundDir == "" {
		return nil, errors.New("inbound dir cannot be empty")
	}
	defaults := DefaultConfig()
	if config.OutboundInterval <= 0 {
		config.OutboundInterval = defaults.OutboundInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.Match == nil {
		config.Match = func(rel string) bool { return filepath.Ext(rel) == ".json" }
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		runner:      runner,
		inboundDir:  filepath.Clean(inboundDir),
		config:      config,
		log:         config.Logger.With().Str("cmp", "daemon").Logger(),
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs an initial full sync, then watches and schedules passes until
// ctx is cancelled or Stop is called. A failed initial pass is logged, not
// fatal; a missing inbound directory is.
func (d *Daemon) Start(ctx context.Context) error {
	d.log.Info().Str("inbound", d.inboundDir).Dur("outbound_interval", d.config.OutboundInterval).Msg("starting daemon")

	if err := d.watchTree(d.inboundDir); err != nil {
		_ = d.Stop()
		return fmt.Errorf("failed to watch inbound directory: %w", err)
	}

	d.runInbound(ctx)
	d.runOutbound(ctx)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue(ctx)
	go d.pushOutbound(ctx)

	select {
	case <-ctx.Done():
		d.log.Info().Msg("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down and waits for in-flight passes.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.log.Info().Msg("stopping daemon")
		d.cancel()
		if err := d.watcher.Close(); err != nil {
			d.log.Warn().Err(err).Msg("error closing watcher")
		}
		d.wg.Wait()
		d.log.Info().Msg("daemon stopped")
	})
	return nil
}

// watchTree adds root and every directory below it to the watcher.
func (d *Daemon) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		return d.watcher.Add(path)
	})
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := d.watchTree(event.Name); err != nil {
						d.log.Warn().Err(err).Str("dir", event.Name).Msg("failed to watch new directory")
					}
					d.queueChange(event.Name)
					continue
				}
			}

			rel, err := filepath.Rel(d.inboundDir, event.Name)
			if err != nil || !d.config.Match(rel) {
				continue
			}
			d.log.Debug().Str("op", event.Op.String()).Str("file", rel).Msg("file event")
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.settled() {
				d.runInbound(ctx)
			}
		}
	}
}

// settled drains the queue once no change is younger than the debounce
// interval. It reports whether anything was drained.
func (d *Daemon) settled() bool {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	if len(d.changeQueue) == 0 {
		return false
	}
	now := time.Now()
	for _, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			return false
		}
	}
	d.log.Debug().Int("changes", len(d.changeQueue)).Msg("inbound directory settled")
	clear(d.changeQueue)
	return true
}

func (d *Daemon) pushOutbound(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.OutboundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOutbound(ctx)
		}
	}
}

func (d *Daemon) runInbound(ctx context.Context) {
	rep, err := d.runner.Inbound(ctx)
	d.report(rep, err)
}

func (d *Daemon) runOutbound(ctx context.Context) {
	rep, err := d.runner.Outbound(ctx)
	d.report(rep, err)
}

func (d *Daemon) report(rep bridge.Report, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		d.log.Error().Err(err).Str("direction", string(rep.Direction)).Msg("sync pass failed")
	}
	if d.config.OnPass != nil {
		d.config.OnPass(rep, err)
	}
}
