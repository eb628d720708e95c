package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	logx "chatwatch/pkg/logx"
)

// WakeSource nudges the detection loop. Implementations send on wake without
// blocking; the loop coalesces bursts, so dropped nudges while a cycle is
// already pending are harmless.
type WakeSource interface {
	Name() string
	Run(ctx context.Context, wake chan<- struct{}) error
}

func nudge(wake chan<- struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}

// ---- file watch ----

// FileWake watches the directory holding the database and nudges on writes
// to the database file or its WAL/journal siblings. Watching the directory
// (not the file) survives atomic replaces of the file itself.
type FileWake struct {
	// Path of the observed database file.
	Path string
	// Debounce collapses a write burst into one nudge. 0 means 100ms.
	Debounce time.Duration
	Log      logx.Logger
}

func (w *FileWake) Name() string { return "wake.file" }

func (w *FileWake) Run(ctx context.Context, wake chan<- struct{}) error {
	path := strings.TrimSpace(w.Path)
	if path == "" {
		return errors.New("file wake: path is required")
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file wake: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("file wake: watch %s: %w", dir, err)
	}

	base := filepath.Base(path)
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("file wake: watcher closed")
			}
			if !relatedToDB(ev.Name, base) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("file wake: watcher closed")
			}
			// Returning lets the supervisor restart the watcher with backoff.
			return fmt.Errorf("file wake: %w", err)
		case <-timer.C:
			nudge(wake)
		}
	}
}

// relatedToDB matches the database file and its sidecar files.
func relatedToDB(evPath, base string) bool {
	name := filepath.Base(evPath)
	switch name {
	case base, base + "-wal", base + "-shm", base + "-journal":
		return true
	}
	return false
}

// ---- timer backstop ----

// TickerWake nudges at a fixed interval. It is the backstop for platforms
// or filesystems where the file watch misses writes.
type TickerWake struct {
	Interval time.Duration
}

func (w *TickerWake) Name() string { return "wake.ticker" }

func (w *TickerWake) Run(ctx context.Context, wake chan<- struct{}) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			nudge(wake)
		}
	}
}

// ---- cron schedule ----

// CronWake nudges on a standard 5-field cron schedule, for deployments that
// want detection aligned to wall-clock windows rather than a free interval.
type CronWake struct {
	Spec string

	sched cron.Schedule
}

func NewCronWake(spec string) (*CronWake, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("cron wake: parse %q: %w", spec, err)
	}
	return &CronWake{Spec: spec, sched: sched}, nil
}

func (w *CronWake) Name() string { return "wake.cron" }

func (w *CronWake) Run(ctx context.Context, wake chan<- struct{}) error {
	sched := w.sched
	if sched == nil {
		var err error
		sched, err = cron.ParseStandard(w.Spec)
		if err != nil {
			return fmt.Errorf("cron wake: parse %q: %w", w.Spec, err)
		}
	}
	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			nudge(wake)
		}
	}
}
