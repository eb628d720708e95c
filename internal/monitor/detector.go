package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatwatch/internal/chatdb"
	"chatwatch/internal/checkpoint"
	"chatwatch/internal/eventbus"
	"chatwatch/internal/message"
	"chatwatch/internal/runtime/supervisor"
	logx "chatwatch/pkg/logx"
)

// RowSource is the read side of the observed database.
// *chatdb.Source satisfies it.
type RowSource interface {
	FetchSince(ctx context.Context, sinceID int64, limit int) ([]chatdb.Row, error)
	MaxRowID(ctx context.Context) (int64, error)
}

// Normalizer maps a raw row to the canonical message.
type Normalizer interface {
	Normalize(r chatdb.Row) (message.Message, error)
}

// Admitter decides whether a normalized message reaches callbacks.
type Admitter interface {
	Admit(m message.Message) bool
}

// Options configures a Detector. Source and Normalizer are required; the
// rest default sensibly.
type Options struct {
	Source     RowSource
	Normalizer Normalizer
	Filter     Admitter         // nil admits everything
	Store      checkpoint.Store // nil disables persistence
	Bus        eventbus.Bus     // nil disables bus events
	Log        logx.Logger
	Wakes      []WakeSource

	// BatchSize caps rows fetched per cycle. A full batch immediately
	// re-arms the loop so a backlog drains without waiting for a wake.
	BatchSize int

	// StartupLookback, when set and no checkpoint exists, seeds the cursor
	// just before the first row inside the window instead of at the tail,
	// so recent history is delivered on first start. Requires a source that
	// can resolve timestamps to row ids; ignored otherwise.
	StartupLookback time.Duration

	// Backoff window for failed cycles (database briefly locked, file
	// mid-replace). Zero values take the defaults.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Detector owns the cursor and runs detection cycles one at a time.
//
// Concurrency model: all cycles execute on one goroutine fed by a
// buffered-1 wake channel, so overlapping wakes coalesce into at most one
// pending cycle and rows are always delivered in row-id order.
type Detector struct {
	src    RowSource
	norm   Normalizer
	filter Admitter
	store  checkpoint.Store
	bus    eventbus.Bus
	log    logx.Logger
	wakes  []WakeSource

	batch      int
	minBackoff time.Duration
	maxBackoff time.Duration
	lookback   time.Duration

	mu           sync.Mutex
	callbacks    []namedCallback
	errCallbacks []ErrorCallback
	cursor       checkpoint.Cursor
	running      bool

	state atomic.Int32

	wake chan struct{}
	sup  *supervisor.Supervisor
}

// rowLocator is the optional seed interface: sources that can resolve a
// timestamp to a row id enable the startup lookback window.
type rowLocator interface {
	FirstRowIDSince(ctx context.Context, t time.Time) (int64, error)
}

type namedCallback struct {
	name string
	fn   Callback
}

func New(opts Options) (*Detector, error) {
	if opts.Source == nil {
		return nil, errors.New("monitor: source is required")
	}
	if opts.Normalizer == nil {
		return nil, errors.New("monitor: normalizer is required")
	}
	d := &Detector{
		src:        opts.Source,
		norm:       opts.Normalizer,
		filter:     opts.Filter,
		store:      opts.Store,
		bus:        opts.Bus,
		log:        opts.Log,
		wakes:      opts.Wakes,
		batch:      opts.BatchSize,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		lookback:   opts.StartupLookback,
		wake:       make(chan struct{}, 1),
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	if d.batch <= 0 {
		d.batch = 200
	}
	if d.minBackoff <= 0 {
		d.minBackoff = 500 * time.Millisecond
	}
	if d.maxBackoff < d.minBackoff {
		d.maxBackoff = 30 * time.Second
	}
	return d, nil
}

// OnMessage registers a delivery callback. Callbacks run in registration
// order for each message. Must be called before Start.
func (d *Detector) OnMessage(name string, cb Callback) {
	if cb == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, namedCallback{name: name, fn: cb})
}

// OnError registers a callback for non-fatal monitoring errors. Must be
// called before Start.
func (d *Detector) OnError(cb ErrorCallback) {
	if cb == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errCallbacks = append(d.errCallbacks, cb)
}

// Cursor returns the current detection position.
func (d *Detector) Cursor() checkpoint.Cursor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

// State returns the detector lifecycle phase.
func (d *Detector) State() State {
	return State(d.state.Load())
}

// Start seeds the cursor and launches the detection loop and wake sources.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("monitor: already started")
	}
	d.running = true
	d.mu.Unlock()
	d.state.Store(int32(StateStarting))

	if err := d.seed(ctx); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		d.state.Store(int32(StateStopped))
		return err
	}

	d.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(d.log))
	for _, w := range d.wakes {
		w := w
		d.sup.GoRestart(w.Name(), func(ctx context.Context) error {
			return w.Run(ctx, d.wake)
		}, supervisor.WithRestartBackoff(time.Second, time.Minute))
	}
	d.sup.Go("monitor.loop", d.run)

	// Catch rows appended between seeding and the watchers arming.
	nudge(d.wake)
	d.state.Store(int32(StateRunning))
	return nil
}

// Stop cancels the loop and waits for it to drain.
func (d *Detector) Stop(ctx context.Context) error {
	d.mu.Lock()
	sup := d.sup
	d.running = false
	d.mu.Unlock()
	if sup == nil {
		d.state.Store(int32(StateStopped))
		return nil
	}
	d.state.Store(int32(StateStopping))
	err := sup.Stop(ctx)
	d.state.Store(int32(StateStopped))
	return err
}

// seed restores the persisted cursor, or starts at the current tail so only
// messages arriving after startup are delivered.
func (d *Detector) seed(ctx context.Context) error {
	if d.store != nil {
		c, ok, err := d.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("monitor: load checkpoint: %w", err)
		}
		if ok {
			d.mu.Lock()
			d.cursor = c
			d.mu.Unlock()
			d.log.Info("cursor restored",
				logx.Int64("last_seen_id", c.LastSeenID),
				logx.Int64("generation", c.Generation))
			return nil
		}
	}

	max, err := d.src.MaxRowID(ctx)
	if err != nil {
		return fmt.Errorf("monitor: seed cursor: %w", err)
	}
	seed := max
	if d.lookback > 0 {
		if loc, ok := d.src.(rowLocator); ok {
			first, err := loc.FirstRowIDSince(ctx, time.Now().Add(-d.lookback))
			if err != nil {
				return fmt.Errorf("monitor: seed lookback: %w", err)
			}
			if first > 0 && first-1 < seed {
				seed = first - 1
			}
		}
	}
	c := checkpoint.Cursor{LastSeenID: seed}
	d.mu.Lock()
	d.cursor = c
	d.mu.Unlock()
	if d.store != nil {
		if err := d.store.Save(ctx, c); err != nil {
			return fmt.Errorf("monitor: save seed cursor: %w", err)
		}
	}
	d.log.Info("cursor seeded", logx.Int64("last_seen_id", seed))
	return nil
}

func (d *Detector) run(ctx context.Context) error {
	backoff := d.minBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		}

		full, err := d.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := jitter(backoff)
			d.log.Warn("detection cycle failed",
				logx.Err(err), logx.Duration("backoff", wait))
			d.reportError(err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			backoff *= 2
			if backoff > d.maxBackoff {
				backoff = d.maxBackoff
			}
			nudge(d.wake)
			continue
		}
		backoff = d.minBackoff
		if full {
			// More rows likely remain; drain without waiting for a wake.
			nudge(d.wake)
		}
	}
}

// jitter adds up to 20% to wait so concurrent restarts don't align.
func jitter(wait time.Duration) time.Duration {
	j := int64(wait) / 5
	if j > 0 {
		wait += time.Duration(time.Now().UnixNano() % (j + 1))
	}
	return wait
}

// cycle runs one fetch/normalize/filter/dispatch pass. The returned bool is
// true when the batch came back full.
func (d *Detector) cycle(ctx context.Context) (bool, error) {
	started := time.Now()

	d.mu.Lock()
	cur := d.cursor
	d.mu.Unlock()

	max, err := d.src.MaxRowID(ctx)
	if err != nil {
		return false, fmt.Errorf("probe max id: %w: %w", ErrSourceUnavailable, err)
	}
	if max < cur.LastSeenID {
		old := cur.LastSeenID
		cur = checkpoint.Cursor{LastSeenID: 0, Generation: cur.Generation + 1}
		if err := d.commit(ctx, cur); err != nil {
			return false, err
		}
		d.log.Warn("source reset detected",
			logx.Int64("old_cursor", old),
			logx.Int64("max_row_id", max),
			logx.Int64("generation", cur.Generation))
		d.publish(EventSourceReset, SourceReset{
			OldCursor:  old,
			MaxRowID:   max,
			Generation: cur.Generation,
		})
		d.reportError(fmt.Errorf("%w: cursor %d rewound, generation %d",
			ErrSourceReset, old, cur.Generation))
	}

	rows, err := d.src.FetchSince(ctx, cur.LastSeenID, d.batch)
	if err != nil {
		return false, fmt.Errorf("fetch since %d: %w: %w", cur.LastSeenID, ErrSourceUnavailable, err)
	}

	sum := CycleSummary{Fetched: len(rows), Generation: cur.Generation}
	highest := cur.LastSeenID
	for _, r := range rows {
		if r.ID <= highest {
			continue
		}
		highest = r.ID

		m, err := d.norm.Normalize(r)
		if err != nil {
			sum.Skipped++
			d.log.Debug("row skipped", logx.Int64("row_id", r.ID), logx.Err(err))
			d.publish(EventRowSkipped, RowSkipped{RowID: r.ID, Reason: err.Error()})
			continue
		}
		if d.filter != nil && !d.filter.Admit(m) {
			sum.Filtered++
			continue
		}
		d.dispatch(m)
		sum.Dispatched++
	}

	// The cursor advances past filtered and skipped rows too; only rows never
	// fetched survive a restart.
	if highest > cur.LastSeenID {
		cur.LastSeenID = highest
		if err := d.commit(ctx, cur); err != nil {
			return false, err
		}
	}

	sum.Cursor = cur.LastSeenID
	sum.Elapsed = time.Since(started)
	if sum.Fetched > 0 {
		d.log.Debug("cycle complete",
			logx.Int("fetched", sum.Fetched),
			logx.Int("dispatched", sum.Dispatched),
			logx.Int("filtered", sum.Filtered),
			logx.Int("skipped", sum.Skipped),
			logx.Int64("cursor", sum.Cursor))
	}
	d.publish(EventCycle, sum)
	return len(rows) >= d.batch, nil
}

func (d *Detector) commit(ctx context.Context, c checkpoint.Cursor) error {
	if d.store != nil {
		if err := d.store.Save(ctx, c); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}
	d.mu.Lock()
	d.cursor = c
	d.mu.Unlock()
	return nil
}

func (d *Detector) publish(typ string, data any) {
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func (d *Detector) reportError(err error) {
	d.mu.Lock()
	cbs := make([]ErrorCallback, len(d.errCallbacks))
	copy(cbs, d.errCallbacks)
	d.mu.Unlock()
	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("error callback panicked", logx.Any("panic", r))
				}
			}()
			cb(err)
		}()
	}
}
