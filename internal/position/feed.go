package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"station-navigation/internal/navigation"
)

const (
	// watchBufferSize controls how many fixes can queue for a slow watcher
	// before new ones are dropped.
	watchBufferSize = 16
)

var ErrFeedClosed = errors.New("position feed closed")

type FeedOptions struct {
	PermissionTimeout time.Duration
	PositionTimeout   time.Duration
	// MaxFixAge is how long after it was received the last fix may still
	// answer CurrentPosition without waiting for a new one. Device
	// timestamps are not used for this, device clocks drift.
	MaxFixAge time.Duration
	// OnPrompt is called when a permission request finds the state
	// undecided, so the device can be asked.
	OnPrompt func()
	Logger   *slog.Logger
}

func DefaultFeedOptions() FeedOptions {
	return FeedOptions{
		PermissionTimeout: 10 * time.Second,
		PositionTimeout:   10 * time.Second,
		MaxFixAge:         5 * time.Second,
		OnPrompt:          func() {},
		Logger:            slog.Default(),
	}
}

// Feed is a navigation.PositionSource fed by fixes pushed from the device.
type Feed struct {
	opts FeedOptions

	mu         sync.Mutex
	permission navigation.PermissionState
	last       *navigation.Fix
	receivedAt time.Time
	fixSeq     uint64
	failure    error
	failSeq    uint64
	closed     bool
	// changed is closed and replaced on every update to wake waiters.
	changed  chan struct{}
	watchers map[*watcher]struct{}
}

func NewFeed(options ...FeedOptions) *Feed {
	opts := DefaultFeedOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OnPrompt == nil {
		opts.OnPrompt = func() {}
	}

	return &Feed{
		opts:       opts,
		permission: navigation.PermissionPrompt,
		changed:    make(chan struct{}),
		watchers:   make(map[*watcher]struct{}),
	}
}

// RequestPermission resolves once the device has granted or denied access,
// or when PermissionTimeout elapses.
func (f *Feed) RequestPermission(ctx context.Context) (navigation.PermissionState, error) {
	timer := time.NewTimer(f.opts.PermissionTimeout)
	defer timer.Stop()

	prompted := false
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return navigation.PermissionPrompt, ErrFeedClosed
		}
		if f.permission != navigation.PermissionPrompt {
			state := f.permission
			f.mu.Unlock()
			return state, nil
		}
		changed := f.changed
		f.mu.Unlock()

		if !prompted {
			f.opts.OnPrompt()
			prompted = true
		}

		select {
		case <-changed:
		case <-timer.C:
			return navigation.PermissionPrompt, fmt.Errorf("waiting for permission: %w", navigation.ErrPositionTimeout)
		case <-ctx.Done():
			return navigation.PermissionPrompt, ctx.Err()
		}
	}
}

// CurrentPosition returns the last fix if it is recent enough, otherwise
// waits for the next one.
func (f *Feed) CurrentPosition(ctx context.Context) (navigation.Fix, error) {
	timer := time.NewTimer(f.opts.PositionTimeout)
	defer timer.Stop()

	f.mu.Lock()
	startFix, startFail := f.fixSeq, f.failSeq
	if f.last != nil && time.Since(f.receivedAt) <= f.opts.MaxFixAge {
		fix := *f.last
		f.mu.Unlock()
		return fix, nil
	}
	f.mu.Unlock()

	for {
		f.mu.Lock()
		switch {
		case f.closed:
			f.mu.Unlock()
			return navigation.Fix{}, fmt.Errorf("%w: %w", ErrFeedClosed, navigation.ErrPositionUnavailable)
		case f.permission == navigation.PermissionDenied:
			f.mu.Unlock()
			return navigation.Fix{}, navigation.ErrPermissionDenied
		case f.fixSeq != startFix:
			fix := *f.last
			f.mu.Unlock()
			return fix, nil
		case f.failSeq != startFail:
			err := f.failure
			f.mu.Unlock()
			return navigation.Fix{}, err
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return navigation.Fix{}, navigation.ErrPositionTimeout
		case <-ctx.Done():
			return navigation.Fix{}, ctx.Err()
		}
	}
}

// WatchPosition streams every fix pushed after the call. Callbacks run on a
// goroutine owned by the subscription, one at a time and in push order.
func (f *Feed) WatchPosition(onUpdate func(navigation.Fix), onError func(error)) (navigation.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, fmt.Errorf("%w: %w", ErrFeedClosed, navigation.ErrPositionUnavailable)
	}
	if f.permission == navigation.PermissionDenied {
		return nil, navigation.ErrPermissionDenied
	}

	w := &watcher{
		feed:     f,
		onUpdate: onUpdate,
		onError:  onError,
		events:   make(chan event, watchBufferSize),
		done:     make(chan struct{}),
	}
	f.watchers[w] = struct{}{}
	go w.run()
	return w, nil
}

// SetPermission records the answer of the device.
func (f *Feed) SetPermission(state navigation.PermissionState) error {
	if !state.IsValid() {
		return fmt.Errorf("invalid permission state %q", state)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.permission = state
	f.broadcast()
	if state == navigation.PermissionDenied {
		f.dispatch(event{err: navigation.ErrPermissionDenied})
	}
	return nil
}

// Push records a new fix from the device.
func (f *Feed) Push(fix navigation.Fix) error {
	if err := fix.Validate(); err != nil {
		return fmt.Errorf("invalid fix: %w", err)
	}
	now := time.Now()
	if fix.Timestamp.IsZero() {
		fix.Timestamp = now
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFeedClosed
	}
	f.last = &fix
	f.receivedAt = now
	f.fixSeq++
	f.broadcast()
	f.dispatch(event{fix: fix})
	return nil
}

// Fail reports a sensor failure to waiters and watchers.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = err
	f.failSeq++
	f.broadcast()
	f.dispatch(event{err: err})
}

// Close releases every watcher and wakes every waiter.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.broadcast()
	watchers := make([]*watcher, 0, len(f.watchers))
	for w := range f.watchers {
		watchers = append(watchers, w)
	}
	f.mu.Unlock()

	for _, w := range watchers {
		w.Cancel()
	}
}

func (f *Feed) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

// broadcast must be called with mu held.
func (f *Feed) broadcast() {
	close(f.changed)
	f.changed = make(chan struct{})
}

// dispatch must be called with mu held.
func (f *Feed) dispatch(ev event) {
	for w := range f.watchers {
		select {
		case w.events <- ev:
		default:
			f.opts.Logger.Warn("dropping position event for slow watcher")
		}
	}
}

func (f *Feed) remove(w *watcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.watchers, w)
}

type event struct {
	fix navigation.Fix
	err error
}

type watcher struct {
	feed     *Feed
	onUpdate func(navigation.Fix)
	onError  func(error)
	events   chan event
	done     chan struct{}
	once     sync.Once
}

func (w *watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev := <-w.events:
			// Cancel wins over a queued event.
			select {
			case <-w.done:
				return
			default:
			}
			if ev.err != nil {
				w.onError(ev.err)
			} else {
				w.onUpdate(ev.fix)
			}
		}
	}
}

func (w *watcher) Cancel() {
	w.once.Do(func() {
		close(w.done)
		w.feed.remove(w)
	})
}
