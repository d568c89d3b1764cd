package livequery

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/infra/storage"
)

// IdentitySource reports the signed-in owner and announces changes.
type IdentitySource interface {
	// Current returns the owner, or false when nobody is signed in.
	Current() (domain.OwnerID, bool)

	// OnChange registers cb for identity changes. An empty owner means signed out.
	OnChange(cb func(domain.OwnerID)) (cancel func())
}

// View is one delivered result set together with the filter that produced it.
type View struct {
	Owner domain.OwnerID      `json:"owner_id"`
	Date  civil.Date          `json:"date"`
	Meals []domain.MealRecord `json:"meals"`
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Store     storage.DocumentStore
	Namespace string

	// Date is the initial date. Zero means today in Location.
	Date     civil.Date
	Location *time.Location

	Clock  Clock
	Logger *slog.Logger

	OnView  func(View)
	OnError func(date civil.Date, err error)
}

// Watcher keeps one live subscription for the current (owner, date) pair and
// replaces it whenever either changes. The previous subscription is torn down
// before the next one is created, and once a setter returns no callback from
// the previous pair runs.
//
// OnView and OnError must not call back into the Watcher synchronously.
type Watcher struct {
	cfg WatcherConfig

	mu           sync.Mutex
	owner        domain.OwnerID
	date         civil.Date
	sub          *Subscription
	started      bool
	closed       bool
	stopIdentity func()

	deliverMu sync.Mutex
	gen       atomic.Uint64
}

// NewWatcher creates a watcher. Nothing is subscribed until Start.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnView == nil {
		cfg.OnView = func(View) {}
	}
	if cfg.OnError == nil {
		cfg.OnError = func(civil.Date, error) {}
	}
	date := cfg.Date
	if date.IsZero() {
		date = domain.DateIn(cfg.Clock(), cfg.Location)
	}
	return &Watcher{cfg: cfg, date: date}
}

// Start establishes the first subscription.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	w.resubscribeLocked()
}

// Follow tracks src: the current owner is applied now and every later change
// re-subscribes.
func (w *Watcher) Follow(src IdentitySource) {
	cancel := src.OnChange(func(domain.OwnerID) { w.syncOwner(src) })
	w.syncOwner(src)

	w.mu.Lock()
	prev := w.stopIdentity
	w.stopIdentity = cancel
	closed := w.closed
	w.mu.Unlock()

	if prev != nil {
		prev()
	}
	if closed {
		cancel()
	}
}

// syncOwner applies src's current owner. Reading it under w.mu makes the
// last caller apply the newest identity.
func (w *Watcher) syncOwner(src IdentitySource) {
	w.mu.Lock()
	defer w.mu.Unlock()
	owner, _ := src.Current()
	if owner == w.owner {
		return
	}
	w.owner = owner
	w.resubscribeLocked()
}

// SetOwner switches to owner's meals. An empty owner clears the view.
func (w *Watcher) SetOwner(owner domain.OwnerID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if owner == w.owner {
		return
	}
	w.owner = owner
	w.resubscribeLocked()
}

// SetDate switches to meals logged on date.
func (w *Watcher) SetDate(date civil.Date) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if date == w.date {
		return
	}
	w.date = date
	w.resubscribeLocked()
}

// ShiftDate moves the date by days (negative goes back) and returns the new date.
func (w *Watcher) ShiftDate(days int) civil.Date {
	w.mu.Lock()
	defer w.mu.Unlock()
	if days == 0 {
		return w.date
	}
	w.date = w.date.AddDays(days)
	w.resubscribeLocked()
	return w.date
}

// Date returns the date currently watched.
func (w *Watcher) Date() civil.Date {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.date
}

// Owner returns the owner currently watched.
func (w *Watcher) Owner() domain.OwnerID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.owner
}

// Close tears down the subscription and stops following identity changes.
// Safe to call more than once.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.invalidate()
	sub := w.sub
	w.sub = nil
	stopIdentity := w.stopIdentity
	w.stopIdentity = nil
	w.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	if stopIdentity != nil {
		stopIdentity()
	}
}

// invalidate bumps the generation so pending deliveries of the previous
// subscription are dropped. It waits for an in-flight delivery to finish.
func (w *Watcher) invalidate() uint64 {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()
	return w.gen.Add(1)
}

// resubscribeLocked must be called with w.mu held.
func (w *Watcher) resubscribeLocked() {
	if !w.started || w.closed {
		return
	}

	gen := w.invalidate()
	if w.sub != nil {
		w.sub.Stop()
		w.sub = nil
	}

	owner, date := w.owner, w.date
	w.cfg.Logger.Debug("Subscribing to meals", "owner", owner, "date", date.String())

	w.sub = newSubscription(
		w.cfg.Store,
		w.cfg.Namespace,
		owner,
		date,
		w.cfg.Clock,
		w.cfg.Logger,
		func(records []domain.MealRecord) {
			w.deliver(gen, func() {
				w.cfg.OnView(View{Owner: owner, Date: date, Meals: records})
			})
		},
		func(err error) {
			w.deliver(gen, func() {
				w.cfg.OnError(date, err)
			})
		},
	)
	w.sub.start()
}

func (w *Watcher) deliver(gen uint64, fn func()) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()
	if w.gen.Load() != gen {
		return
	}
	fn()
}
