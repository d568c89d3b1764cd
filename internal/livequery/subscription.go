// Package livequery keeps a sorted, live view of one owner's meals for one date.
package livequery

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/infra/storage"
	"github.com/vietddude/mealog/internal/metrics"
)

// Clock returns the current time. Normalization uses it for records whose
// creation timestamp has not been committed.
type Clock func() time.Time

// Subscription is one live query against the store.
type Subscription struct {
	store     storage.DocumentStore
	namespace string
	owner     domain.OwnerID
	date      civil.Date
	now       Clock
	log       *slog.Logger

	onUpdate func([]domain.MealRecord)
	onError  func(error)

	mu     sync.Mutex
	closed atomic.Bool
	detach storage.Unsubscribe
}

// Subscribe starts a live query for owner's meals on date and returns a
// function that stops it. An absent owner gets one empty update and no store
// subscription. Unsubscribe may be called any number of times.
func Subscribe(
	store storage.DocumentStore,
	namespace string,
	owner domain.OwnerID,
	date civil.Date,
	onUpdate func([]domain.MealRecord),
	onError func(error),
) (unsubscribe func()) {
	s := newSubscription(store, namespace, owner, date, time.Now, slog.Default(), onUpdate, onError)
	s.start()
	return s.Stop
}

func newSubscription(
	store storage.DocumentStore,
	namespace string,
	owner domain.OwnerID,
	date civil.Date,
	now Clock,
	log *slog.Logger,
	onUpdate func([]domain.MealRecord),
	onError func(error),
) *Subscription {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Subscription{
		store:     store,
		namespace: namespace,
		owner:     owner,
		date:      date,
		now:       now,
		log:       log,
		onUpdate:  onUpdate,
		onError:   onError,
	}
}

func (s *Subscription) start() {
	if s.owner.IsZero() {
		s.onUpdate([]domain.MealRecord{})
		return
	}

	path := storage.MealsPath(s.namespace, s.owner)
	filter := storage.Filter{Field: storage.FieldDate, Equals: s.date.String()}
	detach := s.store.SubscribeQuery(path, filter, s.handleSnapshot, s.handleError)

	s.mu.Lock()
	if s.closed.Load() {
		// Stopped while subscribing.
		s.mu.Unlock()
		detach()
		return
	}
	s.detach = detach
	s.mu.Unlock()
}

// Stop detaches the store listener. After Stop returns no new callback starts.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return
	}
	s.closed.Store(true)
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
}

func (s *Subscription) handleSnapshot(docs []storage.Document) {
	if s.closed.Load() {
		return
	}
	records, ok := s.normalize(docs)
	if !ok {
		return
	}
	metrics.SnapshotsDelivered.Inc()
	s.onUpdate(records)
}

func (s *Subscription) handleError(err error) {
	if s.closed.Load() {
		return
	}
	s.log.Error("Live meal query failed",
		"owner", s.owner,
		"date", s.date.String(),
		"error", err,
	)
	s.Stop()
	s.onError(err)
}

// normalize converts documents into records sorted by creation time. It
// rejects a snapshot containing a record outside the subscribed date.
func (s *Subscription) normalize(docs []storage.Document) ([]domain.MealRecord, bool) {
	records := Normalize(docs, s.owner, s.now)
	for _, r := range records {
		if r.Date != s.date {
			s.log.Error("Dropping snapshot with record outside query date",
				"owner", s.owner,
				"date", s.date.String(),
				"record", r.ID,
				"record_date", r.Date.String(),
			)
			return nil, false
		}
	}
	return records, true
}

// Normalize turns store documents into meal records sorted ascending by
// CreatedAt. A missing CreatedAt becomes now(). Equal timestamps keep the
// store's delivery order.
func Normalize(docs []storage.Document, owner domain.OwnerID, now Clock) []domain.MealRecord {
	records := make([]domain.MealRecord, 0, len(docs))
	for _, d := range docs {
		var created time.Time
		if d.CreatedAt != nil && !d.CreatedAt.IsZero() {
			created = *d.CreatedAt
		} else {
			created = now()
		}
		records = append(records, domain.MealRecord{
			ID:        d.ID,
			OwnerID:   owner,
			Date:      d.Fields.Date,
			MealType:  d.Fields.MealType,
			DishName:  d.Fields.DishName,
			Memo:      d.Fields.Memo,
			CreatedAt: created,
		})
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}
