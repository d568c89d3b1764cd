package livequery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/infra/storage"
)

// fakeStore hands snapshots to subscribers only when the test asks it to.
type fakeStore struct {
	mu   sync.Mutex
	subs []*fakeSub
}

type fakeSub struct {
	path       storage.CollectionPath
	filter     storage.Filter
	onSnapshot func([]storage.Document)
	onError    func(error)
	detached   int
}

func (f *fakeStore) Add(context.Context, storage.CollectionPath, domain.MealFields) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeStore) Update(context.Context, storage.CollectionPath, string, domain.MealFields) error {
	return errors.New("not implemented")
}

func (f *fakeStore) Delete(context.Context, storage.CollectionPath, string) error {
	return errors.New("not implemented")
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) SubscribeQuery(
	path storage.CollectionPath,
	filter storage.Filter,
	onSnapshot func([]storage.Document),
	onError func(error),
) storage.Unsubscribe {
	s := &fakeSub{path: path, filter: filter, onSnapshot: onSnapshot, onError: onError}
	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		s.detached++
		f.mu.Unlock()
	}
}

func (f *fakeStore) sub(t *testing.T, i int) *fakeSub {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.subs) {
		t.Fatalf("expected at least %d subscriptions, have %d", i+1, len(f.subs))
	}
	return f.subs[i]
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeStore) detachedCount(s *fakeSub) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return s.detached
}

func mustDate(t *testing.T, s string) civil.Date {
	t.Helper()
	d, err := domain.ParseDate(s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

func doc(id string, date civil.Date, created *time.Time) storage.Document {
	return storage.Document{
		ID:        id,
		Fields:    domain.MealFields{Date: date, MealType: domain.MealTypeSnack, DishName: id},
		CreatedAt: created,
	}
}

func at(minute int) *time.Time {
	t := time.Date(2024, 7, 15, 12, minute, 0, 0, time.UTC)
	return &t
}

func TestSubscribe_AbsentOwner(t *testing.T) {
	store := &fakeStore{}
	var got []domain.MealRecord
	calls := 0

	unsub := Subscribe(store, "artifacts/app", "", mustDate(t, "2024-07-15"),
		func(r []domain.MealRecord) { calls++; got = r },
		func(err error) { t.Errorf("unexpected error: %v", err) },
	)
	defer unsub()

	if calls != 1 || got == nil || len(got) != 0 {
		t.Errorf("expected one empty update, got calls=%d records=%v", calls, got)
	}
	if store.count() != 0 {
		t.Errorf("expected no store subscription, got %d", store.count())
	}
	unsub()
}

func TestSubscribe_PathAndFilter(t *testing.T) {
	store := &fakeStore{}
	unsub := Subscribe(store, "artifacts/app", "u1", mustDate(t, "2024-07-15"),
		func([]domain.MealRecord) {}, func(error) {})
	defer unsub()

	s := store.sub(t, 0)
	if s.path != "artifacts/app/users/u1/meals" {
		t.Errorf("unexpected path %q", s.path)
	}
	if s.filter != (storage.Filter{Field: "date", Equals: "2024-07-15"}) {
		t.Errorf("unexpected filter %+v", s.filter)
	}
}

func TestSubscribe_SortsAndNormalizes(t *testing.T) {
	store := &fakeStore{}
	date := mustDate(t, "2024-07-15")
	now := time.Date(2024, 7, 15, 12, 30, 0, 0, time.UTC)

	var got []domain.MealRecord
	sub := newSubscription(store, "ns", "u1", date, func() time.Time { return now }, nil,
		func(r []domain.MealRecord) { got = r },
		func(error) {},
	)
	sub.start()
	defer sub.Stop()

	store.sub(t, 0).onSnapshot([]storage.Document{
		doc("late", date, at(50)),
		doc("pending", date, nil),
		doc("tie-a", date, at(10)),
		doc("zero", date, &time.Time{}),
		doc("tie-b", date, at(10)),
		doc("early", date, at(1)),
	})

	want := []string{"early", "tie-a", "tie-b", "pending", "zero", "late"}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
	for _, r := range got {
		if r.OwnerID != "u1" {
			t.Errorf("record %s has owner %q", r.ID, r.OwnerID)
		}
		if (r.ID == "pending" || r.ID == "zero") && !r.CreatedAt.Equal(now) {
			t.Errorf("record %s createdAt = %v, want fallback %v", r.ID, r.CreatedAt, now)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Errorf("records not sorted at %d", i)
		}
	}
}

func TestSubscribe_DropsSnapshotOutsideDate(t *testing.T) {
	store := &fakeStore{}
	date := mustDate(t, "2024-07-15")
	calls := 0
	unsub := Subscribe(store, "ns", "u1", date,
		func([]domain.MealRecord) { calls++ },
		func(error) {},
	)
	defer unsub()

	store.sub(t, 0).onSnapshot([]storage.Document{doc("x", mustDate(t, "2024-07-16"), at(1))})
	if calls != 0 {
		t.Errorf("expected snapshot to be dropped, got %d updates", calls)
	}
}

func TestSubscribe_ErrorEndsSubscription(t *testing.T) {
	store := &fakeStore{}
	date := mustDate(t, "2024-07-15")
	var errs []error
	updates := 0

	unsub := Subscribe(store, "ns", "u1", date,
		func([]domain.MealRecord) { updates++ },
		func(err error) { errs = append(errs, err) },
	)
	defer unsub()

	s := store.sub(t, 0)
	denied := storage.NewError("listen", storage.KindPermissionDenied, nil)
	s.onError(denied)
	s.onError(denied)
	s.onSnapshot([]storage.Document{doc("a", date, at(1))})

	if len(errs) != 1 || !errors.Is(errs[0], denied) {
		t.Errorf("expected exactly one error, got %v", errs)
	}
	if updates != 0 {
		t.Errorf("expected no updates after error, got %d", updates)
	}
	if store.detachedCount(s) != 1 {
		t.Errorf("expected listener detached once, got %d", store.detachedCount(s))
	}
}

func TestSubscribe_UnsubscribeIdempotent(t *testing.T) {
	store := &fakeStore{}
	date := mustDate(t, "2024-07-15")
	updates := 0

	unsub := Subscribe(store, "ns", "u1", date,
		func([]domain.MealRecord) { updates++ },
		func(error) {},
	)
	s := store.sub(t, 0)

	unsub()
	unsub()

	if store.detachedCount(s) != 1 {
		t.Errorf("expected one detach, got %d", store.detachedCount(s))
	}
	s.onSnapshot([]storage.Document{doc("a", date, at(1))})
	if updates != 0 {
		t.Errorf("expected no updates after unsubscribe, got %d", updates)
	}
}
