package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/infra/storage"
)

const path = storage.CollectionPath("artifacts/test/users/u1/meals")

func fields(t *testing.T, date, dish string) domain.MealFields {
	t.Helper()
	d, err := domain.ParseDate(date)
	if err != nil {
		t.Fatalf("bad date: %v", err)
	}
	return domain.MealFields{Date: d, MealType: domain.MealTypeLunch, DishName: dish}
}

func dateFilter(date string) storage.Filter {
	return storage.Filter{Field: storage.FieldDate, Equals: date}
}

type snapshots chan []storage.Document

func subscribe(t *testing.T, s *MemoryStorage, f storage.Filter) (snapshots, chan error, storage.Unsubscribe) {
	t.Helper()
	snaps := make(snapshots, 16)
	errs := make(chan error, 1)
	unsub := s.SubscribeQuery(path, f,
		func(docs []storage.Document) { snaps <- docs },
		func(err error) { errs <- err },
	)
	return snaps, errs, unsub
}

func next(t *testing.T, snaps snapshots) []storage.Document {
	t.Helper()
	select {
	case docs := <-snaps:
		return docs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func expectQuiet(t *testing.T, snaps snapshots) {
	t.Helper()
	select {
	case docs := <-snaps:
		t.Fatalf("unexpected snapshot: %+v", docs)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_InitialAndUpdates(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	id1, err := s.Add(ctx, path, fields(t, "2024-07-15", "Rice"))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	snaps, _, unsub := subscribe(t, s, dateFilter("2024-07-15"))
	defer unsub()

	docs := next(t, snaps)
	if len(docs) != 1 || docs[0].ID != id1 {
		t.Fatalf("expected initial snapshot with %s, got %+v", id1, docs)
	}
	if docs[0].CreatedAt == nil {
		t.Error("expected createdAt to be set")
	}

	id2, _ := s.Add(ctx, path, fields(t, "2024-07-15", "Soup"))
	docs = next(t, snaps)
	if len(docs) != 2 || docs[1].ID != id2 {
		t.Fatalf("expected two documents in insertion order, got %+v", docs)
	}

	if err := s.Delete(ctx, path, id1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	docs = next(t, snaps)
	if len(docs) != 1 || docs[0].ID != id2 {
		t.Fatalf("expected only %s after delete, got %+v", id2, docs)
	}
}

func TestSubscribe_OtherDateNotDelivered(t *testing.T) {
	s := NewMemoryStorage()
	snaps, _, unsub := subscribe(t, s, dateFilter("2024-07-15"))
	defer unsub()

	if docs := next(t, snaps); len(docs) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", docs)
	}

	if _, err := s.Add(context.Background(), path, fields(t, "2024-07-16", "Apple")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	expectQuiet(t, snaps)
}

func TestSubscribe_UpdateMovingDateNotifiesBoth(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	id, _ := s.Add(ctx, path, fields(t, "2024-07-15", "Apple"))

	oldSnaps, _, unsubOld := subscribe(t, s, dateFilter("2024-07-15"))
	defer unsubOld()
	newSnaps, _, unsubNew := subscribe(t, s, dateFilter("2024-07-16"))
	defer unsubNew()
	next(t, oldSnaps)
	next(t, newSnaps)

	if err := s.Update(ctx, path, id, fields(t, "2024-07-16", "Apple")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if docs := next(t, oldSnaps); len(docs) != 0 {
		t.Errorf("expected old date to become empty, got %+v", docs)
	}
	if docs := next(t, newSnaps); len(docs) != 1 || docs[0].ID != id {
		t.Errorf("expected moved document on new date, got %+v", docs)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	s := NewMemoryStorage()
	err := s.Update(context.Background(), path, "missing", fields(t, "2024-07-15", "x"))
	if storage.KindOf(err) != storage.KindNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestUnsubscribe_StopsDeliveryAndIsIdempotent(t *testing.T) {
	s := NewMemoryStorage()
	snaps, _, unsub := subscribe(t, s, dateFilter("2024-07-15"))
	next(t, snaps)

	unsub()
	unsub()

	if _, err := s.Add(context.Background(), path, fields(t, "2024-07-15", "Late")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	expectQuiet(t, snaps)
}

func TestSubscribe_QueryFaultEndsSubscription(t *testing.T) {
	s := NewMemoryStorage()
	denied := storage.NewError("listen", storage.KindPermissionDenied, errors.New("rules"))
	s.InjectFault("query", denied)

	snaps, errs, unsub := subscribe(t, s, dateFilter("2024-07-15"))
	defer unsub()

	select {
	case err := <-errs:
		if !errors.Is(err, denied) {
			t.Errorf("expected injected error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}

	if _, err := s.Add(context.Background(), path, fields(t, "2024-07-15", "x")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	expectQuiet(t, snaps)
}

func TestSubscribe_UnsupportedFilter(t *testing.T) {
	s := NewMemoryStorage()
	_, errs, unsub := subscribe(t, s, storage.Filter{Field: "memo", Equals: "x"})
	defer unsub()

	select {
	case err := <-errs:
		if storage.KindOf(err) != storage.KindInvalidArgument {
			t.Errorf("expected invalid-argument, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestPendingTimestamps(t *testing.T) {
	fixed := time.Date(2024, 7, 15, 8, 0, 0, 0, time.UTC)
	s := NewMemoryStorage(WithPendingTimestamps(), WithClock(func() time.Time { return fixed }))

	snaps, _, unsub := subscribe(t, s, dateFilter("2024-07-15"))
	defer unsub()
	next(t, snaps)

	if _, err := s.Add(context.Background(), path, fields(t, "2024-07-15", "Toast")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	docs := next(t, snaps)
	if len(docs) != 1 || docs[0].CreatedAt != nil {
		t.Fatalf("expected pending timestamp, got %+v", docs)
	}

	s.CommitTimestamps()
	docs = next(t, snaps)
	if docs[0].CreatedAt == nil || !docs[0].CreatedAt.Equal(fixed) {
		t.Fatalf("expected committed timestamp %v, got %+v", fixed, docs[0].CreatedAt)
	}
}

func TestAdd_FaultInjection(t *testing.T) {
	s := NewMemoryStorage()
	down := storage.NewError("add", storage.KindUnavailable, nil)
	s.InjectFault("add", down)

	if _, err := s.Add(context.Background(), path, fields(t, "2024-07-15", "x")); !errors.Is(err, down) {
		t.Fatalf("expected injected fault, got %v", err)
	}
	if _, err := s.Add(context.Background(), path, fields(t, "2024-07-15", "x")); err != nil {
		t.Fatalf("expected second add to succeed, got %v", err)
	}
}

func TestUserRepo(t *testing.T) {
	repo := NewUserRepo(NewMemoryStorage())
	ctx := context.Background()

	u := &domain.User{ID: "u1", Email: "Me@Example.com", PasswordHash: "h"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, &domain.User{ID: "u2", Email: "me@example.com"}); storage.KindOf(err) != storage.KindAlreadyExists {
		t.Errorf("expected already-exists, got %v", err)
	}

	got, err := repo.GetByEmail(ctx, "me@example.com")
	if err != nil || got == nil || got.ID != "u1" {
		t.Fatalf("GetByEmail = %+v, %v", got, err)
	}
	missing, err := repo.GetByEmail(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown email, got %+v, %v", missing, err)
	}
}
