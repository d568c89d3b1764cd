package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/infra/storage"
	"github.com/vietddude/mealog/internal/metrics"
)

const backend = "postgres"

// queryTimeout bounds the re-query a live subscription runs after a change.
const queryTimeout = 10 * time.Second

type mealRow struct {
	ID        string    `db:"id"`
	MealDate  time.Time `db:"meal_date"`
	MealType  string    `db:"meal_type"`
	Dish      string    `db:"dish"`
	Memo      string    `db:"memo"`
	CreatedAt time.Time `db:"created_at"`
}

func (r mealRow) document() storage.Document {
	created := r.CreatedAt
	mealType, err := domain.ParseMealType(r.MealType)
	if err != nil {
		mealType = domain.MealTypeOther
	}
	return storage.Document{
		ID: r.ID,
		Fields: domain.MealFields{
			Date:     civil.DateOf(r.MealDate),
			MealType: mealType,
			DishName: r.Dish,
			Memo:     r.Memo,
		},
		CreatedAt: &created,
	}
}

// filterColumn returns the column backing a filter field.
func filterColumn(field string) (string, error) {
	switch field {
	case storage.FieldDate:
		return "meal_date", nil
	case storage.FieldType:
		return "meal_type", nil
	default:
		return "", fmt.Errorf("%w: %q", storage.ErrUnsupportedFilter, field)
	}
}

// MealStore is a DocumentStore on PostgreSQL. Live queries re-run when the
// Listener reports a change to their collection.
type MealStore struct {
	db  *DB
	log *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	wg     sync.WaitGroup
	closed bool
}

func NewMealStore(db *DB, log *slog.Logger) *MealStore {
	if log == nil {
		log = slog.Default()
	}
	return &MealStore{
		db:   db,
		log:  log,
		subs: make(map[uint64]*subscription),
	}
}

func (s *MealStore) Add(ctx context.Context, path storage.CollectionPath, fields domain.MealFields) (string, error) {
	defer observe("add", time.Now())
	owner, err := path.Owner()
	if err != nil {
		return "", storage.NewError("add", storage.KindInvalidArgument, err)
	}

	id := uuid.NewString()
	query := `
		INSERT INTO meals (id, collection, owner_id, meal_date, meal_type, dish, memo)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		id,
		string(path),
		string(owner),
		fields.Date.String(),
		string(fields.MealType),
		fields.DishName,
		fields.Memo,
	)
	if err != nil {
		return "", classify("add", err)
	}
	return id, nil
}

func (s *MealStore) Update(ctx context.Context, path storage.CollectionPath, id string, fields domain.MealFields) error {
	defer observe("update", time.Now())
	query := `
		UPDATE meals SET meal_date = $1, meal_type = $2, dish = $3, memo = $4
		WHERE collection = $5 AND id = $6
	`
	res, err := s.db.ExecContext(ctx, query,
		fields.Date.String(),
		string(fields.MealType),
		fields.DishName,
		fields.Memo,
		string(path),
		id,
	)
	if err != nil {
		return classify("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("update", err)
	}
	if n == 0 {
		return storage.NewError("update", storage.KindNotFound, fmt.Errorf("document %s/%s", path, id))
	}
	return nil
}

// Delete removes id from path. Deleting a missing document is a no-op.
func (s *MealStore) Delete(ctx context.Context, path storage.CollectionPath, id string) error {
	defer observe("delete", time.Now())
	_, err := s.db.ExecContext(ctx, `DELETE FROM meals WHERE collection = $1 AND id = $2`, string(path), id)
	if err != nil {
		return classify("delete", err)
	}
	return nil
}

func (s *MealStore) query(ctx context.Context, path storage.CollectionPath, filter storage.Filter) ([]storage.Document, error) {
	defer observe("query", time.Now())
	column, err := filterColumn(filter.Field)
	if err != nil {
		return nil, storage.NewError("query", storage.KindInvalidArgument, err)
	}

	query := fmt.Sprintf(`
		SELECT id, meal_date, meal_type, dish, memo, created_at
		FROM meals
		WHERE collection = $1 AND %s = $2
		ORDER BY seq ASC
	`, column)

	var rows []mealRow
	if err := s.db.SelectContext(ctx, &rows, query, string(path), filter.Equals); err != nil {
		return nil, classify("query", err)
	}

	docs := make([]storage.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.document())
	}
	return docs, nil
}

// -----------------------------------------------------------------------------
// Live queries
// -----------------------------------------------------------------------------

type subscription struct {
	id         uint64
	path       storage.CollectionPath
	filter     storage.Filter
	onSnapshot func([]storage.Document)
	onError    func(error)
	notify     chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

func (s *MealStore) SubscribeQuery(
	path storage.CollectionPath,
	filter storage.Filter,
	onSnapshot func([]storage.Document),
	onError func(error),
) storage.Unsubscribe {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		path:       path,
		filter:     filter,
		onSnapshot: onSnapshot,
		onError:    onError,
		notify:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	if err := filter.Validate(); err != nil {
		cancel()
		go onError(storage.NewError("listen", storage.KindInvalidArgument, err))
		return storage.Unsubscribe(cancel)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		go onError(storage.NewError("listen", storage.KindCanceled, errors.New("store closed")))
		return storage.Unsubscribe(cancel)
	}
	s.nextID++
	sub.id = s.nextID
	s.subs[sub.id] = sub
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.ActiveSubscriptions.WithLabelValues(backend).Inc()
	sub.notify <- struct{}{}
	go s.run(sub)

	return func() {
		s.remove(sub.id)
		cancel()
	}
}

func (s *MealStore) remove(id uint64) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *MealStore) run(sub *subscription) {
	defer s.wg.Done()
	defer metrics.ActiveSubscriptions.WithLabelValues(backend).Dec()

	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.notify:
		}

		ctx, cancel := context.WithTimeout(sub.ctx, queryTimeout)
		docs, err := s.query(ctx, sub.path, sub.filter)
		cancel()

		if sub.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Warn("Live meal query failed", "path", sub.path, "error", err)
			s.remove(sub.id)
			sub.cancel()
			sub.onError(err)
			return
		}
		sub.onSnapshot(docs)
	}
}

// Notify re-runs every live query whose result the change may affect.
func (s *MealStore) Notify(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.path == c.Collection && c.Affects(sub.filter) {
			poke(sub)
		}
	}
}

// NotifyAll re-runs every live query. Used after the listener reconnects,
// since notifications may have been lost in between.
func (s *MealStore) NotifyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		poke(sub)
	}
}

func poke(sub *subscription) {
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

// Close stops every live query. The DB itself is closed by its owner.
func (s *MealStore) Close() error {
	s.mu.Lock()
	s.closed = true
	subs := make([]*subscription, 0, len(s.subs))
	for id, sub := range s.subs {
		subs = append(subs, sub)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	s.wg.Wait()
	return nil
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
