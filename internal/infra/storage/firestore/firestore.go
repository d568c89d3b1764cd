// Package firestore stores meals in Cloud Firestore and serves live queries
// from Firestore snapshot listeners.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/infra/storage"
	"github.com/vietddude/mealog/internal/metrics"
)

const backend = "firestore"

// Config holds Firestore connection settings.
type Config struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	Database        string `yaml:"database"` // empty = "(default)"
}

// Store is a DocumentStore backed by Firestore.
type Store struct {
	client *firestore.Client
	log    *slog.Logger

	// ctx parents every listener; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// New connects to Firestore.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	database := cfg.Database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, database, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storeCtx, cancel := context.WithCancel(context.Background())
	return &Store{client: client, log: log, ctx: storeCtx, cancel: cancel}, nil
}

func (s *Store) collection(op string, path storage.CollectionPath) (*firestore.CollectionRef, error) {
	if _, err := path.Owner(); err != nil {
		return nil, storage.NewError(op, storage.KindInvalidArgument, err)
	}
	coll := s.client.Collection(string(path))
	if coll == nil {
		return nil, storage.NewError(op, storage.KindInvalidArgument,
			fmt.Errorf("%w: %q is not a collection", storage.ErrInvalidPath, path))
	}
	return coll, nil
}

func docRef(op string, coll *firestore.CollectionRef, id string) (*firestore.DocumentRef, error) {
	ref := coll.Doc(id)
	if ref == nil {
		return nil, storage.NewError(op, storage.KindInvalidArgument, fmt.Errorf("invalid document id %q", id))
	}
	return ref, nil
}

func (s *Store) Add(ctx context.Context, path storage.CollectionPath, fields domain.MealFields) (string, error) {
	defer observe("add", time.Now())
	coll, err := s.collection("add", path)
	if err != nil {
		return "", err
	}

	data := encode(fields)
	data[storage.FieldCreatedAt] = firestore.ServerTimestamp

	ref, _, err := coll.Add(ctx, data)
	if err != nil {
		return "", storage.FromGRPC("add", err)
	}
	return ref.ID, nil
}

func (s *Store) Update(ctx context.Context, path storage.CollectionPath, id string, fields domain.MealFields) error {
	defer observe("update", time.Now())
	coll, err := s.collection("update", path)
	if err != nil {
		return err
	}

	data := encode(fields)
	updates := make([]firestore.Update, 0, len(data))
	for _, field := range []string{storage.FieldDate, storage.FieldType, storage.FieldDish, storage.FieldMemo} {
		updates = append(updates, firestore.Update{Path: field, Value: data[field]})
	}

	ref, err := docRef("update", coll, id)
	if err != nil {
		return err
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return storage.FromGRPC("update", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path storage.CollectionPath, id string) error {
	defer observe("delete", time.Now())
	coll, err := s.collection("delete", path)
	if err != nil {
		return err
	}
	ref, err := docRef("delete", coll, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return storage.FromGRPC("delete", err)
	}
	return nil
}

// SubscribeQuery runs a snapshot listener in its own goroutine until the
// returned function is called or the listener fails.
func (s *Store) SubscribeQuery(
	path storage.CollectionPath,
	filter storage.Filter,
	onSnapshot func([]storage.Document),
	onError func(error),
) storage.Unsubscribe {
	ctx, cancel := context.WithCancel(s.ctx)
	var once sync.Once
	stop := func() { once.Do(cancel) }

	coll, err := s.collection("listen", path)
	if err == nil {
		if ferr := filter.Validate(); ferr != nil {
			err = storage.NewError("listen", storage.KindInvalidArgument, ferr)
		}
	}
	if err != nil {
		go onError(err)
		return stop
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		go onError(storage.NewError("listen", storage.KindCanceled, errors.New("store closed")))
		return stop
	}
	s.wg.Add(1)
	s.mu.Unlock()

	it := coll.Where(filter.Field, "==", filter.Equals).Snapshots(ctx)
	metrics.ActiveSubscriptions.WithLabelValues(backend).Inc()

	go func() {
		defer s.wg.Done()
		defer metrics.ActiveSubscriptions.WithLabelValues(backend).Dec()
		defer it.Stop()

		for {
			snap, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if errors.Is(err, iterator.Done) {
					return
				}
				s.log.Warn("Firestore listener failed", "path", path, "error", err)
				onError(storage.FromGRPC("listen", err))
				return
			}

			docs, err := decodeSnapshot(snap)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				onError(err)
				return
			}
			onSnapshot(docs)
		}
	}()

	return stop
}

func decodeSnapshot(snap *firestore.QuerySnapshot) ([]storage.Document, error) {
	all, err := snap.Documents.GetAll()
	if err != nil {
		return nil, storage.FromGRPC("listen", err)
	}
	docs := make([]storage.Document, 0, len(all))
	for _, ds := range all {
		doc, err := decode(ds.Ref.ID, ds.Data())
		if err != nil {
			return nil, storage.NewError("decode", storage.KindInternal, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Close stops every listener, waits for their goroutines and closes the client.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return s.client.Close()
}

func encode(f domain.MealFields) map[string]interface{} {
	return map[string]interface{}{
		storage.FieldDate: f.Date.String(),
		storage.FieldType: string(f.MealType),
		storage.FieldDish: f.DishName,
		storage.FieldMemo: f.Memo,
	}
}

// decode reads a stored meal. Unknown meal types decode as "other" and a
// createdAt that is missing or not a timestamp decodes as nil.
func decode(id string, data map[string]interface{}) (storage.Document, error) {
	dateStr, _ := data[storage.FieldDate].(string)
	date, err := domain.ParseDate(dateStr)
	if err != nil {
		return storage.Document{}, fmt.Errorf("document %s: %w", id, err)
	}

	typeStr, _ := data[storage.FieldType].(string)
	mealType, err := domain.ParseMealType(typeStr)
	if err != nil {
		mealType = domain.MealTypeOther
	}

	dish, _ := data[storage.FieldDish].(string)
	memo, _ := data[storage.FieldMemo].(string)

	doc := storage.Document{
		ID: id,
		Fields: domain.MealFields{
			Date:     date,
			MealType: mealType,
			DishName: dish,
			Memo:     memo,
		},
	}
	if ts, ok := data[storage.FieldCreatedAt].(time.Time); ok && !ts.IsZero() {
		doc.CreatedAt = &ts
	}
	return doc, nil
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
