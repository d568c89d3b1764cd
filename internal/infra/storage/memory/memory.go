package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/infra/storage"
	"github.com/vietddude/mealog/internal/metrics"
)

type entry struct {
	id        string
	fields    domain.MealFields
	createdAt *time.Time
	seq       uint64
}

// MemoryStorage is an in-process DocumentStore with live queries. Snapshots are
// delivered from one goroutine per listener, in the order changes happened.
type MemoryStorage struct {
	mu          sync.RWMutex
	collections map[storage.CollectionPath]map[string]*entry
	listeners   map[uint64]*listener
	users       map[string]*domain.User
	faults      map[string][]error
	seq         uint64
	nextID      uint64
	now         func() time.Time
	pending     bool
}

// Option configures a MemoryStorage.
type Option func(*MemoryStorage)

// WithClock sets the clock used for createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStorage) { s.now = now }
}

// WithPendingTimestamps leaves createdAt unset on new documents until
// CommitTimestamps is called, like a server timestamp that has not landed yet.
func WithPendingTimestamps() Option {
	return func(s *MemoryStorage) { s.pending = true }
}

func NewMemoryStorage(opts ...Option) *MemoryStorage {
	s := &MemoryStorage{
		collections: make(map[storage.CollectionPath]map[string]*entry),
		listeners:   make(map[uint64]*listener),
		users:       make(map[string]*domain.User),
		faults:      make(map[string][]error),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InjectFault makes the next calls of op ("add", "update", "delete", "query")
// fail with errs, one per call, in order.
func (s *MemoryStorage) InjectFault(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], errs...)
}

// takeFault must be called with s.mu held.
func (s *MemoryStorage) takeFault(op string) error {
	q := s.faults[op]
	if len(q) == 0 {
		return nil
	}
	s.faults[op] = q[1:]
	return q[0]
}

// -----------------------------------------------------------------------------
// Document Store
// -----------------------------------------------------------------------------

func (s *MemoryStorage) Add(
	ctx context.Context,
	path storage.CollectionPath,
	fields domain.MealFields,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storage.NewError("add", storage.KindOf(err), err)
	}
	if _, err := path.Owner(); err != nil {
		return "", storage.NewError("add", storage.KindInvalidArgument, err)
	}

	s.mu.Lock()
	if err := s.takeFault("add"); err != nil {
		s.mu.Unlock()
		return "", err
	}
	coll := s.collections[path]
	if coll == nil {
		coll = make(map[string]*entry)
		s.collections[path] = coll
	}
	s.seq++
	e := &entry{
		id:     uuid.NewString(),
		fields: fields,
		seq:    s.seq,
	}
	if !s.pending {
		ts := s.now()
		e.createdAt = &ts
	}
	coll[e.id] = e
	affected := s.affectedLocked(path, fields, fields)
	s.mu.Unlock()

	poke(affected)
	return e.id, nil
}

func (s *MemoryStorage) Update(
	ctx context.Context,
	path storage.CollectionPath,
	id string,
	fields domain.MealFields,
) error {
	if err := ctx.Err(); err != nil {
		return storage.NewError("update", storage.KindOf(err), err)
	}

	s.mu.Lock()
	if err := s.takeFault("update"); err != nil {
		s.mu.Unlock()
		return err
	}
	e, ok := s.collections[path][id]
	if !ok {
		s.mu.Unlock()
		return storage.NewError("update", storage.KindNotFound, fmt.Errorf("document %s/%s", path, id))
	}
	old := e.fields
	e.fields = fields
	affected := s.affectedLocked(path, old, fields)
	s.mu.Unlock()

	poke(affected)
	return nil
}

// Delete removes id from path. Deleting a missing document is a no-op.
func (s *MemoryStorage) Delete(ctx context.Context, path storage.CollectionPath, id string) error {
	if err := ctx.Err(); err != nil {
		return storage.NewError("delete", storage.KindOf(err), err)
	}

	s.mu.Lock()
	if err := s.takeFault("delete"); err != nil {
		s.mu.Unlock()
		return err
	}
	e, ok := s.collections[path][id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.collections[path], id)
	affected := s.affectedLocked(path, e.fields, e.fields)
	s.mu.Unlock()

	poke(affected)
	return nil
}

// CommitTimestamps assigns createdAt to every document still missing one and
// notifies the affected listeners.
func (s *MemoryStorage) CommitTimestamps() {
	s.mu.Lock()
	var affected []*listener
	for path, coll := range s.collections {
		for _, e := range coll {
			if e.createdAt != nil {
				continue
			}
			ts := s.now()
			e.createdAt = &ts
			affected = append(affected, s.affectedLocked(path, e.fields, e.fields)...)
		}
	}
	s.mu.Unlock()

	poke(affected)
}

// query returns the matching documents in insertion order.
func (s *MemoryStorage) query(path storage.CollectionPath, filter storage.Filter) ([]storage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFault("query"); err != nil {
		return nil, err
	}

	var matched []*entry
	for _, e := range s.collections[path] {
		if filter.Matches(e.fields) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	docs := make([]storage.Document, 0, len(matched))
	for _, e := range matched {
		doc := storage.Document{ID: e.id, Fields: e.fields}
		if e.createdAt != nil {
			ts := *e.createdAt
			doc.CreatedAt = &ts
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// -----------------------------------------------------------------------------
// Live queries
// -----------------------------------------------------------------------------

type listener struct {
	id         uint64
	path       storage.CollectionPath
	filter     storage.Filter
	onSnapshot func([]storage.Document)
	onError    func(error)
	notify     chan struct{}
	done       chan struct{}
	once       sync.Once
}

func (l *listener) stop() {
	l.once.Do(func() {
		close(l.done)
		metrics.ActiveSubscriptions.WithLabelValues("memory").Dec()
	})
}

func (s *MemoryStorage) SubscribeQuery(
	path storage.CollectionPath,
	filter storage.Filter,
	onSnapshot func([]storage.Document),
	onError func(error),
) storage.Unsubscribe {
	l := &listener{
		path:       path,
		filter:     filter,
		onSnapshot: onSnapshot,
		onError:    onError,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	metrics.ActiveSubscriptions.WithLabelValues("memory").Inc()

	if err := filter.Validate(); err != nil {
		go s.fail(l, storage.NewError("listen", storage.KindInvalidArgument, err))
		return s.detachFunc(l)
	}

	s.mu.Lock()
	s.nextID++
	l.id = s.nextID
	s.listeners[l.id] = l
	s.mu.Unlock()

	l.notify <- struct{}{}
	go s.run(l)

	return s.detachFunc(l)
}

func (s *MemoryStorage) detachFunc(l *listener) storage.Unsubscribe {
	return func() {
		s.mu.Lock()
		delete(s.listeners, l.id)
		s.mu.Unlock()
		l.stop()
	}
}

func (s *MemoryStorage) run(l *listener) {
	for {
		select {
		case <-l.done:
			return
		case <-l.notify:
		}

		docs, err := s.query(l.path, l.filter)

		select {
		case <-l.done:
			return
		default:
		}

		if err != nil {
			s.fail(l, err)
			return
		}
		l.onSnapshot(docs)
	}
}

func (s *MemoryStorage) fail(l *listener, err error) {
	s.mu.Lock()
	delete(s.listeners, l.id)
	s.mu.Unlock()

	select {
	case <-l.done:
		return
	default:
	}
	l.stop()
	l.onError(err)
}

// affectedLocked returns the listeners on path whose filter matched the
// document before or after the change. Must be called with s.mu held.
func (s *MemoryStorage) affectedLocked(
	path storage.CollectionPath,
	before, after domain.MealFields,
) []*listener {
	var out []*listener
	for _, l := range s.listeners {
		if l.path != path {
			continue
		}
		if l.filter.Matches(before) || l.filter.Matches(after) {
			out = append(out, l)
		}
	}
	return out
}

func poke(ls []*listener) {
	for _, l := range ls {
		select {
		case l.notify <- struct{}{}:
		default:
		}
	}
}

// Close detaches every listener.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	ls := make([]*listener, 0, len(s.listeners))
	for id, l := range s.listeners {
		ls = append(ls, l)
		delete(s.listeners, id)
	}
	s.mu.Unlock()

	for _, l := range ls {
		l.stop()
	}
	return nil
}

// -----------------------------------------------------------------------------
// User Repository
// -----------------------------------------------------------------------------

type UserRepo struct {
	store *MemoryStorage
}

func NewUserRepo(store *MemoryStorage) *UserRepo {
	return &UserRepo{store: store}
}

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := strings.ToLower(user.Email)
	if _, exists := r.store.users[key]; exists {
		return storage.NewError("create_user", storage.KindAlreadyExists, errors.New("email already registered"))
	}
	u := *user
	r.store.users[key] = &u
	return nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	u, ok := r.store.users[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

// SetDisabled flips the disabled flag of an account.
func (r *UserRepo) SetDisabled(email string, disabled bool) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if u, ok := r.store.users[strings.ToLower(email)]; ok {
		u.Disabled = disabled
	}
}
