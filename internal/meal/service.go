// Package meal validates meal edits and sends them to the document store
// through the retry policy.
package meal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/infra/retry"
	"github.com/vietddude/mealog/internal/infra/storage"
	"github.com/vietddude/mealog/internal/livequery"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid meal")

	// ErrNoOwner is returned when an operation needs a signed-in owner.
	ErrNoOwner = errors.New("no signed-in user")
)

// ValidationError reports the first invalid field of an Input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Input is a meal as entered by the user, before validation.
type Input struct {
	Date     string `json:"date"`
	MealType string `json:"type"`
	DishName string `json:"dish"`
	Memo     string `json:"memo"`
}

// Fields validates in and returns the trimmed fields to store.
func (in Input) Fields() (domain.MealFields, error) {
	if strings.TrimSpace(in.Date) == "" {
		return domain.MealFields{}, &ValidationError{Field: "date", Message: "date is required"}
	}
	date, err := domain.ParseDate(strings.TrimSpace(in.Date))
	if err != nil {
		return domain.MealFields{}, &ValidationError{Field: "date", Message: err.Error()}
	}
	mealType, err := domain.ParseMealType(in.MealType)
	if err != nil {
		return domain.MealFields{}, &ValidationError{Field: "type", Message: err.Error()}
	}
	dish := strings.TrimSpace(in.DishName)
	if dish == "" {
		return domain.MealFields{}, &ValidationError{Field: "dish", Message: "dish name is required"}
	}
	return domain.MealFields{
		Date:     date,
		MealType: mealType,
		DishName: dish,
		Memo:     strings.TrimSpace(in.Memo),
	}, nil
}

// Service performs meal operations for signed-in owners.
type Service struct {
	store     storage.DocumentStore
	namespace string
	policy    retry.Policy
	log       *slog.Logger
}

func NewService(store storage.DocumentStore, namespace string, policy retry.Policy, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if policy.Logger == nil {
		policy.Logger = log
	}
	return &Service{
		store:     store,
		namespace: namespace,
		policy:    policy,
		log:       log,
	}
}

// Add stores a new meal and returns its id.
func (s *Service) Add(ctx context.Context, owner domain.OwnerID, in Input) (string, error) {
	if owner.IsZero() {
		return "", ErrNoOwner
	}
	fields, err := in.Fields()
	if err != nil {
		return "", err
	}

	path := storage.MealsPath(s.namespace, owner)
	id, err := retry.Do(ctx, s.policy, "add_meal", func(ctx context.Context) (string, error) {
		return s.store.Add(ctx, path, fields)
	})
	if err != nil {
		return "", fmt.Errorf("add meal: %w", err)
	}

	s.log.Info("Meal added", "owner", owner, "id", id, "date", fields.Date.String(), "type", fields.MealType)
	return id, nil
}

// Update replaces the editable fields of meal id. CreatedAt is left alone.
func (s *Service) Update(ctx context.Context, owner domain.OwnerID, id string, in Input) error {
	if owner.IsZero() {
		return ErrNoOwner
	}
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "id", Message: "meal id is required"}
	}
	fields, err := in.Fields()
	if err != nil {
		return err
	}

	path := storage.MealsPath(s.namespace, owner)
	err = retry.Run(ctx, s.policy, "update_meal", func(ctx context.Context) error {
		return s.store.Update(ctx, path, id, fields)
	})
	if err != nil {
		return fmt.Errorf("update meal %s: %w", id, err)
	}

	s.log.Info("Meal updated", "owner", owner, "id", id)
	return nil
}

// Delete removes meal id. The caller is responsible for confirming with the user.
func (s *Service) Delete(ctx context.Context, owner domain.OwnerID, id string) error {
	if owner.IsZero() {
		return ErrNoOwner
	}
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "id", Message: "meal id is required"}
	}

	path := storage.MealsPath(s.namespace, owner)
	err := retry.Run(ctx, s.policy, "delete_meal", func(ctx context.Context) error {
		return s.store.Delete(ctx, path, id)
	})
	if err != nil {
		return fmt.Errorf("delete meal %s: %w", id, err)
	}

	s.log.Info("Meal deleted", "owner", owner, "id", id)
	return nil
}

// Watch starts a live query for owner's meals on date.
func (s *Service) Watch(
	owner domain.OwnerID,
	date civil.Date,
	onUpdate func([]domain.MealRecord),
	onError func(error),
) (unsubscribe func()) {
	return livequery.Subscribe(s.store, s.namespace, owner, date, onUpdate, onError)
}

// Watcher returns a re-subscribing watcher bound to this service's store.
func (s *Service) Watcher(cfg livequery.WatcherConfig) *livequery.Watcher {
	cfg.Store = s.store
	cfg.Namespace = s.namespace
	if cfg.Logger == nil {
		cfg.Logger = s.log
	}
	return livequery.NewWatcher(cfg)
}

// List returns the first snapshot of owner's meals on date.
func (s *Service) List(ctx context.Context, owner domain.OwnerID, date civil.Date) ([]domain.MealRecord, error) {
	if owner.IsZero() {
		return nil, ErrNoOwner
	}

	type result struct {
		records []domain.MealRecord
		err     error
	}
	ch := make(chan result, 1)
	send := func(r result) {
		select {
		case ch <- r:
		default:
		}
	}

	unsubscribe := s.Watch(owner, date,
		func(records []domain.MealRecord) { send(result{records: records}) },
		func(err error) { send(result{err: err}) },
	)
	defer unsubscribe()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("list meals: %w", r.err)
		}
		return r.records, nil
	}
}
