package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/mealog/internal/core/domain"
)

// Field names as stored in documents. They match the layout written by the
// original web client so existing collections can be read unchanged.
const (
	FieldDate      = "date"
	FieldType      = "type"
	FieldDish      = "dish"
	FieldMemo      = "memo"
	FieldCreatedAt = "createdAt"
)

var (
	// ErrUnsupportedFilter is returned for filters on fields that cannot be queried.
	ErrUnsupportedFilter = errors.New("unsupported filter field")

	// ErrInvalidPath is returned for collection paths that are not owner scoped.
	ErrInvalidPath = errors.New("invalid collection path")
)

// CollectionPath names a collection of meal documents, e.g.
// "artifacts/my-app/users/u123/meals".
type CollectionPath string

// MealsPath returns the owner-scoped collection for namespace and owner.
// The store's access policy relies on this layout to confine each owner to
// their own subtree.
func MealsPath(namespace string, owner domain.OwnerID) CollectionPath {
	return CollectionPath(fmt.Sprintf("%s/users/%s/meals", namespace, owner))
}

// Owner extracts the owner segment from a path produced by MealsPath.
func (p CollectionPath) Owner() (domain.OwnerID, error) {
	parts := strings.Split(string(p), "/")
	n := len(parts)
	if n < 4 || parts[n-1] != "meals" || parts[n-3] != "users" || parts[n-2] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, string(p))
	}
	return domain.OwnerID(parts[n-2]), nil
}

// Filter is an equality filter on one document field.
type Filter struct {
	Field  string
	Equals string
}

// Validate reports ErrUnsupportedFilter for fields other than date and type.
func (f Filter) Validate() error {
	switch f.Field {
	case FieldDate, FieldType:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFilter, f.Field)
	}
}

// Matches reports whether fields satisfy the filter.
func (f Filter) Matches(fields domain.MealFields) bool {
	switch f.Field {
	case FieldDate:
		return fields.Date.String() == f.Equals
	case FieldType:
		return string(fields.MealType) == f.Equals
	default:
		return false
	}
}

// Document is one stored meal as delivered in a snapshot.
type Document struct {
	ID     string
	Fields domain.MealFields

	// CreatedAt is nil while the server timestamp has not been committed
	// or when the stored value is missing or unreadable.
	CreatedAt *time.Time
}

// Unsubscribe detaches a live query listener. Implementations make it safe to
// call more than once.
type Unsubscribe func()

// DocumentStore is the persistence collaborator. Implementations assign ids and
// creation timestamps, deliver full result sets on every change of a live
// query, and return *Error values so failures can be classified.
type DocumentStore interface {
	// Add stores a new document and returns its id. The store sets createdAt.
	Add(ctx context.Context, path CollectionPath, fields domain.MealFields) (string, error)

	// Update replaces the editable fields of an existing document.
	Update(ctx context.Context, path CollectionPath, id string, fields domain.MealFields) error

	// Delete removes a document.
	Delete(ctx context.Context, path CollectionPath, id string) error

	// SubscribeQuery delivers the documents in path matching filter: once for
	// the initial result and again after every change that affects it. After
	// onError is called the subscription delivers nothing more.
	SubscribeQuery(
		path CollectionPath,
		filter Filter,
		onSnapshot func([]Document),
		onError func(error),
	) Unsubscribe

	// Close releases the store's resources.
	Close() error
}

// UserRepository stores email/password accounts.
type UserRepository interface {
	// Create saves a new user. Returns an already-exists *Error when the email is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByEmail returns nil, nil when no user has the email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}
