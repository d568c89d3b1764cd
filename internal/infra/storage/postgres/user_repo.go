package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/vietddude/mealog/internal/core/domain"
)

// UserRepo implements storage.UserRepository using PostgreSQL.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a new PostgreSQL user repository.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

type userRow struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	Disabled     bool   `db:"disabled"`
}

// Create saves a new user.
func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, disabled)
		VALUES (:id, :email, :password_hash, :disabled)
	`
	_, err := r.db.NamedExecContext(ctx, query, userRow{
		ID:           string(user.ID),
		Email:        strings.ToLower(user.Email),
		PasswordHash: user.PasswordHash,
		Disabled:     user.Disabled,
	})
	return classify("create_user", err)
}

// GetByEmail returns nil, nil when no user has the email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, email, password_hash, disabled FROM users WHERE email = $1`,
		strings.ToLower(email),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get_user", err)
	}
	return &domain.User{
		ID:           domain.OwnerID(row.ID),
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		Disabled:     row.Disabled,
	}, nil
}
