// Package storage persists the local copy of end-user records, the store the
// document database bridge mirrors synchronized users into.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultProvider = "local"

var (
	// ErrUserNotFound indicates no local user exists for the given email.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidUser indicates the user is missing its email key.
	ErrInvalidUser = errors.New("user email is required")
)

// User is a row of the up_users table.
type User struct {
	bun.BaseModel `bun:"table:up_users,alias:u"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	DocumentID string    `bun:"document_id,notnull" json:"documentId"`
	Username   string    `bun:"username,notnull" json:"username"`
	Email      string    `bun:"email,notnull,unique" json:"email"`
	Provider   string    `bun:"provider,notnull" json:"provider"`
	Confirmed  bool      `bun:"confirmed,notnull" json:"confirmed"`
	Blocked    bool      `bun:"blocked,notnull" json:"blocked"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

// Users provides access to local user records keyed by email.
type Users interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	Upsert(ctx context.Context, user *User) (*User, error)
}

// BunUsers stores users through bun, on either SQLite or PostgreSQL.
type BunUsers struct {
	db    bun.IDB
	clock func() time.Time
}

// NewBunUsers returns a Users implementation backed by db.
func NewBunUsers(db bun.IDB) *BunUsers {
	return &BunUsers{
		db: db,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CreateSchema creates the up_users table when it does not exist yet.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().Model((*User)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create up_users table: %w", err)
	}
	return nil
}

// FindByEmail returns the user registered under email.
func (s *BunUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidUser
	}

	user := new(User)
	err := s.db.NewSelect().
		Model(user).
		Where("? = ?", bun.Ident("email"), email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return user, nil
}

// Upsert inserts user or, when the email is taken, updates the mutable
// columns of the existing row. The stored row is returned.
func (s *BunUsers) Upsert(ctx context.Context, user *User) (*User, error) {
	if user == nil {
		return nil, ErrInvalidUser
	}
	row := *user
	row.Email = NormalizeEmail(row.Email)
	if row.Email == "" {
		return nil, ErrInvalidUser
	}
	if row.DocumentID == "" {
		row.DocumentID = uuid.NewString()
	}
	if row.Provider == "" {
		row.Provider = defaultProvider
	}
	if row.Username == "" {
		row.Username = usernameFromEmail(row.Email)
	}
	now := s.clock()
	row.ID = 0
	row.CreatedAt = now
	row.UpdatedAt = now

	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (email) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("confirmed = EXCLUDED.confirmed").
		Set("blocked = EXCLUDED.blocked").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	return s.FindByEmail(ctx, row.Email)
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func usernameFromEmail(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
