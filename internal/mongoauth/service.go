package mongoauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"go.uber.org/zap"

	"github.com/eugenenazirov/stoic-cms/internal/storage"
)

// keys owned by the bridge; callers cannot overwrite them through userData
var reservedKeys = map[string]bool{
	"_id":   true,
	"email": true,
}

// User is the subset of a stored record that is safe to expose.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SyncRequest asks for the user under Email to be created or updated with UserData.
type SyncRequest struct {
	Email    string   `json:"email"`
	UserData Document `json:"userData"`
}

// Validate checks the request shape.
func (r SyncRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.UserData, validation.By(validateUserData)),
	)
}

func validateUserData(value interface{}) error {
	data, _ := value.(Document)
	for key := range data {
		if key == "" || strings.HasPrefix(key, "$") {
			return fmt.Errorf("field name %q is not allowed", key)
		}
	}
	return nil
}

// SyncResult describes what a sync did.
type SyncResult struct {
	Created     bool        `json:"created"`
	Result      WriteResult `json:"result"`
	LocalUserID int64       `json:"localUserId,omitempty"`
}

// Message is the human readable outcome.
func (r SyncResult) Message() string {
	if r.Created {
		return "User created"
	}
	return "User updated"
}

// Service looks up and upserts users in the document database.
type Service struct {
	store  Store
	users  storage.Users
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLocalUsers mirrors synchronized users into the local user store.
func WithLocalUsers(users storage.Users) Option {
	return func(s *Service) {
		s.users = users
	}
}

// NewService returns a Service over store. A nil store makes every call
// fail with ErrStoreUnavailable.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetUser returns the user stored under email.
func (s *Service) GetUser(ctx context.Context, email string) (*User, error) {
	// documents are matched on the address as stored; case is preserved
	email = strings.TrimSpace(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, validation.Errors{"email": err})
	}
	if s.store == nil {
		return nil, ErrStoreUnavailable
	}

	doc, err := s.store.FindUser(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if doc == nil {
		return nil, ErrUserNotFound
	}

	user := &User{ID: idString(doc["_id"]), Email: email}
	if stored, ok := doc["email"].(string); ok && stored != "" {
		user.Email = stored
	}
	return user, nil
}

// SyncUser updates the user under req.Email with req.UserData when it
// exists and inserts it otherwise. The two stores are written in sequence
// without a transaction; a failed local mirror is logged and not returned.
func (s *Service) SyncUser(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if s.store == nil {
		return nil, ErrStoreUnavailable
	}

	fields := sanitize(req.UserData)

	existing, err := s.store.FindUser(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	result := &SyncResult{}
	switch {
	case existing != nil && len(fields) == 0:
		// an empty $set is rejected by the server
		result.Result = WriteResult{Acknowledged: true, MatchedCount: 1}
	case existing != nil:
		result.Result, err = s.store.UpdateUser(ctx, req.Email, fields)
		if err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
	default:
		doc := make(Document, len(fields)+1)
		for key, value := range fields {
			doc[key] = value
		}
		doc["email"] = req.Email
		result.Result, err = s.store.CreateUser(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		result.Created = true
	}

	result.LocalUserID = s.mirror(ctx, req.Email, fields)
	return result, nil
}

// mirror copies the known user fields into the local store.
func (s *Service) mirror(ctx context.Context, email string, fields Document) int64 {
	if s.users == nil {
		return 0
	}

	user := &storage.User{Email: email}
	existing, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		user = existing
	case !errors.Is(err, storage.ErrUserNotFound):
		s.logger.Warn("local user lookup failed", zap.String("email", email), zap.Error(err))
		return 0
	}

	if username, ok := fields["username"].(string); ok && username != "" {
		user.Username = username
	}
	if confirmed, ok := fields["confirmed"].(bool); ok {
		user.Confirmed = confirmed
	}
	if blocked, ok := fields["blocked"].(bool); ok {
		user.Blocked = blocked
	}

	stored, err := s.users.Upsert(ctx, user)
	if err != nil {
		s.logger.Warn("local user mirror failed", zap.String("email", email), zap.Error(err))
		return 0
	}
	return stored.ID
}

func sanitize(data Document) Document {
	out := make(Document, len(data))
	for key, value := range data {
		if reservedKeys[key] {
			continue
		}
		out[key] = value
	}
	return out
}
