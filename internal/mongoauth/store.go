// Package mongoauth bridges end-user records into an external MongoDB
// collection keyed by email, mirroring them into the local user store.
package mongoauth

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when the document database has no user for the email.
	ErrUserNotFound = errors.New("user not found in MongoDB")
	// ErrStoreUnavailable is returned when no document database is configured.
	ErrStoreUnavailable = errors.New("document database is not configured")
	// ErrInvalidRequest wraps input validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// Document is a schemaless user record as stored in the document database.
type Document map[string]any

// WriteResult reports the outcome of an insert or update.
type WriteResult struct {
	Acknowledged  bool   `json:"acknowledged"`
	InsertedID    string `json:"insertedId,omitempty"`
	MatchedCount  int64  `json:"matchedCount"`
	ModifiedCount int64  `json:"modifiedCount"`
}

// Store is the document database surface used by the bridge.
type Store interface {
	// FindUser returns the user stored under email, or nil when there is none.
	FindUser(ctx context.Context, email string) (Document, error)
	CreateUser(ctx context.Context, doc Document) (WriteResult, error)
	// UpdateUser sets fields on the user stored under email.
	UpdateUser(ctx context.Context, email string, fields Document) (WriteResult, error)
}

// idString renders a document identifier for JSON responses.
func idString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case interface{ Hex() string }:
		return v.Hex()
	default:
		return fmt.Sprint(v)
	}
}
