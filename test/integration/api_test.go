package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/stoic-cms/internal/api"
	"github.com/eugenenazirov/stoic-cms/internal/config"
	"github.com/eugenenazirov/stoic-cms/internal/database"
	"github.com/eugenenazirov/stoic-cms/internal/mongoauth"
	"github.com/eugenenazirov/stoic-cms/internal/storage"
)

const testSecret = "integration-jwt-secret"

// documentStore keeps documents in memory and mimics the driver's write results.
type documentStore struct {
	mu   sync.Mutex
	docs map[string]mongoauth.Document
	seq  int
}

func (s *documentStore) FindUser(_ context.Context, email string) (mongoauth.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[email], nil
}

func (s *documentStore) CreateUser(_ context.Context, doc mongoauth.Document) (mongoauth.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("%024x", s.seq)
	stored := mongoauth.Document{"_id": id}
	for k, v := range doc {
		stored[k] = v
	}
	s.docs[doc["email"].(string)] = stored
	return mongoauth.WriteResult{Acknowledged: true, InsertedID: id}, nil
}

func (s *documentStore) UpdateUser(_ context.Context, email string, fields mongoauth.Document) (mongoauth.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[email]
	if !ok {
		return mongoauth.WriteResult{Acknowledged: true}, nil
	}
	for k, v := range fields {
		doc[k] = v
	}
	return mongoauth.WriteResult{Acknowledged: true, MatchedCount: 1, ModifiedCount: 1}, nil
}

type harness struct {
	handler http.Handler
	users   *storage.BunUsers
}

func newHarness(t *testing.T, store mongoauth.Store) harness {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	db, err := database.Open(ctx, config.DatabaseConfig{
		Client:   config.ClientSQLite,
		Filename: filepath.Join(t.TempDir(), "data.db"),
		Pool:     config.PoolConfig{AcquireTimeout: time.Second},
	}, logger)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err := storage.CreateSchema(ctx, db); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	users := storage.NewBunUsers(db)

	service := mongoauth.NewService(store, logger, mongoauth.WithLocalUsers(users))
	handler := api.NewHandler(service,
		api.WithEnvironment("test"),
		api.WithHealthCheck("database", db.PingContext),
	)
	router := api.NewRouter(handler, logger,
		api.WithLogging(false),
		api.WithRateLimit(0, 0),
		api.WithAuthSecrets(testSecret),
	)
	return harness{handler: router, users: users}
}

func bearer(t *testing.T) map[string]string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  1,
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
	}
}

func performRequest(t *testing.T, handler http.Handler, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIntegrationFlow(t *testing.T) {
	h := newHarness(t, &documentStore{docs: make(map[string]mongoauth.Document)})
	headers := bearer(t)

	rec := performRequest(t, h.handler, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", rec.Code)
	}

	rec = performRequest(t, h.handler, http.MethodGet, "/api/mongo-auth/user/zeno@example.com", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = performRequest(t, h.handler, http.MethodGet, "/api/mongo-auth/user/zeno@example.com", nil, headers)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before sync, got %d", rec.Code)
	}

	payload, _ := json.Marshal(map[string]any{
		"email":    "Zeno@Example.com",
		"userData": map[string]any{"username": "zeno", "confirmed": true},
	})
	rec = performRequest(t, h.handler, http.MethodPost, "/api/mongo-auth/sync", payload, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from sync, got %d: %s", rec.Code, rec.Body.String())
	}
	var synced struct {
		Message     string `json:"message"`
		LocalUserID int64  `json:"localUserId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&synced); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if synced.Message != "User created" || synced.LocalUserID == 0 {
		t.Fatalf("unexpected sync response %+v", synced)
	}

	local, err := h.users.FindByEmail(context.Background(), "zeno@example.com")
	if err != nil {
		t.Fatalf("expected mirrored local user: %v", err)
	}
	if local.Username != "zeno" || !local.Confirmed || local.ID != synced.LocalUserID {
		t.Fatalf("unexpected local user %+v", local)
	}

	payload, _ = json.Marshal(map[string]any{
		"email":    "Zeno@Example.com",
		"userData": map[string]any{"blocked": true},
	})
	rec = performRequest(t, h.handler, http.MethodPost, "/api/mongo-auth/sync", payload, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from second sync, got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&synced); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if synced.Message != "User updated" {
		t.Fatalf("expected update, got %q", synced.Message)
	}

	rec = performRequest(t, h.handler, http.MethodGet, "/api/mongo-auth/user/Zeno@Example.com", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after sync, got %d", rec.Code)
	}
	var found struct {
		Success bool `json:"success"`
		User    struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&found); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !found.Success || found.User.Email != "Zeno@Example.com" || found.User.ID == "" {
		t.Fatalf("unexpected user response %+v", found)
	}
}

// TestIntegrationMongo runs the bridge against a live server when
// MONGODB_TEST_URI points at one.
func TestIntegrationMongo(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := mongoauth.Connect(ctx, config.MongoConfig{
		URI:            uri,
		Collection:     fmt.Sprintf("users_it_%d", time.Now().UnixNano()),
		ConnectTimeout: 10 * time.Second,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	h := newHarness(t, store)
	headers := bearer(t)
	email := fmt.Sprintf("it-%d@example.com", time.Now().UnixNano())

	payload, _ := json.Marshal(map[string]any{"email": email, "userData": map[string]any{"username": "it"}})
	rec := performRequest(t, h.handler, http.MethodPost, "/api/mongo-auth/sync", payload, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from sync, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = performRequest(t, h.handler, http.MethodGet, "/api/mongo-auth/user/"+email, nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from lookup, got %d: %s", rec.Code, rec.Body.String())
	}
}
