package mongoauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/eugenenazirov/stoic-cms/internal/config"
)

const fallbackDatabase = "test"

// MongoStore implements Store on a single long-lived client.
type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
}

// Connect creates the client. An unreachable deployment is logged, not
// returned: the driver keeps reconnecting and the health check reports it.
func Connect(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	if !cfg.Enabled() {
		return nil, ErrStoreUnavailable
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	name := resolveDatabase(cfg)
	if err := client.Ping(ctx, nil); err != nil {
		logger.Warn("mongodb is not reachable yet", zap.String("database", name), zap.Error(err))
	} else {
		logger.Info("mongodb connection established",
			zap.String("database", name),
			zap.String("collection", cfg.Collection),
		)
	}

	return &MongoStore{
		client: client,
		users:  client.Database(name).Collection(cfg.Collection),
	}, nil
}

// FindUser implements Store.
func (s *MongoStore) FindUser(ctx context.Context, email string) (Document, error) {
	var doc bson.M
	err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return Document(doc), nil
}

// CreateUser implements Store.
func (s *MongoStore) CreateUser(ctx context.Context, doc Document) (WriteResult, error) {
	res, err := s.users.InsertOne(ctx, bson.M(doc))
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{
		Acknowledged: true,
		InsertedID:   idString(res.InsertedID),
	}, nil
}

// UpdateUser implements Store.
func (s *MongoStore) UpdateUser(ctx context.Context, email string, fields Document) (WriteResult, error) {
	res, err := s.users.UpdateOne(ctx, bson.M{"email": email}, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{
		Acknowledged:  true,
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
	}, nil
}

// Ping reports whether the deployment is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func resolveDatabase(cfg config.MongoConfig) string {
	if cfg.Database != "" {
		return cfg.Database
	}
	if name := databaseFromURI(cfg.URI); name != "" {
		return name
	}
	return fallbackDatabase
}

// databaseFromURI extracts the default database from a connection string.
// Multi-host URIs are not valid net/url input, so the path is cut by hand.
func databaseFromURI(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return ""
	}
	name := rest[slash+1:]
	if q := strings.IndexByte(name, '?'); q >= 0 {
		name = name[:q]
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}
