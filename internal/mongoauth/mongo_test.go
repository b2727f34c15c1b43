package mongoauth

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/stoic-cms/internal/config"
)

func TestDatabaseFromURI(t *testing.T) {
	cases := map[string]string{
		"mongodb://localhost:27017":                                 "",
		"mongodb://localhost:27017/":                                "",
		"mongodb://user:pw@localhost:27017/stoic":                   "stoic",
		"mongodb://h1:27017,h2:27017/stoic?replicaSet=rs0":          "stoic",
		"mongodb+srv://user:pw@cluster0.example.net/app?retryWrites": "app",
		"mongodb://localhost/my%20db":                               "my db",
	}
	for uri, want := range cases {
		if got := databaseFromURI(uri); got != want {
			t.Fatalf("databaseFromURI(%q) = %q, want %q", uri, got, want)
		}
	}
}

func TestResolveDatabase(t *testing.T) {
	if got := resolveDatabase(config.MongoConfig{URI: "mongodb://localhost", Database: "explicit"}); got != "explicit" {
		t.Fatalf("expected explicit database, got %s", got)
	}
	if got := resolveDatabase(config.MongoConfig{URI: "mongodb://localhost"}); got != fallbackDatabase {
		t.Fatalf("expected fallback database, got %s", got)
	}
}

func TestIDString(t *testing.T) {
	oid := primitive.NewObjectID()
	if got := idString(oid); got != oid.Hex() {
		t.Fatalf("expected hex id %s, got %s", oid.Hex(), got)
	}
	if got := idString("plain"); got != "plain" {
		t.Fatalf("unexpected string id %s", got)
	}
	if got := idString(nil); got != "" {
		t.Fatalf("expected empty id for nil, got %s", got)
	}
	if got := idString(42); got != "42" {
		t.Fatalf("unexpected numeric id %s", got)
	}
}

func TestConnectWithoutURI(t *testing.T) {
	if _, err := Connect(context.Background(), config.MongoConfig{}, zaptest.NewLogger(t)); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

const mockNamespace = "stoic.users"

func TestMongoStoreAgainstMockDeployment(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("find miss returns nil", func(mt *mtest.T) {
		store := &MongoStore{client: mt.Client, users: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mockNamespace, mtest.FirstBatch))

		doc, err := store.FindUser(ctx, "nobody@example.com")
		if err != nil || doc != nil {
			mt.Fatalf("expected (nil, nil) for a missing user, got (%v, %v)", doc, err)
		}
	})

	mt.Run("find hit matches the email as given", func(mt *mtest.T) {
		store := &MongoStore{client: mt.Client, users: mt.Coll}
		oid := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mockNamespace, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: oid},
			{Key: "email", Value: "John@Example.com"},
		}))

		doc, err := store.FindUser(ctx, "John@Example.com")
		if err != nil {
			mt.Fatalf("FindUser returned error: %v", err)
		}
		if doc["email"] != "John@Example.com" || idString(doc["_id"]) != oid.Hex() {
			mt.Fatalf("unexpected document %v", doc)
		}

		started := mt.GetStartedEvent()
		if started == nil || started.CommandName != "find" {
			mt.Fatalf("expected a find command, got %+v", started)
		}
		if email, ok := started.Command.Lookup("filter", "email").StringValueOK(); !ok || email != "John@Example.com" {
			mt.Fatalf("expected filter on the exact email, got %s", started.Command)
		}
	})

	mt.Run("find error is returned", func(mt *mtest.T) {
		store := &MongoStore{client: mt.Client, users: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    13,
			Name:    "Unauthorized",
			Message: "not authorized",
		}))

		if _, err := store.FindUser(ctx, "zeno@example.com"); err == nil {
			mt.Fatalf("expected server error to be returned")
		}
	})

	mt.Run("create reports inserted id", func(mt *mtest.T) {
		store := &MongoStore{client: mt.Client, users: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		res, err := store.CreateUser(ctx, Document{"email": "zeno@example.com", "username": "zeno"})
		if err != nil {
			mt.Fatalf("CreateUser returned error: %v", err)
		}
		if !res.Acknowledged || len(res.InsertedID) != 24 {
			mt.Fatalf("expected acknowledged insert with an object id, got %+v", res)
		}

		started := mt.GetStartedEvent()
		if started == nil || started.CommandName != "insert" {
			mt.Fatalf("expected an insert command, got %+v", started)
		}
	})

	mt.Run("update sends $set and reports counts", func(mt *mtest.T) {
		store := &MongoStore{client: mt.Client, users: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		res, err := store.UpdateUser(ctx, "John@Example.com", Document{"username": "john"})
		if err != nil {
			mt.Fatalf("UpdateUser returned error: %v", err)
		}
		if !res.Acknowledged || res.MatchedCount != 1 || res.ModifiedCount != 1 {
			mt.Fatalf("unexpected write result %+v", res)
		}

		started := mt.GetStartedEvent()
		if started == nil || started.CommandName != "update" {
			mt.Fatalf("expected an update command, got %+v", started)
		}
		if email, ok := started.Command.Lookup("updates", "0", "q", "email").StringValueOK(); !ok || email != "John@Example.com" {
			mt.Fatalf("expected update filter on the exact email, got %s", started.Command)
		}
		if username, ok := started.Command.Lookup("updates", "0", "u", "$set", "username").StringValueOK(); !ok || username != "john" {
			mt.Fatalf("expected fields under $set, got %s", started.Command)
		}
	})
}
