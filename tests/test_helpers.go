package tests

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"github.com/kelasku/kelasku/internal/domain"
)

// SetupTestDB spins up a fresh MongoDB container and returns the database connection
// along with a cleanup function.
func SetupTestDB(t *testing.T) (*mongo.Database, func()) {
	ctx := context.Background()

	mongodbContainer, err := mongodb.Run(ctx, "mongo:latest")
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}

	endpoint, err := mongodbContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}

	return mongoClient.Database("test_db"), func() {
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Printf("failed to disconnect mongo: %v", err)
		}
		if err := mongodbContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %v", err)
		}
	}
}

// SeedAdmin inserts an admin account directly into the users collection.
// Registration only hands out the student role, so tests that exercise the
// admin surface have to bootstrap one the same way ops would.
func SeedAdmin(t *testing.T, db *mongo.Database, email, password string) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	now := time.Now().UTC()
	admin := &domain.User{
		ID:           ulid.Make().String(),
		Email:        email,
		Name:         "Test Admin",
		PasswordHash: string(hash),
		Roles:        []string{domain.RoleAdmin, domain.RoleStudent},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := db.Collection("users").InsertOne(context.Background(), admin); err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}
	return admin.ID
}

// StubPresigner implements handler.MediaPresigner without an object store.
type StubPresigner struct{}

func (StubPresigner) PresignGet(ctx context.Context, key string) (string, error) {
	return "https://media.test/signed/" + key, nil
}
