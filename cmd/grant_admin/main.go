package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kelasku/kelasku/internal/config"
	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/repository"
)

// Promotes an existing account to admin. Registration only ever grants the
// student role, so the first admin of a deployment is created here.
func main() {
	email := flag.String("email", "", "email of the account to promote")
	flag.Parse()

	if *email == "" {
		log.Fatal("Usage: grant_admin -email user@example.com")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		log.Fatalf("Failed to connect to Mongo: %v", err)
	}
	defer client.Disconnect(ctx)

	userRepo := repository.NewMongoUserRepository(client.Database(cfg.MongoDB.Database))

	user, err := userRepo.GetByEmail(ctx, *email)
	if err != nil {
		log.Fatalf("Failed to look up %s: %v", *email, err)
	}

	if user.HasRole(domain.RoleAdmin) {
		log.Printf("%s is already an admin", user.Email)
		return
	}

	user.Roles = append(user.Roles, domain.RoleAdmin)
	if err := userRepo.Update(ctx, user); err != nil {
		log.Fatalf("Failed to update %s: %v", user.Email, err)
	}
	log.Printf("Granted admin to %s", user.Email)
}
