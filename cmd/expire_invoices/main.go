package main

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kelasku/kelasku/internal/config"
	"github.com/kelasku/kelasku/internal/repository"
	"github.com/kelasku/kelasku/internal/service"
)

// One-shot expiry sweep, for running from cron instead of (or alongside) the
// in-process ticker. Safe to run concurrently with the API: the status
// transition is conditional, so a sweep and a payment racing on the same
// invoice cannot both apply.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		log.Fatalf("Failed to connect to Mongo: %v", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDB.Database)

	invoiceRepo := repository.NewMongoInvoiceRepository(db)
	entitlementRepo := repository.NewMongoEntitlementRepository(db)
	courseRepo := repository.NewMongoCourseRepository(db)
	userRepo := repository.NewMongoUserRepository(db)

	gw := service.NewPaymentGateway(cfg.Payment, cfg.Server.BaseURL)
	entitlements := service.NewEntitlementService(entitlementRepo, courseRepo)
	lifecycle := service.NewLifecycleManager(
		invoiceRepo,
		entitlements,
		courseRepo,
		userRepo,
		gw,
		time.Duration(cfg.Payment.ExpiryHours)*time.Hour,
	)

	n, err := lifecycle.ExpireOverdue(ctx)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	log.Printf("Expired %d invoices", n)
}
