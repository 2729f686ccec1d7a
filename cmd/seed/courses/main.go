package main

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kelasku/kelasku/internal/config"
	"github.com/kelasku/kelasku/internal/domain"
	"github.com/kelasku/kelasku/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		log.Fatalf("Failed to connect to Mongo: %v", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDB.Database)
	courseRepo := repository.NewMongoCourseRepository(db)
	lessonRepo := repository.NewMongoLessonRepository(db)

	courses := []struct {
		course  domain.Course
		lessons []domain.Lesson
	}{
		{
			course: domain.Course{
				Title:       "Go untuk Backend Engineer",
				Slug:        "go-backend",
				Description: "Dari dasar bahasa sampai deploy service produksi.",
				Price:       299000,
				Currency:    "IDR",
				Published:   true,
			},
			lessons: []domain.Lesson{
				{Title: "Pengenalan Go", Position: 1, DurationSec: 720, VideoKey: "go-backend/01-intro.mp4", Preview: true},
				{Title: "Struct dan Interface", Position: 2, DurationSec: 1500, VideoKey: "go-backend/02-structs.mp4"},
				{Title: "Goroutine dan Channel", Position: 3, DurationSec: 1800, VideoKey: "go-backend/03-concurrency.mp4"},
				{Title: "HTTP Service dengan Fiber", Position: 4, DurationSec: 2100, VideoKey: "go-backend/04-fiber.mp4"},
			},
		},
		{
			course: domain.Course{
				Title:       "MongoDB untuk Aplikasi Web",
				Slug:        "mongodb-web",
				Description: "Data modeling, indexing dan operasi atomik.",
				Price:       249000,
				Currency:    "IDR",
				Published:   true,
			},
			lessons: []domain.Lesson{
				{Title: "Dokumen dan Koleksi", Position: 1, DurationSec: 900, VideoKey: "mongodb-web/01-documents.mp4", Preview: true},
				{Title: "Index dan Query Plan", Position: 2, DurationSec: 1600, VideoKey: "mongodb-web/02-indexes.mp4"},
				{Title: "Update Atomik", Position: 3, DurationSec: 1400, VideoKey: "mongodb-web/03-atomic.mp4"},
			},
		},
		{
			course: domain.Course{
				Title:       "Sistem Pembayaran Online",
				Slug:        "payment-systems",
				Description: "Integrasi payment gateway, webhook dan rekonsiliasi.",
				Price:       399000,
				Currency:    "IDR",
				Published:   false, // draft
			},
			lessons: []domain.Lesson{
				{Title: "Arsitektur Payment Gateway", Position: 1, DurationSec: 1100, VideoKey: "payment-systems/01-architecture.mp4", Preview: true},
			},
		},
	}

	for _, entry := range courses {
		course := entry.course
		if err := courseRepo.Create(ctx, &course); err != nil {
			if err == domain.ErrAlreadyExists {
				log.Printf("Course %s already exists, skipping", course.Slug)
				continue
			}
			log.Fatalf("Failed to create course %s: %v", course.Slug, err)
		}
		for _, lesson := range entry.lessons {
			lesson.CourseID = course.ID
			if err := lessonRepo.Create(ctx, &lesson); err != nil {
				log.Fatalf("Failed to create lesson %s: %v", lesson.Title, err)
			}
		}
		log.Printf("Seeded course %s with %d lessons", course.Slug, len(entry.lessons))
	}

	log.Println("Done")
}
