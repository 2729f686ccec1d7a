package domain

import (
	"context"
	"time"
)

// Course represents a purchasable course in the catalog
type Course struct {
	ID          string    `bson:"_id,omitempty" json:"id"`
	Title       string    `bson:"title" json:"title"`
	Slug        string    `bson:"slug" json:"slug"`
	Description string    `bson:"description,omitempty" json:"description"`
	Price       int64     `bson:"price" json:"price"` // Price in smallest currency unit (e.g., IDR)
	Currency    string    `bson:"currency" json:"currency"`
	CoverURL    string    `bson:"cover_url,omitempty" json:"cover_url,omitempty"`
	Published   bool      `bson:"published" json:"published"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// CourseRepository defines operations for managing courses
type CourseRepository interface {
	Create(ctx context.Context, course *Course) error
	GetByID(ctx context.Context, id string) (*Course, error)
	GetBySlug(ctx context.Context, slug string) (*Course, error)
	ListPublished(ctx context.Context) ([]*Course, error)
	ListAll(ctx context.Context) ([]*Course, error)
	Update(ctx context.Context, course *Course) error
	Delete(ctx context.Context, id string) error
}
