package domain

import (
	"context"
	"time"
)

// Lesson is one unit of course content. VideoKey points at the object in the
// media bucket; playback URLs are minted on demand for entitled users.
type Lesson struct {
	ID          string    `bson:"_id,omitempty" json:"id"`
	CourseID    string    `bson:"course_id" json:"course_id"`
	Title       string    `bson:"title" json:"title"`
	Position    int       `bson:"position" json:"position"`
	DurationSec int       `bson:"duration_sec,omitempty" json:"duration_sec,omitempty"`
	VideoKey    string    `bson:"video_key,omitempty" json:"-"`
	Preview     bool      `bson:"preview" json:"preview"` // playable without purchase
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// LessonRepository defines operations for managing lessons
type LessonRepository interface {
	Create(ctx context.Context, lesson *Lesson) error
	GetByID(ctx context.Context, id string) (*Lesson, error)
	ListByCourseID(ctx context.Context, courseID string) ([]*Lesson, error)
	Update(ctx context.Context, lesson *Lesson) error
	Delete(ctx context.Context, id string) error
}
