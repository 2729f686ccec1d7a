package domain

import (
	"context"
	"time"
)

// User represents an account on the marketplace
type User struct {
	ID           string    `bson:"_id,omitempty" json:"id"`
	Email        string    `bson:"email" json:"email"`
	Name         string    `bson:"name" json:"name"`
	PasswordHash string    `bson:"password_hash" json:"-"`
	Roles        []string  `bson:"roles" json:"roles"` // ["student", "admin"]
	Phone        string    `bson:"phone,omitempty" json:"phone,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// HasRole checks if user has a specific role
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// UserRepository defines operations for managing users
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	Delete(ctx context.Context, id string) error
	GetAll(ctx context.Context) ([]*User, error)
}

// Role constants
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)
