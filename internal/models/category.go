package models

import (
	"time"

	"github.com/google/uuid"
)

// Category is a broadcast category.
type Category struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Seller is the minimal seller identity needed for broadcast ownership.
// Account management itself lives outside this service.
type Seller struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
