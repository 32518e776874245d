package model

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Town struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Slug        string    `json:"slug" db:"slug"`
	Name        string    `json:"name" db:"name"`
	PersonCount int       `json:"person_count" db:"person_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type Person struct {
	ID        uuid.UUID `json:"id" db:"id"`
	TownSlug  string    `json:"town_slug" db:"town_slug"`
	Slug      string    `json:"slug" db:"slug"`
	Name      string    `json:"name" db:"name"`
	Bio       string    `json:"bio" db:"bio"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TownPage is the cached aggregate behind a town page.
type TownPage struct {
	Town    Town     `json:"town"`
	Persons []Person `json:"persons"`
}

// Homepage is the cached global aggregate.
type Homepage struct {
	RecentPersons []Person  `json:"recent_persons"`
	Towns         []Town    `json:"towns"`
	GeneratedAt   time.Time `json:"generated_at"`
}
