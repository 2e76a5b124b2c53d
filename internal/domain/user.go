package domain

import "time"

// User represents a platform account as exposed by the user store.
type User struct {
	ID           int64
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string
	AvatarURL    string
	GoogleID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Registration carries validated signup data into the user store.
type Registration struct {
	Username       string
	Email          string
	Password       string
	DisplayName    string
	IsArtist       bool
	IsProfessional bool
}
