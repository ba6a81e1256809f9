package domain

import "time"

type User struct {
	ID           string
	Email        string
	Phone        *string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
