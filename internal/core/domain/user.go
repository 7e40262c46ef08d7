package domain

import "time"

type User struct {
	ID        string
	Username  string
	IsAdmin   bool
	CreatedAt time.Time
}

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID  string
	IsAdmin bool
}
