package model

import "time"

// Recruiter represents a hiring-side account: authors assessments and reads
// results and the live proctoring feed.
type Recruiter struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RecruiterLoginRequest is the payload for recruiter authentication.
type RecruiterLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}
