// Package models contains the persisted records of the marketplace.
package models

import "time"

// Profile is the public user record created once at the end of signup.
// UID is assigned by the auth provider; LoginID, Nickname and Email are
// user-chosen and unique across profiles.
type Profile struct {
	UID       string    `gorm:"primaryKey;size:128" json:"uid"`
	LoginID   string    `gorm:"size:64;uniqueIndex;not null" json:"id"`
	Nickname  string    `gorm:"size:64;uniqueIndex;not null" json:"nickname"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	AuthEmail string    `gorm:"size:255;uniqueIndex;not null" json:"auth_email"`
	CreatedAt time.Time `json:"created_at"`
}

// ProfileFields is the mutable part of a profile written by an upsert.
type ProfileFields struct {
	LoginID   string
	Nickname  string
	Email     string
	AuthEmail string
	CreatedAt time.Time
}

// Account is a credential record owned by the built-in auth provider.
type Account struct {
	UID           string `gorm:"primaryKey;size:128"`
	Email         string `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash  string `gorm:"not null"`
	EmailVerified bool   `gorm:"default:false"`
	Disabled      bool   `gorm:"default:false"`
	SessionEpoch  int    `gorm:"default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
