// Package domain defines the wire types and local storage rows of the client.
// This file holds the GORM models persisted in the local state database.
package domain

import "time"

// Credential is the durable copy of the access token. One row per profile.
type Credential struct {
	Profile     string    `gorm:"type:varchar(64);primaryKey"`
	AccessToken string    `gorm:"type:text;not null"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName implements the GORM tabler interface.
func (Credential) TableName() string { return "credentials" }

// StoredCookie is a transport cookie kept across process restarts. Rows are
// keyed by (profile, host, path, name) so distinct hosts never collide.
//
// Host is the request host for host-only cookies and the Domain attribute
// (without a leading dot) when DomainScoped is set. Path is the path the jar
// applied, which is the request's default-path when the cookie had none.
type StoredCookie struct {
	Profile      string     `gorm:"type:varchar(64);primaryKey"`
	Host         string     `gorm:"type:varchar(255);primaryKey"`
	Path         string     `gorm:"type:varchar(255);primaryKey"`
	Name         string     `gorm:"type:varchar(255);primaryKey"`
	Value        string     `gorm:"type:text;not null"`
	DomainScoped bool       `gorm:"not null;default:false"`
	Secure       bool       `gorm:"not null;default:false"`
	HTTPOnly     bool       `gorm:"not null;default:false"`
	ExpiresAt    *time.Time `gorm:"index"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime"`
}

// TableName implements the GORM tabler interface.
func (StoredCookie) TableName() string { return "cookies" }
