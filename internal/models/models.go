package models

import (
	"time"
)

// Credential lifecycle states.
const (
	CredentialActive      = "active"
	CredentialDeactivated = "deactivated"
)

// Credential is a tenant's stored S3 access configuration.
// Alias is unique per (UserID) among active rows only; deactivated rows keep their alias.
type Credential struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	UserID          string     `gorm:"index;not null;uniqueIndex:idx_credential_user_alias,where:state = 'active'" json:"userId"`
	Alias           string     `gorm:"not null;uniqueIndex:idx_credential_user_alias" json:"alias"`
	AccessKey       string     `gorm:"not null" json:"accessKey"`
	SecretKeyEnc    string     `gorm:"not null" json:"-"`
	Region          string     `gorm:"not null" json:"region"`
	Endpoint        string     `json:"endpoint"`
	IsDefault       bool       `gorm:"not null;default:false" json:"isDefault"`
	State           string     `gorm:"index;not null;default:active" json:"state"`
	LastValidatedAt *time.Time `json:"lastValidatedAt"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (c *Credential) Active() bool { return c.State == CredentialActive }

// Audit statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// AuditEntry is an append-only record of one operation. Rows are never updated
// and outlive the user they reference.
type AuditEntry struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"index:idx_audit_user_ts,priority:1;not null" json:"userId"`
	Action       string    `gorm:"index;size:32;not null" json:"action"`
	BucketName   string    `json:"bucketName,omitempty"`
	ObjectKey    string    `gorm:"size:1024" json:"objectKey,omitempty"`
	Timestamp    time.Time `gorm:"index;index:idx_audit_user_ts,priority:2;not null" json:"timestamp"`
	Status       string    `gorm:"index;size:16;not null" json:"status"`
	ErrorMessage string    `gorm:"size:1000" json:"errorMessage,omitempty"`
	ClientIP     string    `gorm:"size:64" json:"clientIp,omitempty"`
	UserAgent    string    `gorm:"size:512" json:"userAgent,omitempty"`
	Metadata     string    `gorm:"type:text" json:"metadata,omitempty"` // JSON object
}
