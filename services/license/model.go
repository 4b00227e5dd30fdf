package license

import (
	"time"

	"seekcap-controlplane/pkg/db/pagination"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusRevoked
}

// License is one grant of a product tier. Status as stored may be stale,
// callers read it through ResolveStatus.
type License struct {
	ID           string     `gorm:"column:id;primaryKey" json:"id"`
	LicenseKey   string     `gorm:"column:license_key;uniqueIndex" json:"license_key"`
	Product      string     `gorm:"column:product;index" json:"product"`
	TierID       string     `gorm:"column:tier_id;index" json:"tier_id"`
	AssignedTo   *string    `gorm:"column:assigned_to;index" json:"assigned_to"`
	IsPool       bool       `gorm:"column:is_pool" json:"is_pool"`
	Seats        int        `gorm:"column:seats" json:"seats"`
	Status       Status     `gorm:"column:status;index" json:"status"`
	ExpiresAt    time.Time  `gorm:"column:expires_at" json:"expires_at"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at" json:"updated_at"`
	LastActiveAt *time.Time `gorm:"column:last_active_at" json:"last_active_at"`
	RevokedAt    *time.Time `gorm:"column:revoked_at" json:"revoked_at"`
}

func (License) TableName() string { return "licenses" }

func (l *License) assignee() string {
	if l.AssignedTo == nil {
		return ""
	}
	return *l.AssignedTo
}

// snapshot is the audited view of a license.
func (l *License) snapshot() map[string]any {
	var assigned any
	if l.AssignedTo != nil {
		assigned = *l.AssignedTo
	}
	return map[string]any{
		"license_key": l.LicenseKey,
		"product":     l.Product,
		"tier_id":     l.TierID,
		"assigned_to": assigned,
		"is_pool":     l.IsPool,
		"seats":       l.Seats,
		"status":      string(l.Status),
		"expires_at":  l.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

type Tier struct {
	ID           string     `gorm:"column:id;primaryKey" json:"id"`
	Name         string     `gorm:"column:name" json:"name"`
	Slug         string     `gorm:"column:slug;uniqueIndex" json:"slug"`
	MaxSeats     int        `gorm:"column:max_seats" json:"max_seats"`
	Description  string     `gorm:"column:description" json:"description"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	DeprecatedAt *time.Time `gorm:"column:deprecated_at" json:"deprecated_at"`
}

func (Tier) TableName() string { return "license_tiers" }

type IssueParams struct {
	Product string `json:"product"`
	// Tier is a tier id or its slug/name.
	Tier       string    `json:"tier"`
	Seats      int       `json:"seats"`
	ExpiresAt  time.Time `json:"expires_at"`
	AssignedTo string    `json:"assigned_to"`
	IsPool     bool      `json:"is_pool"`
}

type TierParams struct {
	Name        string `json:"name"`
	MaxSeats    int    `json:"max_seats"`
	Description string `json:"description"`
}

type ListFilter struct {
	AssignedTo string `form:"assigned_to"`
	Status     Status `form:"status"`
	Product    string `form:"product"`
	TierID     string `form:"tier_id"`
	pagination.Pagination
}

type ListResult struct {
	Licenses []*License          `json:"licenses"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}
