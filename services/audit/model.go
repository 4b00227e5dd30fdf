package audit

import (
	"time"

	"seekcap-controlplane/pkg/db/pagination"
	"seekcap-controlplane/pkg/identity"

	"gorm.io/datatypes"
)

type Action string

const (
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionView         Action = "view"
	ActionExport       Action = "export"
	ActionBulkUpdate   Action = "bulk_update"
	ActionBulkDelete   Action = "bulk_delete"
	ActionActivate     Action = "activate"
	ActionSuspend      Action = "suspend"
	ActionRevoke       Action = "revoke"
	ActionLogin        Action = "login"
	ActionLogout       Action = "logout"
	ActionStatusChange Action = "status_change"
)

var actions = map[Action]bool{
	ActionCreate: true, ActionUpdate: true, ActionDelete: true, ActionView: true,
	ActionExport: true, ActionBulkUpdate: true, ActionBulkDelete: true,
	ActionActivate: true, ActionSuspend: true, ActionRevoke: true,
	ActionLogin: true, ActionLogout: true, ActionStatusChange: true,
}

func (a Action) Valid() bool { return actions[a] }

type EntityType string

const (
	EntityLicense        EntityType = "license"
	EntityUser           EntityType = "user"
	EntityCatalog        EntityType = "catalog"
	EntityAccount        EntityType = "account"
	EntityContact        EntityType = "contact"
	EntityDeal           EntityType = "deal"
	EntityDownload       EntityType = "download"
	EntityFeatureRequest EntityType = "feature_request"
	EntityOnboarding     EntityType = "onboarding"
	EntityRole           EntityType = "role"
	EntityPermission     EntityType = "permission"
	EntitySettings       EntityType = "settings"
)

var entityTypes = map[EntityType]bool{
	EntityLicense: true, EntityUser: true, EntityCatalog: true, EntityAccount: true,
	EntityContact: true, EntityDeal: true, EntityDownload: true, EntityFeatureRequest: true,
	EntityOnboarding: true, EntityRole: true, EntityPermission: true, EntitySettings: true,
}

func (e EntityType) Valid() bool { return entityTypes[e] }

// Entry is write-once. Nothing in this package updates or deletes rows.
type Entry struct {
	ID         string            `gorm:"column:id;primaryKey" json:"id"`
	UserID     *string           `gorm:"column:user_id;index" json:"user_id"`
	UserEmail  string            `gorm:"column:user_email" json:"user_email"`
	Action     Action            `gorm:"column:action;index" json:"action"`
	EntityType EntityType        `gorm:"column:entity_type;index:idx_audit_entity" json:"entity_type"`
	EntityID   *string           `gorm:"column:entity_id;index:idx_audit_entity" json:"entity_id"`
	EntityName *string           `gorm:"column:entity_name" json:"entity_name"`
	OldValues  datatypes.JSONMap `gorm:"column:old_values" json:"old_values"`
	NewValues  datatypes.JSONMap `gorm:"column:new_values" json:"new_values"`
	UserAgent  string            `gorm:"column:user_agent" json:"user_agent"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata"`
	CreatedAt  time.Time         `gorm:"column:created_at;index" json:"created_at"`
}

func (Entry) TableName() string { return "audit_log" }

type RecordParams struct {
	Actor      *identity.Identity
	Action     Action
	EntityType EntityType
	EntityID   string
	EntityName string
	OldValues  map[string]any
	NewValues  map[string]any
	Metadata   map[string]any
	UserAgent  string
}

type Filter struct {
	EntityType EntityType `form:"entity_type"`
	EntityID   string     `form:"entity_id"`
	Action     Action     `form:"action"`
	UserID     string     `form:"user_id"`
	From       *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To         *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	pagination.Pagination
}

type QueryResult struct {
	Entries  []*Entry             `json:"entries"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type ExportResult struct {
	Location string `json:"location"`
	Count    int    `json:"count"`
}
