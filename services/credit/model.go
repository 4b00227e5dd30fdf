package credit

import (
	"time"

	"seekcap-controlplane/pkg/db/pagination"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

// Per purchase caps keep every sum over a user's purchases inside int64.
const (
	MaxCreditsPerPurchase int64 = 1_000_000_000
	MaxPriceCents         int64 = 100_000_000_000
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

// Spendable reports whether the purchase contributes to the available total.
func (s Status) Spendable() bool {
	return s == StatusApproved || s == StatusCompleted
}

var spendableStatuses = []Status{StatusApproved, StatusCompleted}

type Purchase struct {
	ID               string     `gorm:"column:id;primaryKey" json:"id"`
	UserID           string     `gorm:"column:user_id;index" json:"user_id"`
	OwnerEmail       string     `gorm:"column:owner_email" json:"owner_email"`
	CatalogRef       *string    `gorm:"column:catalog_ref" json:"catalog_ref"`
	PackageName      string     `gorm:"column:package_name" json:"package_name"`
	CreditsPurchased int64      `gorm:"column:credits_purchased" json:"credits_purchased"`
	CreditsUsed      int64      `gorm:"column:credits_used" json:"credits_used"`
	CreditsRemaining int64      `gorm:"-" json:"credits_remaining"`
	PriceCents       int64      `gorm:"column:price_cents" json:"price_cents"`
	Status           Status     `gorm:"column:status;index" json:"status"`
	ApprovedBy       *string    `gorm:"column:approved_by" json:"approved_by"`
	DecidedAt        *time.Time `gorm:"column:decided_at" json:"decided_at"`
	RejectionReason  string     `gorm:"column:rejection_reason" json:"rejection_reason,omitempty"`
	PurchasedAt      time.Time  `gorm:"column:purchased_at" json:"purchased_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Purchase) TableName() string { return "credit_purchases" }

// Remaining is purchased minus used and never negative.
func (p *Purchase) Remaining() int64 {
	if r := p.CreditsPurchased - p.CreditsUsed; r > 0 {
		return r
	}
	return 0
}

func fill(p *Purchase) *Purchase {
	if p != nil {
		p.CreditsRemaining = p.Remaining()
	}
	return p
}

type RequestParams struct {
	UserID      string  `json:"user_id"`
	OwnerEmail  string  `json:"owner_email"`
	CatalogRef  *string `json:"catalog_ref"`
	PackageName string  `json:"package_name"`
	Credits     int64   `json:"credits"`
	PriceCents  int64   `json:"price_cents"`
}

type ListFilter struct {
	UserID string `form:"user_id"`
	Status Status `form:"status"`
	pagination.Pagination
}

type ListResult struct {
	Purchases []*Purchase          `json:"purchases"`
	PageInfo  *pagination.PageInfo `json:"page_info"`
}

type Allocation struct {
	PurchaseID string `json:"purchase_id"`
	Amount     int64  `json:"amount"`
}

type SpendResult struct {
	Allocations []Allocation `json:"allocations"`
	Remaining   int64        `json:"remaining"`
}
