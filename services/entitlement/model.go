package entitlement

import (
	"slices"
	"strings"
	"time"
)

const (
	RoleAdmin          = "admin"
	RoleProgramManager = "program_manager"
	RoleSales          = "sales"
	RoleCustomer       = "customer"
)

const AccountTypeFree = "free"

type Capability string

const (
	CapLicensesRead   Capability = "licenses:read"
	CapLicensesManage Capability = "licenses:manage"
	CapCatalogManage  Capability = "catalog:manage"

	CapCreditsRead    Capability = "credits:read"
	CapCreditsRequest Capability = "credits:request"
	CapCreditsApprove Capability = "credits:approve"
	CapCreditsConsume Capability = "credits:consume"

	CapAuditRead   Capability = "audit:read"
	CapAuditExport Capability = "audit:export"

	CapAccountsManage Capability = "accounts:manage"

	CapProgramsView   Capability = "programs:view"
	CapProgramsManage Capability = "programs:manage"
	CapDealsManage    Capability = "deals:manage"

	CapDownloadsAccess Capability = "downloads:access"
	CapReportsView     Capability = "reports:view"
)

// Capabilities lists every known capability in a stable order.
var Capabilities = []Capability{
	CapLicensesRead, CapLicensesManage, CapCatalogManage,
	CapCreditsRead, CapCreditsRequest, CapCreditsApprove, CapCreditsConsume,
	CapAuditRead, CapAuditExport, CapAccountsManage,
	CapProgramsView, CapProgramsManage, CapDealsManage,
	CapDownloadsAccess, CapReportsView,
}

// paymentGated capabilities are granted to anyone whose account can access
// paid features, whatever their roles.
var paymentGated = map[Capability]bool{
	CapCreditsConsume:  true,
	CapDownloadsAccess: true,
	CapReportsView:     true,
}

func (c Capability) PaymentGated() bool { return paymentGated[c] }

// RoleSet is the union of a user's role grants, lower-cased and sorted.
type RoleSet []string

func (r RoleSet) Has(role string) bool {
	_, ok := slices.BinarySearch(r, strings.ToLower(role))
	return ok
}

// AccountStatus is the read-only payment projection of an account.
type AccountStatus struct {
	UserID            string  `json:"user_id"`
	AccountType       string  `json:"account_type"`
	IsPaymentVerified bool    `json:"is_payment_verified"`
	PaymentApprovedBy *string `json:"payment_approved_by"`
	StripeCustomerID  string  `json:"stripe_customer_id,omitempty"`
	HasPaymentMethod  bool    `json:"has_payment_method"`
}

func (a AccountStatus) free() bool {
	return a.AccountType == "" || strings.EqualFold(a.AccountType, AccountTypeFree)
}

func (a AccountStatus) IsApproved() bool {
	return a.PaymentApprovedBy != nil || !a.free()
}

func (a AccountStatus) IsFreeUser() bool {
	return a.free() && !a.IsPaymentVerified && !a.IsApproved()
}

// Account and PaymentMethod map the externally owned tables. They are only
// ever read.
type Account struct {
	UserID            string  `gorm:"column:user_id;primaryKey"`
	AccountType       string  `gorm:"column:account_type"`
	IsPaymentVerified bool    `gorm:"column:is_payment_verified"`
	PaymentApprovedBy *string `gorm:"column:payment_approved_by"`
	StripeCustomerID  string  `gorm:"column:stripe_customer_id"`
}

func (Account) TableName() string { return "accounts" }

type PaymentMethod struct {
	ID     string `gorm:"column:id;primaryKey"`
	UserID string `gorm:"column:user_id;index"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

type Decision struct {
	Effect Effect `json:"effect"`
	Reason string `json:"reason"`
}

func (d Decision) Allowed() bool { return d.Effect == Allow }

// Entitlement is everything the resolver knows about one caller at a point
// in time.
type Entitlement struct {
	UserID                string        `json:"user_id"`
	Email                 string        `json:"email"`
	Roles                 RoleSet       `json:"roles"`
	Account               AccountStatus `json:"account"`
	IsApproved            bool          `json:"is_approved"`
	IsFreeUser            bool          `json:"is_free_user"`
	CanAccessPaidFeatures bool          `json:"can_access_paid_features"`
	Capabilities          []Capability  `json:"capabilities"`
	CreditsAvailable      int64         `json:"credits_available"`
	ActiveLicenses        int64         `json:"active_licenses"`
	ResolvedAt            time.Time     `json:"resolved_at"`
}
