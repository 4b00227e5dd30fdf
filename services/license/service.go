package license

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"seekcap-controlplane/pkg/config"
	"seekcap-controlplane/pkg/db"
	"seekcap-controlplane/pkg/db/option"
	"seekcap-controlplane/pkg/db/pagination"
	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/pkg/identity"
	"seekcap-controlplane/pkg/repository"
	"seekcap-controlplane/pkg/retry"
	"seekcap-controlplane/pkg/sequence"
	"seekcap-controlplane/services/audit"
	"seekcap-controlplane/services/notification"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	seq      sequence.Generator
	audit    audit.Recorder
	notifier notification.Dispatcher

	licenses repository.Repository[License]
	tiers    repository.Repository[Tier]

	timeout time.Duration
	now     func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Sequence sequence.Generator
	Audit    audit.Recorder
	Notifier notification.Dispatcher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		seq:      p.Sequence,
		audit:    p.Audit,
		notifier: p.Notifier,

		licenses: repository.ProvideStore[License](p.DB),
		tiers:    repository.ProvideStore[Tier](p.DB),

		timeout: p.Config.Database.QueryTimeout,
		now:     time.Now,
	}
}

func logFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

func (s *Service) Issue(ctx context.Context, actor *identity.Identity, p IssueParams) (*License, error) {
	log := zap.L().With(logFields(ctx)...)
	now := s.now().UTC()

	p.Product = strings.TrimSpace(p.Product)
	p.AssignedTo = strings.TrimSpace(p.AssignedTo)

	var details []errutil.Detail
	if p.Product == "" {
		details = append(details, errutil.Detail{Field: "product", Message: "product is required"})
	}
	if p.Seats < 1 {
		details = append(details, errutil.Detail{Field: "seats", Message: "seats must be at least 1"})
	}
	if !p.ExpiresAt.After(now) {
		details = append(details, errutil.Detail{Field: "expires_at", Message: "expiry must be in the future"})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid license", nil, errutil.WithDetails(details...))
	}

	tier, err := s.findTier(ctx, p.Tier)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, errutil.ValidationFailed("unknown tier", nil,
			errutil.WithDetails(errutil.Detail{Field: "tier", Message: p.Tier}))
	}
	if tier.DeprecatedAt != nil {
		return nil, errutil.ValidationFailed("tier is deprecated", nil,
			errutil.WithDetails(errutil.Detail{Field: "tier", Message: tier.Slug}))
	}
	if tier.MaxSeats > 0 && p.Seats > tier.MaxSeats {
		return nil, errutil.ValidationFailed("seats exceed the tier limit", nil,
			errutil.WithDetails(errutil.Detail{Field: "seats", Message: fmt.Sprintf("at most %d", tier.MaxSeats)}))
	}

	l := &License{
		ID:         s.node.Generate().String(),
		LicenseKey: s.nextLicenseKey(ctx, p.Product),
		Product:    p.Product,
		TierID:     tier.ID,
		IsPool:     p.IsPool,
		Seats:      p.Seats,
		Status:     StatusPending,
		ExpiresAt:  p.ExpiresAt.UTC(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if p.AssignedTo != "" {
		l.AssignedTo = &p.AssignedTo
	}

	wctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.licenses.Create(wctx, l); err != nil {
		log.Error("failed to create license", zap.Error(err))
		return nil, errutil.FromStore(err, true)
	}

	s.audit.Record(ctx, audit.RecordParams{
		Actor:      actor,
		Action:     audit.ActionCreate,
		EntityType: audit.EntityLicense,
		EntityID:   l.ID,
		EntityName: l.LicenseKey,
		NewValues:  l.snapshot(),
		Metadata:   map[string]any{"tier": tier.Name},
	})

	return resolve(l, now), nil
}

// nextLicenseKey falls back to the snowflake id when the sequence store is
// unavailable, issuance must not depend on redis.
func (s *Service) nextLicenseKey(ctx context.Context, product string) string {
	if s.seq != nil {
		key, err := s.seq.NextLicenseKey(ctx, product)
		if err == nil {
			return key
		}
		zap.L().With(logFields(ctx)...).Warn("license key sequence unavailable, falling back to snowflake", zap.Error(err))
	}
	return "LIC-" + strings.ToUpper(strconv.FormatInt(s.node.Generate().Int64(), 36))
}

func (s *Service) Activate(ctx context.Context, actor *identity.Identity, id string) (*License, error) {
	now := s.now().UTC()
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	current := ResolveStatus(l, now)
	if current != StatusPending && current != StatusSuspended {
		return nil, errutil.InvalidTransition("license", string(current), string(StatusActive))
	}
	if l.AssignedTo == nil && !l.IsPool {
		return nil, errutil.ValidationFailed("an unassigned license can only be activated as a pool license", nil,
			errutil.WithDetails(errutil.Detail{Field: "assigned_to", Message: "required"}))
	}

	updates := map[string]any{
		"status":     StatusActive,
		"updated_at": now,
	}
	// re-activation after suspend keeps the original activation timestamp
	if l.LastActiveAt == nil {
		updates["last_active_at"] = now
	}

	return s.transition(ctx, actor, l, current, StatusActive, updates, nil)
}

func (s *Service) Suspend(ctx context.Context, actor *identity.Identity, id, reason string) (*License, error) {
	now := s.now().UTC()
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	current := ResolveStatus(l, now)
	if current != StatusActive {
		return nil, errutil.InvalidTransition("license", string(current), string(StatusSuspended))
	}

	updates := map[string]any{
		"status":     StatusSuspended,
		"updated_at": now,
	}

	return s.transition(ctx, actor, l, current, StatusSuspended, updates, map[string]any{"reason": strings.TrimSpace(reason)})
}

// Revoke is terminal and releases the seat assignment.
func (s *Service) Revoke(ctx context.Context, actor *identity.Identity, id string) (*License, error) {
	now := s.now().UTC()
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	current := ResolveStatus(l, now)
	if current.Terminal() {
		return nil, errutil.InvalidTransition("license", string(current), string(StatusRevoked))
	}

	updates := map[string]any{
		"status":      StatusRevoked,
		"assigned_to": nil,
		"revoked_at":  now,
		"updated_at":  now,
	}

	return s.transition(ctx, actor, l, current, StatusRevoked, updates, nil)
}

func (s *Service) Reassign(ctx context.Context, actor *identity.Identity, id, newAssignee string) (*License, error) {
	log := zap.L().With(logFields(ctx)...)
	now := s.now().UTC()

	newAssignee = strings.TrimSpace(newAssignee)
	if newAssignee == "" {
		return nil, errutil.ValidationFailed("assignee is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "assigned_to", Message: "required"}))
	}

	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	current := ResolveStatus(l, now)
	if current != StatusPending && current != StatusActive {
		return nil, errutil.InvalidTransition("license", string(current), "reassigned")
	}
	previous := l.assignee()
	if previous == newAssignee {
		return nil, errutil.ValidationFailed("license is already assigned to this account", nil,
			errutil.WithDetails(errutil.Detail{Field: "assigned_to", Message: newAssignee}))
	}

	var oldValue any
	if previous != "" {
		oldValue = previous
	}

	conds := map[string]any{"id": l.ID, "status": l.Status, "assigned_to": oldValue}
	if err := s.compareAndSet(ctx, conds, map[string]any{"assigned_to": newAssignee, "updated_at": now}); err != nil {
		log.Warn("failed to reassign license", zap.String("license_id", l.ID), zap.Error(err))
		return nil, err
	}

	s.audit.Record(ctx, audit.RecordParams{
		Actor:      actor,
		Action:     audit.ActionUpdate,
		EntityType: audit.EntityLicense,
		EntityID:   l.ID,
		EntityName: l.LicenseKey,
		OldValues:  map[string]any{"assigned_to": oldValue},
		NewValues:  map[string]any{"assigned_to": newAssignee},
	})

	if notification.LooksLikeEmail(newAssignee) {
		s.notifier.Send(ctx, assignedEmail(newAssignee, l))
	}

	return s.Get(ctx, l.ID)
}

// transition applies a status change with a compare-and-set on the stored
// status, records it and notifies the assignee.
func (s *Service) transition(ctx context.Context, actor *identity.Identity, l *License, current, requested Status, updates, meta map[string]any) (*License, error) {
	log := zap.L().With(logFields(ctx)...)

	conds := map[string]any{"id": l.ID, "status": l.Status}
	if err := s.compareAndSet(ctx, conds, updates); err != nil {
		log.Warn("license transition failed",
			zap.String("license_id", l.ID),
			zap.String("from", string(current)),
			zap.String("to", string(requested)),
			zap.Error(err),
		)
		return nil, err
	}

	before := map[string]any{"status": string(current)}
	after := map[string]any{"status": string(requested)}
	if _, ok := updates["assigned_to"]; ok && l.AssignedTo != nil {
		before["assigned_to"] = *l.AssignedTo
		after["assigned_to"] = nil
	}
	oldValues, newValues := audit.Diff(before, after)

	s.audit.Record(ctx, audit.RecordParams{
		Actor:      actor,
		Action:     audit.ActionStatusChange,
		EntityType: audit.EntityLicense,
		EntityID:   l.ID,
		EntityName: l.LicenseKey,
		OldValues:  oldValues,
		NewValues:  newValues,
		Metadata:   meta,
	})

	if to := l.assignee(); notification.LooksLikeEmail(to) {
		s.notifier.Send(ctx, statusEmail(to, l, requested))
	}

	return s.Get(ctx, l.ID)
}

// compareAndSet maps zero affected rows to a conflict, someone else moved the
// row first.
func (s *Service) compareAndSet(ctx context.Context, conds map[string]any, updates map[string]any) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.licenses.UpdateWhere(ctx, conds, updates)
	if err != nil {
		return errutil.FromStore(err, true)
	}
	if n == 0 {
		return errutil.Conflict("license was modified concurrently, re-fetch and retry", nil)
	}
	return nil
}

// load returns the license exactly as stored.
func (s *Service) load(ctx context.Context, id string) (*License, error) {
	if id == "" {
		return nil, errutil.NotFound("license not found", nil)
	}

	l, err := retry.Read(ctx, "license.get", func(ctx context.Context) (*License, error) {
		ctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.licenses.FindOne(ctx, &License{ID: id})
	})
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errutil.NotFound("license not found", nil)
	}
	return l, nil
}

func (s *Service) Get(ctx context.Context, id string) (*License, error) {
	l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return resolve(l, s.now().UTC()), nil
}

// List filters on the effective status, so an active row past its expiry is
// listed as expired.
func (s *Service) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, errutil.ValidationFailed("unknown status", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: string(f.Status)}))
	}

	now := s.now().UTC()
	page := f.Pagination.Normalize()
	query := &License{Product: f.Product, TierID: f.TierID}
	opts := []option.QueryOption{withEffectiveStatus(f.Status, now)}
	if f.AssignedTo != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "assigned_to", Operator: option.EQ, Value: f.AssignedTo}))
	}

	return retry.Read(ctx, "license.list", func(ctx context.Context) (*ListResult, error) {
		ctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()

		total, err := s.licenses.Count(ctx, query, opts...)
		if err != nil {
			return nil, err
		}

		items, err := s.licenses.Find(ctx, query, append(opts,
			option.WithSortBy(
				option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"},
				option.QuerySortBy{SortBy: "id", OrderBy: "desc"},
			),
			option.ApplyPagination(page),
		)...)
		if err != nil {
			return nil, err
		}

		for _, l := range items {
			resolve(l, now)
		}

		return &ListResult{
			Licenses: items,
			PageInfo: pagination.BuildPageInfo(page, len(items), total),
		}, nil
	})
}

// CountActive counts licenses assigned to assignee that are active right now.
func (s *Service) CountActive(ctx context.Context, assignee string) (int64, error) {
	now := s.now().UTC()
	return retry.Read(ctx, "license.count_active", func(ctx context.Context) (int64, error) {
		ctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.licenses.Count(ctx, nil,
			option.ApplyOperator(option.Condition{Field: "assigned_to", Operator: option.EQ, Value: assignee}),
			withEffectiveStatus(StatusActive, now),
		)
	})
}

func withEffectiveStatus(status Status, now time.Time) option.QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		switch status {
		case "":
			return tx
		case StatusRevoked:
			return tx.Where("status = ?", StatusRevoked)
		case StatusExpired:
			return tx.Where("status <> ? AND (status = ? OR expires_at <= ?)", StatusRevoked, StatusExpired, now)
		default:
			return tx.Where("status = ? AND expires_at > ?", status, now)
		}
	}
}

func statusEmail(to string, l *License, status Status) notification.Email {
	return notification.Email{
		To:      to,
		Subject: fmt.Sprintf("Your %s license is now %s", l.Product, status),
		TextBody: fmt.Sprintf("License %s for %s changed status to %s.\nExpires: %s\n",
			l.LicenseKey, l.Product, status, l.ExpiresAt.UTC().Format("2006-01-02")),
	}
}

func assignedEmail(to string, l *License) notification.Email {
	return notification.Email{
		To:      to,
		Subject: fmt.Sprintf("A %s license has been assigned to you", l.Product),
		TextBody: fmt.Sprintf("License %s for %s (%d seats) is now assigned to you.\nExpires: %s\n",
			l.LicenseKey, l.Product, l.Seats, l.ExpiresAt.UTC().Format("2006-01-02")),
	}
}
