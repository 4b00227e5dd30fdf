package credit

import (
	"context"
	"fmt"
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
	audit    audit.Recorder
	notifier notification.Dispatcher

	purchases repository.Repository[Purchase]

	timeout time.Duration
	now     func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Audit    audit.Recorder
	Notifier notification.Dispatcher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		audit:    p.Audit,
		notifier: p.Notifier,

		purchases: repository.ProvideStore[Purchase](p.DB),

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

func (s *Service) RequestPurchase(ctx context.Context, actor *identity.Identity, p RequestParams) (*Purchase, error) {
	log := zap.L().With(logFields(ctx)...)

	p.UserID = strings.TrimSpace(p.UserID)
	p.PackageName = strings.TrimSpace(p.PackageName)

	var details []errutil.Detail
	if p.UserID == "" {
		details = append(details, errutil.Detail{Field: "user_id", Message: "user is required"})
	}
	switch {
	case p.Credits <= 0:
		details = append(details, errutil.Detail{Field: "credits", Message: "credits must be greater than 0"})
	case p.Credits > MaxCreditsPerPurchase:
		details = append(details, errutil.Detail{Field: "credits", Message: fmt.Sprintf("credits cannot exceed %d", MaxCreditsPerPurchase)})
	}
	if p.PriceCents < 0 || p.PriceCents > MaxPriceCents {
		details = append(details, errutil.Detail{Field: "price_cents", Message: fmt.Sprintf("price must be between 0 and %d", MaxPriceCents)})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid credit purchase", nil, errutil.WithDetails(details...))
	}

	now := s.now().UTC()
	purchase := &Purchase{
		ID:               s.node.Generate().String(),
		UserID:           p.UserID,
		OwnerEmail:       strings.TrimSpace(p.OwnerEmail),
		CatalogRef:       p.CatalogRef,
		PackageName:      p.PackageName,
		CreditsPurchased: p.Credits,
		PriceCents:       p.PriceCents,
		Status:           StatusPending,
		PurchasedAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	wctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.purchases.Create(wctx, purchase); err != nil {
		log.Error("failed to create credit purchase", zap.Error(err))
		return nil, errutil.FromStore(err, true)
	}

	newValues := map[string]any{
		"user_id":           purchase.UserID,
		"package_name":      purchase.PackageName,
		"credits_purchased": purchase.CreditsPurchased,
		"price_cents":       purchase.PriceCents,
		"status":            string(purchase.Status),
	}
	if purchase.CatalogRef != nil {
		newValues["catalog_ref"] = *purchase.CatalogRef
	}
	s.audit.Record(ctx, audit.RecordParams{
		Actor:      actor,
		Action:     audit.ActionCreate,
		EntityType: audit.EntityCatalog,
		EntityID:   purchase.ID,
		EntityName: purchase.PackageName,
		NewValues:  newValues,
		Metadata:   map[string]any{"kind": "credit_purchase"},
	})

	return fill(purchase), nil
}

func (s *Service) Approve(ctx context.Context, actor *identity.Identity, id string) (*Purchase, error) {
	purchase, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if purchase.Status != StatusPending {
		return nil, errutil.InvalidTransition("credit purchase", string(purchase.Status), string(StatusApproved))
	}

	now := s.now().UTC()
	approver := actorID(actor)
	updates := map[string]any{
		"status":     StatusApproved,
		"decided_at": now,
		"updated_at": now,
	}
	if approver != "" {
		updates["approved_by"] = approver
	}

	meta := map[string]any{"approved_by": approver}
	if err := s.decide(ctx, actor, purchase, StatusApproved, updates, meta); err != nil {
		return nil, err
	}

	s.notifyOwner(ctx, purchase, "Your credit purchase was approved",
		fmt.Sprintf("%d credits from %q are now available.\n", purchase.CreditsPurchased, purchase.PackageName))

	return s.Get(ctx, purchase.ID)
}

func (s *Service) Reject(ctx context.Context, actor *identity.Identity, id, reason string) (*Purchase, error) {
	purchase, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if purchase.Status != StatusPending {
		return nil, errutil.InvalidTransition("credit purchase", string(purchase.Status), string(StatusRejected))
	}

	now := s.now().UTC()
	reason = strings.TrimSpace(reason)
	updates := map[string]any{
		"status":           StatusRejected,
		"rejection_reason": reason,
		"decided_at":       now,
		"updated_at":       now,
	}

	meta := map[string]any{"rejected_by": actorID(actor), "reason": reason}
	if err := s.decide(ctx, actor, purchase, StatusRejected, updates, meta); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Your request for %q was rejected.\n", purchase.PackageName)
	if reason != "" {
		body += "Reason: " + reason + "\n"
	}
	s.notifyOwner(ctx, purchase, "Your credit purchase was rejected", body)

	return s.Get(ctx, purchase.ID)
}

// Fulfill closes an approved purchase that was delivered outside the ledger.
// Any unused credits stay available.
func (s *Service) Fulfill(ctx context.Context, actor *identity.Identity, id string) (*Purchase, error) {
	purchase, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if purchase.Status != StatusApproved {
		return nil, errutil.InvalidTransition("credit purchase", string(purchase.Status), string(StatusCompleted))
	}

	now := s.now().UTC()
	updates := map[string]any{"status": StatusCompleted, "updated_at": now}
	if err := s.decide(ctx, actor, purchase, StatusCompleted, updates, map[string]any{"fulfilled_by": actorID(actor)}); err != nil {
		return nil, err
	}

	return s.Get(ctx, purchase.ID)
}

func (s *Service) decide(ctx context.Context, actor *identity.Identity, purchase *Purchase, to Status, updates, meta map[string]any) error {
	conds := map[string]any{"id": purchase.ID, "status": purchase.Status}
	if err := s.compareAndSet(ctx, s.purchases, conds, updates); err != nil {
		zap.L().With(logFields(ctx)...).Warn("credit purchase transition failed",
			zap.String("purchase_id", purchase.ID),
			zap.String("from", string(purchase.Status)),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return err
	}

	s.audit.Record(ctx, audit.RecordParams{
		Actor:      actor,
		Action:     audit.ActionStatusChange,
		EntityType: audit.EntityCatalog,
		EntityID:   purchase.ID,
		EntityName: purchase.PackageName,
		OldValues:  map[string]any{"status": string(purchase.Status)},
		NewValues:  map[string]any{"status": string(to)},
		Metadata:   meta,
	})
	return nil
}

// Consume draws amount from one purchase. Exhausting it completes the
// purchase.
func (s *Service) Consume(ctx context.Context, actor *identity.Identity, id string, amount int64) (*Purchase, error) {
	if amount <= 0 {
		return nil, errutil.ValidationFailed("amount must be greater than 0", nil,
			errutil.WithDetails(errutil.Detail{Field: "amount", Message: fmt.Sprintf("%d", amount)}))
	}

	purchase, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !purchase.Status.Spendable() {
		return nil, errutil.InsufficientCredits(0, amount)
	}
	if amount > purchase.Remaining() {
		return nil, errutil.InsufficientCredits(purchase.Remaining(), amount)
	}

	before, after, err := s.draw(ctx, s.purchases, purchase, amount)
	if err != nil {
		return nil, err
	}

	s.recordDraw(ctx, actor, purchase, before, after, nil)

	return s.Get(ctx, purchase.ID)
}

// draw applies a compare-and-set on credits_used. It returns the audited
// before and after values.
func (s *Service) draw(ctx context.Context, repo repository.Repository[Purchase], purchase *Purchase, amount int64) (map[string]any, map[string]any, error) {
	used := purchase.CreditsUsed + amount
	updates := map[string]any{
		"credits_used": used,
		"updated_at":   s.now().UTC(),
	}
	before := map[string]any{"credits_used": purchase.CreditsUsed}
	after := map[string]any{"credits_used": used}
	if used == purchase.CreditsPurchased && purchase.Status != StatusCompleted {
		updates["status"] = StatusCompleted
		before["status"] = string(purchase.Status)
		after["status"] = string(StatusCompleted)
	}

	conds := map[string]any{
		"id":           purchase.ID,
		"status":       purchase.Status,
		"credits_used": purchase.CreditsUsed,
	}
	if err := s.compareAndSet(ctx, repo, conds, updates); err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

func (s *Service) recordDraw(ctx context.Context, actor *identity.Identity, purchase *Purchase, before, after, meta map[string]any) {
	s.audit.Record(ctx, audit.RecordParams{
		Actor:      actor,
		Action:     audit.ActionUpdate,
		EntityType: audit.EntityCatalog,
		EntityID:   purchase.ID,
		EntityName: purchase.PackageName,
		OldValues:  before,
		NewValues:  after,
		Metadata:   meta,
	})
}

// Spend splits amount across the user's spendable purchases, oldest first,
// in one transaction. Each touched purchase gets its own audit entry.
func (s *Service) Spend(ctx context.Context, actor *identity.Identity, userID string, amount int64) (*SpendResult, error) {
	log := zap.L().With(logFields(ctx)...)

	if amount <= 0 {
		return nil, errutil.ValidationFailed("amount must be greater than 0", nil,
			errutil.WithDetails(errutil.Detail{Field: "amount", Message: fmt.Sprintf("%d", amount)}))
	}

	type touched struct {
		purchase      *Purchase
		before, after map[string]any
	}
	var (
		changes   []touched
		available int64
	)

	tctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.db.WithContext(tctx).Transaction(func(tx *gorm.DB) error {
		repo := s.purchases.WithTrx(tx)

		eligible, err := repo.Find(tctx, &Purchase{UserID: userID},
			option.ApplyOperator(option.Condition{Field: "status", Operator: option.IN, Value: spendableStatuses}),
			withBalance,
			option.WithSortBy(
				option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"},
				option.QuerySortBy{SortBy: "id", OrderBy: "asc"},
			),
			option.WithLockingUpdate(),
		)
		if err != nil {
			return err
		}

		for _, p := range eligible {
			available += p.Remaining()
		}
		if available < amount {
			return errutil.InsufficientCredits(available, amount)
		}

		left := amount
		for _, p := range eligible {
			if left == 0 {
				break
			}
			take := min(p.Remaining(), left)
			before, after, err := s.draw(tctx, repo, p, take)
			if err != nil {
				return err
			}
			changes = append(changes, touched{purchase: p, before: before, after: after})
			left -= take
		}
		return nil
	})
	if err != nil {
		log.Warn("credit spend failed", zap.String("user_id", userID), zap.Int64("amount", amount), zap.Error(err))
		return nil, errutil.FromStore(err, true)
	}

	result := &SpendResult{Remaining: available - amount}
	for _, c := range changes {
		take := c.after["credits_used"].(int64) - c.before["credits_used"].(int64)
		result.Allocations = append(result.Allocations, Allocation{PurchaseID: c.purchase.ID, Amount: take})
		s.recordDraw(ctx, actor, c.purchase, c.before, c.after, map[string]any{"spend_amount": amount, "allocated": take})
	}

	return result, nil
}

// TotalAvailable sums remaining credits over approved and completed
// purchases. It is computed on every call.
func (s *Service) TotalAvailable(ctx context.Context, userID string) (int64, error) {
	return retry.Read(ctx, "credit.total_available", func(ctx context.Context) (int64, error) {
		ctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()

		var total int64
		err := s.db.WithContext(ctx).Model(&Purchase{}).
			Select("COALESCE(SUM(credits_purchased - credits_used), 0)").
			Where("user_id = ? AND status IN ?", userID, spendableStatuses).
			Scan(&total).Error
		return total, err
	})
}

func withBalance(db *gorm.DB) *gorm.DB {
	return db.Where("credits_used < credits_purchased")
}

func (s *Service) compareAndSet(ctx context.Context, repo repository.Repository[Purchase], conds, updates map[string]any) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := repo.UpdateWhere(ctx, conds, updates)
	if err != nil {
		return errutil.FromStore(err, true)
	}
	if n == 0 {
		return errutil.Conflict("credit purchase was modified concurrently, re-fetch and retry", nil)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*Purchase, error) {
	if id == "" {
		return nil, errutil.NotFound("credit purchase not found", nil)
	}

	purchase, err := retry.Read(ctx, "credit.get", func(ctx context.Context) (*Purchase, error) {
		ctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.purchases.FindOne(ctx, &Purchase{ID: id})
	})
	if err != nil {
		return nil, err
	}
	if purchase == nil {
		return nil, errutil.NotFound("credit purchase not found", nil)
	}
	return purchase, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Purchase, error) {
	purchase, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return fill(purchase), nil
}

func (s *Service) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, errutil.ValidationFailed("unknown status", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: string(f.Status)}))
	}

	page := f.Pagination.Normalize()
	query := &Purchase{UserID: f.UserID, Status: f.Status}

	return retry.Read(ctx, "credit.list", func(ctx context.Context) (*ListResult, error) {
		ctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()

		total, err := s.purchases.Count(ctx, query)
		if err != nil {
			return nil, err
		}

		items, err := s.purchases.Find(ctx, query,
			option.WithSortBy(
				option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"},
				option.QuerySortBy{SortBy: "id", OrderBy: "desc"},
			),
			option.ApplyPagination(page),
		)
		if err != nil {
			return nil, err
		}
		for _, p := range items {
			fill(p)
		}

		return &ListResult{
			Purchases: items,
			PageInfo:  pagination.BuildPageInfo(page, len(items), total),
		}, nil
	})
}

func (s *Service) notifyOwner(ctx context.Context, purchase *Purchase, subject, body string) {
	if !notification.LooksLikeEmail(purchase.OwnerEmail) {
		return
	}
	s.notifier.Send(ctx, notification.Email{
		To:       purchase.OwnerEmail,
		Subject:  subject,
		TextBody: body,
	})
}

func actorID(actor *identity.Identity) string {
	if actor == nil {
		return ""
	}
	return actor.UserID
}
