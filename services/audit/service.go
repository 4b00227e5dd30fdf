package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"seekcap-controlplane/pkg/config"
	"seekcap-controlplane/pkg/db"
	"seekcap-controlplane/pkg/db/option"
	"seekcap-controlplane/pkg/db/pagination"
	"seekcap-controlplane/pkg/errutil"
	"seekcap-controlplane/pkg/identity"
	"seekcap-controlplane/pkg/minio"
	"seekcap-controlplane/pkg/repository"
	"seekcap-controlplane/pkg/retry"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var writeFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "audit_write_failures_total",
	Help: "Audit entries that could not be persisted.",
})


// Recorder is what producers of audit entries depend on.
type Recorder interface {
	Record(ctx context.Context, p RecordParams) *Entry
}

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	entries repository.Repository[Entry]
	objects minio.ObjectStore
	timeout time.Duration
	now     func() time.Time

	// exportBatch is how many rows Export reads per round trip.
	exportBatch int
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Objects minio.ObjectStore `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		entries: repository.ProvideStore[Entry](p.DB),
		objects: p.Objects,
		timeout: p.Config.Database.QueryTimeout,
		now:     time.Now,

		exportBatch: pagination.MaxLimit,
	}
}

func logFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// Record persists one entry and never fails the caller. A write failure is
// logged and counted, and nil is returned.
func (s *Service) Record(ctx context.Context, p RecordParams) *Entry {
	log := zap.L().With(logFields(ctx)...).With(
		zap.String("action", string(p.Action)),
		zap.String("entity_type", string(p.EntityType)),
		zap.String("entity_id", p.EntityID),
	)

	if !p.Action.Valid() || !p.EntityType.Valid() {
		writeFailures.Inc()
		log.Error("audit entry rejected: unknown action or entity type")
		return nil
	}

	entry := &Entry{
		ID:         s.node.Generate().String(),
		Action:     p.Action,
		EntityType: p.EntityType,
		OldValues:  p.OldValues,
		NewValues:  p.NewValues,
		Metadata:   p.Metadata,
		UserAgent:  p.UserAgent,
		CreatedAt:  s.now().UTC(),
	}
	if p.Actor != nil {
		if p.Actor.UserID != "" {
			entry.UserID = &p.Actor.UserID
		}
		entry.UserEmail = p.Actor.Email
	}
	if p.EntityID != "" {
		entry.EntityID = &p.EntityID
	}
	if p.EntityName != "" {
		entry.EntityName = &p.EntityName
	}
	if entry.UserAgent == "" {
		entry.UserAgent = identity.UserAgent(ctx)
	}

	// The mutation being described already committed, so a cancelled request
	// must not drop its entry.
	wctx, cancel := db.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.entries.Create(wctx, entry); err != nil {
		writeFailures.Inc()
		log.Error("failed to write audit entry", zap.Error(err))
		return nil
	}

	return entry
}

func (s *Service) filterOptions(f Filter) ([]option.QueryOption, error) {
	if f.EntityType != "" && !f.EntityType.Valid() {
		return nil, errutil.ValidationFailed("unknown entity type", nil,
			errutil.WithDetails(errutil.Detail{Field: "entity_type", Message: string(f.EntityType)}))
	}
	if f.Action != "" && !f.Action.Valid() {
		return nil, errutil.ValidationFailed("unknown action", nil,
			errutil.WithDetails(errutil.Detail{Field: "action", Message: string(f.Action)}))
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, errutil.ValidationFailed("from must be before to", nil)
	}

	var conds []option.Condition
	if f.EntityType != "" {
		conds = append(conds, option.Condition{Field: "entity_type", Operator: option.EQ, Value: f.EntityType})
	}
	if f.EntityID != "" {
		conds = append(conds, option.Condition{Field: "entity_id", Operator: option.EQ, Value: f.EntityID})
	}
	if f.Action != "" {
		conds = append(conds, option.Condition{Field: "action", Operator: option.EQ, Value: f.Action})
	}
	if f.UserID != "" {
		conds = append(conds, option.Condition{Field: "user_id", Operator: option.EQ, Value: f.UserID})
	}

	return []option.QueryOption{
		option.ApplyOperator(conds...),
		option.WithRange("created_at", f.From, f.To),
	}, nil
}

var newestFirst = option.WithSortBy(
	option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"},
	option.QuerySortBy{SortBy: "id", OrderBy: "desc"},
)

// Query returns matching entries newest first. The page size defaults to 50
// and is capped at 250.
func (s *Service) Query(ctx context.Context, f Filter) (*QueryResult, error) {
	opts, err := s.filterOptions(f)
	if err != nil {
		return nil, err
	}
	page := f.Pagination.Normalize()

	return retry.Read(ctx, "audit.query", func(ctx context.Context) (*QueryResult, error) {
		ctx, cancel := db.WithTimeout(ctx, s.timeout)
		defer cancel()

		total, err := s.entries.Count(ctx, nil, opts...)
		if err != nil {
			return nil, err
		}

		entries, err := s.entries.Find(ctx, nil, append(opts, newestFirst, option.ApplyPagination(page))...)
		if err != nil {
			return nil, err
		}

		return &QueryResult{
			Entries:  entries,
			PageInfo: pagination.BuildPageInfo(page, len(entries), total),
		}, nil
	})
}

var errUploadAborted = errors.New("audit export upload aborted")

var oldestFirst = option.WithSortBy(
	option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"},
	option.QuerySortBy{SortBy: "id", OrderBy: "asc"},
)

// after resumes a scan strictly past the (created_at, id) of last.
func after(last *Entry) option.QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if last == nil {
			return tx
		}
		return tx.Where("(created_at > ? OR (created_at = ? AND id > ?))", last.CreatedAt, last.CreatedAt, last.ID)
	}
}

// Export streams every entry matching f, oldest first, as JSON lines to
// object storage and records an export entry. Pagination on f is ignored.
// Rows are read with a (created_at, id) cursor up to the moment the export
// started, so concurrent writes neither shift nor leak into the file.
func (s *Service) Export(ctx context.Context, actor *identity.Identity, f Filter) (*ExportResult, error) {
	log := zap.L().With(logFields(ctx)...)

	if s.objects == nil {
		return nil, errutil.NotImplemented("audit export storage is not configured", nil)
	}
	opts, err := s.filterOptions(f)
	if err != nil {
		return nil, err
	}

	started := s.now().UTC()
	opts = append(opts,
		option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.LTE, Value: started}),
		oldestFirst,
	)

	exportID := s.node.Generate().String()
	key := fmt.Sprintf("audit/exports/%s/%s.jsonl", started.Format("2006/01/02"), exportID)

	type upload struct {
		location string
		err      error
	}
	pr, pw := io.Pipe()
	done := make(chan upload, 1)
	go func() {
		location, err := s.objects.Put(ctx, key, pr, -1, "application/x-ndjson")
		pr.CloseWithError(err)
		done <- upload{location: location, err: err}
	}()

	count, err := s.streamEntries(ctx, opts, pw)
	pw.CloseWithError(err)
	up := <-done
	if err != nil && !errors.Is(err, errUploadAborted) {
		return nil, err
	}
	if up.err == nil && err != nil {
		up.err = err
	}
	if up.err != nil {
		log.Error("failed to upload audit export", zap.String("key", key), zap.Error(up.err))
		return nil, errutil.UpstreamUnavailable("failed to upload audit export", up.err)
	}
	location := up.location

	meta := map[string]any{
		"location": location,
		"count":    count,
	}
	if f.EntityType != "" {
		meta["entity_type"] = string(f.EntityType)
	}
	if f.From != nil {
		meta["from"] = f.From.UTC().Format(time.RFC3339)
	}
	if f.To != nil {
		meta["to"] = f.To.UTC().Format(time.RFC3339)
	}

	s.Record(ctx, RecordParams{
		Actor:      actor,
		Action:     ActionExport,
		EntityType: EntitySettings,
		EntityID:   exportID,
		EntityName: "audit_log",
		NewValues:  map[string]any{"location": location},
		Metadata:   meta,
	})

	return &ExportResult{Location: location, Count: count}, nil
}

// streamEntries encodes batches of matching entries into w until a short
// batch signals the end. It stops early when the upload side goes away.
func (s *Service) streamEntries(ctx context.Context, opts []option.QueryOption, w io.Writer) (int, error) {
	var (
		count int
		last  *Entry
	)
	enc := json.NewEncoder(w)
	for {
		batch, err := retry.Read(ctx, "audit.export", func(ctx context.Context) ([]*Entry, error) {
			ctx, cancel := db.WithTimeout(ctx, s.timeout)
			defer cancel()
			return s.entries.Find(ctx, nil, append(opts, after(last),
				option.ApplyPagination(pagination.Pagination{Limit: s.exportBatch}))...)
		})
		if err != nil {
			return count, err
		}
		for _, e := range batch {
			if err := enc.Encode(e); err != nil {
				return count, fmt.Errorf("%w: %v", errUploadAborted, err)
			}
		}
		count += len(batch)
		if len(batch) < s.exportBatch {
			return count, nil
		}
		last = batch[len(batch)-1]
	}
}
