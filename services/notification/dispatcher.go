package notification

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"seekcap-controlplane/pkg/task"
	"seekcap-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const enqueueTimeout = 2 * time.Second

// Dispatcher sends notifications without reporting failure to the caller.
type Dispatcher interface {
	Send(ctx context.Context, email Email)
}

type dispatcher struct {
	enqueuer task.Enqueuer
}

func NewDispatcher(enqueuer task.Enqueuer) Dispatcher {
	return &dispatcher{enqueuer: enqueuer}
}

// LooksLikeEmail is the check producers use before addressing an assignee.
func LooksLikeEmail(s string) bool {
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\r\n")
}

func (d *dispatcher) Send(ctx context.Context, email Email) {
	sc := trace.SpanContextFromContext(ctx)
	log := zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
		zap.String("task_type", taskname.NotificationEmail),
	)

	if !email.Valid() {
		log.Warn("dropping invalid notification", zap.String("to", email.To), zap.String("subject", email.Subject))
		return
	}

	payload, err := json.Marshal(email)
	if err != nil {
		log.Error("failed to marshal notification", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	info, err := d.enqueuer.Enqueue(ctx,
		asynq.NewTask(taskname.NotificationEmail, payload),
		asynq.Queue(taskname.QueueDefault),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
	if err != nil {
		log.Error("failed to enqueue notification", zap.String("to", email.To), zap.Error(err))
		return
	}

	log.Debug("notification enqueued", zap.String("task_id", info.ID))
}
