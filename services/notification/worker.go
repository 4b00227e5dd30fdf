package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"seekcap-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Worker struct {
	mailer Mailer
}

func NewWorker(mailer Mailer) *Worker {
	return &Worker{mailer: mailer}
}

// ProcessTask delivers one email. Malformed payloads are not retried.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var email Email
	if err := json.Unmarshal(t.Payload(), &email); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if !email.Valid() {
		return fmt.Errorf("invalid %s payload: %w", t.Type(), asynq.SkipRetry)
	}

	if err := w.mailer.Send(email); err != nil {
		zap.L().Warn("failed to send email", zap.String("to", email.To), zap.Error(err))
		return err
	}

	zap.L().Info("email sent", zap.String("to", email.To), zap.String("subject", email.Subject))
	return nil
}

func registerWorker(mux *asynq.ServeMux, w *Worker) {
	mux.Handle(taskname.NotificationEmail, w)
}
