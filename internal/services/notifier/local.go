package notifier

import (
	"context"
	"errors"

	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
	"github.com/markdave123-py/pdfchat/internal/services"
)

// LocalNotifier completes jobs in-process. Used when the API and the
// workers share one binary.
type LocalNotifier struct {
	tracker *services.StatusService
	logger  *log.Logger
}

func NewLocalNotifier(tracker *services.StatusService, logger *log.Logger) *LocalNotifier {
	return &LocalNotifier{tracker: tracker, logger: logger}
}

func (n *LocalNotifier) NotifyCompletion(ctx context.Context, c models.JobCompletion) error {
	_, err := n.tracker.Complete(ctx, c)
	if errors.Is(err, services.ErrJobNotFound) {
		n.logger.Warn().Str("job_id", c.JobID).Msg("completed job has no status record")
		return nil
	}
	return err
}

var _ core.CompletionNotifier = (*LocalNotifier)(nil)
