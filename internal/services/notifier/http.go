package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// HTTPNotifier reports completions to the API's /complete-job endpoint.
type HTTPNotifier struct {
	url    string
	client *http.Client
	logger *log.Logger
}

func NewHTTPNotifier(baseURL string, timeout time.Duration, logger *log.Logger) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{
		url:    strings.TrimRight(baseURL, "/") + "/complete-job",
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// NotifyCompletion treats 404 as delivered: the API no longer knows the
// job (restart or TTL eviction), and retrying cannot change that.
func (n *HTTPNotifier) NotifyCompletion(ctx context.Context, c models.JobCompletion) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post completion: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		n.logger.Warn().Str("job_id", c.JobID).Msg("completion target does not know the job")
		return nil
	case resp.StatusCode >= 300:
		return fmt.Errorf("post completion: unexpected status %s", resp.Status)
	}

	n.logger.Debug().Str("job_id", c.JobID).Msg("job completion delivered")
	return nil
}

var _ core.CompletionNotifier = (*HTTPNotifier)(nil)
