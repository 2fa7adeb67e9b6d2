package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/pocketsync/pocketsync/internal/record"
)

// HTTPAdapter pushes records and actions to a REST backend.
//
// Records are upserted with PUT /records/{id}; actions are applied with
// POST /actions. A rate limiter bounds how hard a large backlog hammers the
// backend right after reconnect.
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPAdapter creates an adapter for the given base URL.
//
// If client is nil, http.DefaultClient is used; per-call deadlines come from
// the caller's context, not the client. ratePerSec bounds outgoing calls;
// zero or negative disables limiting.
func NewHTTPAdapter(baseURL string, client *http.Client, ratePerSec float64) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}

	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}

	return &HTTPAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: limiter,
	}
}

// PushRecord implements Adapter.
func (a *HTTPAdapter) PushRecord(ctx context.Context, rec *record.DataRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return &Error{Op: "push record", Permanent: true, Err: err}
	}

	url := fmt.Sprintf("%s/records/%s", a.baseURL, rec.ID)
	return a.do(ctx, "push record", http.MethodPut, url, body)
}

// ApplyAction implements Adapter.
func (a *HTTPAdapter) ApplyAction(ctx context.Context, action *record.PendingAction) error {
	body, err := json.Marshal(action)
	if err != nil {
		return &Error{Op: "apply action", Permanent: true, Err: err}
	}

	url := a.baseURL + "/actions"
	return a.do(ctx, "apply action", http.MethodPost, url, body)
}

func (a *HTTPAdapter) do(ctx context.Context, op, method, url string, body []byte) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return &Error{Op: op, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Op: op, Permanent: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		// Transport failure: connectivity flapped or the backend is down.
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read a little of the body for the error message; ignore read failures.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))

	return &Error{
		Op:         op,
		StatusCode: resp.StatusCode,
		Permanent:  permanentStatus(resp.StatusCode),
		Err:        fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
	}
}

// permanentStatus reports whether an HTTP status will never succeed on
// retry. 408 (timeout) and 429 (throttled) are transient despite being 4xx.
func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
