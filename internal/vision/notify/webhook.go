// Package notify delivers emitted events to external receivers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/argus-sensing/sentinel.vision/internal/httputil"
	"github.com/argus-sensing/sentinel.vision/internal/vision"
)

// WebhookNotifier POSTs each event as JSON to a configured URL. It satisfies
// the pipeline's event sink contract, so delivery failures are best-effort:
// the pipeline logs and counts them but the event stands.
type WebhookNotifier struct {
	url    string
	client httputil.HTTPClient
}

// webhookPayload is the wire shape of one delivered event.
type webhookPayload struct {
	ID          string             `json:"id"`
	Timestamp   time.Time          `json:"timestamp"`
	FrameSeq    uint64             `json:"frame_seq"`
	Label       string             `json:"label"`
	Confidence  float64            `json:"confidence"`
	Detections  []vision.Detection `json:"detections"`
	Description string             `json:"description,omitempty"`
}

// NewWebhookNotifier creates a notifier for the given URL. A nil client uses
// the default HTTP client.
func NewWebhookNotifier(url string, client httputil.HTTPClient) (*WebhookNotifier, error) {
	if url == "" {
		return nil, fmt.Errorf("notify: webhook URL is empty")
	}
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &WebhookNotifier{url: url, client: client}, nil
}

// Persist delivers one event. A non-2xx response is an error.
func (n *WebhookNotifier) Persist(ctx context.Context, event *vision.Event) error {
	payload := webhookPayload{
		ID:          event.ID,
		Timestamp:   event.Timestamp,
		FrameSeq:    event.FrameSeq,
		Label:       event.Label,
		Confidence:  event.Confidence,
		Detections:  event.Detections,
		Description: event.Description,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal event %s: %w", event.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: deliver event %s: %w", event.ID, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %d for event %s", resp.StatusCode, event.ID)
	}
	return nil
}
