// Package listen watches the session's network traffic for the identifier
// the target application assigns asynchronously after a submission.
package listen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"intakewatch/internal/browser"
	"intakewatch/internal/intake/models"
)

// maxBodyBytes bounds how much of a response body the scanner will decode.
// Anything larger is background traffic we do not care about.
const maxBodyBytes = 1 << 20

// relevantPathHints pre-filters traffic before decoding. The identifier only
// ever shows up on booking-adjacent endpoints; everything else is skipped
// without touching the body.
var relevantPathHints = []string{
	"patient", "booking", "queue", "appointment", "facesheet", "visit", "/api/",
}

// Listener consumes every network response the session observes and emits an
// IdentifierEvent for each response that carries an identifier. Parse failures
// and bodies without a known key are the expected majority case and are
// dropped silently.
type Listener struct {
	responses <-chan browser.Response
	events    chan models.IdentifierEvent
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Listener over a session's response stream. The event buffer
// absorbs bursts so scanning never stalls the network pipeline.
func New(responses <-chan browser.Response, logger *slog.Logger) *Listener {
	return &Listener{
		responses: responses,
		events:    make(chan models.IdentifierEvent, 64),
		logger:    logger,
		now:       time.Now,
	}
}

// Events streams identifier sightings. Closed when the response stream ends.
func (l *Listener) Events() <-chan models.IdentifierEvent {
	return l.events
}

// Run drains the response stream until it closes or ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.events)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-l.responses:
			if !ok {
				return nil
			}
			emrID, found := Scan(resp)
			if !found {
				continue
			}
			event := models.IdentifierEvent{
				EMRID:       emrID,
				ObservedAt:  l.now(),
				RequestPath: resp.Path,
			}
			l.logger.InfoContext(ctx, "identifier observed", "emr_id", emrID, "path", resp.Path)
			select {
			case l.events <- event:
			default:
				// Buffer full means the consumer is wedged; dropping the
				// oldest keeps the newest sighting, which is the one most
				// likely to belong to the pending submission.
				select {
				case <-l.events:
				default:
				}
				l.events <- event
			}
		}
	}
}

// Scan inspects a single response for an identifier. It returns false for
// non-JSON bodies, undecodable bodies, and bodies without a known key.
func Scan(resp browser.Response) (string, bool) {
	if resp.Status != 200 || !isJSONContent(resp.ContentType) {
		return "", false
	}
	if len(resp.Body) == 0 || len(resp.Body) > maxBodyBytes {
		return "", false
	}
	if !pathLooksRelevant(resp.URL) {
		return "", false
	}

	var body any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", false
	}

	// Known key paths first: the booking endpoint puts the identifier in
	// data.integration_status[].emr_id or
	// data.patient_match_details.external_user_profile_id.
	if root, ok := body.(map[string]any); ok {
		if data, ok := root["data"].(map[string]any); ok {
			if statuses, ok := data["integration_status"].([]any); ok {
				for _, entry := range statuses {
					m, ok := entry.(map[string]any)
					if !ok {
						continue
					}
					if id := stringValue(m["emr_id"]); id != "" {
						return id, true
					}
				}
			}
			if details, ok := data["patient_match_details"].(map[string]any); ok {
				if id := stringValue(details["external_user_profile_id"]); id != "" {
					return id, true
				}
			}
		}
	}

	// Fallback: any key mentioning "emr" anywhere in the payload.
	if id := findEMRKey(body); id != "" {
		return id, true
	}
	return "", false
}

func isJSONContent(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}

func pathLooksRelevant(url string) bool {
	lower := strings.ToLower(url)
	for _, hint := range relevantPathHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// findEMRKey walks the decoded payload looking for a key containing "emr"
// with a non-empty scalar value. Depth-first, first hit wins.
func findEMRKey(node any) string {
	switch v := node.(type) {
	case map[string]any:
		for key, value := range v {
			if strings.Contains(strings.ToLower(key), "emr") {
				if id := stringValue(value); id != "" {
					return id
				}
			}
		}
		for _, value := range v {
			if id := findEMRKey(value); id != "" {
				return id
			}
		}
	case []any:
		for _, item := range v {
			if id := findEMRKey(item); id != "" {
				return id
			}
		}
	}
	return ""
}

// stringValue renders a scalar identifier value. JSON numbers arrive as
// float64; integral ones are printed without the decimal point.
func stringValue(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%v", value)
	case json.Number:
		return value.String()
	}
	return ""
}
