// Package browser defines the boundary to the automated browser session.
// The capture pipeline consumes the session purely as an event source plus a
// DOM accessor; navigation, login and session lifecycle live behind it.
package browser

import "context"

// Response is one observed network response. Body is the raw response body,
// already capped by the adapter; ContentType is the response header verbatim.
type Response struct {
	URL         string
	Path        string
	Status      int
	ContentType string
	Body        []byte
}

// Session is the live browser session the monitor observes.
//
// SubmitEvents and Responses deliver until the session drops, then close.
// A closed channel is the session-failure signal: the monitor flushes pending
// work and exits, it does not reconnect.
type Session interface {
	// PageURL returns the current top-level page URL.
	PageURL(ctx context.Context) (string, error)

	// FieldValue reads the first non-empty value among the given selectors.
	// A selector matching nothing is a normal case and yields ""; only
	// session-level failures return an error.
	FieldValue(ctx context.Context, selectors ...string) (string, error)

	// FormVisible reports whether the intake form is currently on screen.
	FormVisible(ctx context.Context) (bool, error)

	// SubmitEvents fires once per observed form submission.
	SubmitEvents() <-chan struct{}

	// Responses streams every network response the page makes.
	Responses() <-chan Response
}
