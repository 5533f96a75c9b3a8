// Package chromedriver implements the browser session boundary over the
// Chrome DevTools Protocol.
package chromedriver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"intakewatch/internal/browser"
)

// submitBinding is the CDP binding the injected watcher calls on submit.
const submitBinding = "intakewatchSubmit"

// maxCapturedBody caps how much of a response body is pulled over the wire.
const maxCapturedBody = 1 << 20

// submitWatchScript arms click listeners on the intake form's submit button
// and reports through the CDP binding. Re-installed on every navigation via
// AddScriptToEvaluateOnNewDocument; the MutationObserver catches buttons
// mounted after page load.
const submitWatchScript = `
(function() {
	if (window.__intakewatchArmed) return;
	window.__intakewatchArmed = true;
	const seen = new WeakSet();

	function arm() {
		const selectors = [
			'[data-testid="addPatientSubmitButton"]',
			'button[data-testid*="addPatient"]',
			'button[type="submit"]'
		];
		for (const sel of selectors) {
			for (const btn of document.querySelectorAll(sel)) {
				if (seen.has(btn)) continue;
				const modal = btn.closest('[role="dialog"], .modal, [class*="Modal"], [class*="modal"]');
				if (!modal) continue;
				seen.add(btn);
				btn.addEventListener('click', function() {
					try { window.` + submitBinding + `(''); } catch (e) {}
				}, true);
			}
		}
	}

	arm();
	new MutationObserver(arm).observe(document.documentElement, { childList: true, subtree: true });
	setInterval(arm, 1000);
})();
`

// Session is a live Chrome tab on the target application's queue page.
type Session struct {
	tabCtx    context.Context
	cancelTab context.CancelFunc
	cancelAll context.CancelFunc
	logger    *slog.Logger

	submits   chan struct{}
	responses chan browser.Response

	mu     sync.RWMutex
	closed bool
}

// Dial launches a browser, navigates to the queue page and arms both event
// sources. The returned session's channels close when the tab dies.
func Dial(ctx context.Context, queueURL string, headless bool, logger *slog.Logger) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
	)
	allocCtx, cancelAll := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	s := &Session{
		tabCtx:    tabCtx,
		cancelTab: cancelTab,
		cancelAll: cancelAll,
		logger:    logger,
		submits:   make(chan struct{}, 8),
		responses: make(chan browser.Response, 64),
	}

	chromedp.ListenTarget(tabCtx, s.handleEvent)

	err := chromedp.Run(tabCtx,
		network.Enable(),
		runtime.AddBinding(submitBinding),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(submitWatchScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(queueURL),
		chromedp.Evaluate(submitWatchScript, nil),
	)
	if err != nil {
		cancelTab()
		cancelAll()
		return nil, fmt.Errorf("open queue page: %w", err)
	}

	go func() {
		<-tabCtx.Done()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.submits)
		close(s.responses)
	}()

	return s, nil
}

// handleEvent routes raw CDP events onto the session channels. Body fetches
// happen on their own goroutine so a slow fetch never stalls the CDP event
// pipeline.
func (s *Session) handleEvent(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventBindingCalled:
		if ev.Name != submitBinding {
			return
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return
		}
		select {
		case s.submits <- struct{}{}:
		default:
		}

	case *network.EventResponseReceived:
		resp := ev.Response
		if resp == nil {
			return
		}
		requestID := ev.RequestID
		go s.fetchBody(requestID, resp.URL, int(resp.Status), resp.MimeType)
	}
}

func (s *Session) fetchBody(requestID network.RequestID, rawURL string, status int, mimeType string) {
	var body []byte
	if strings.Contains(strings.ToLower(mimeType), "json") {
		c := chromedp.FromContext(s.tabCtx)
		if c != nil {
			ec := cdp.WithExecutor(s.tabCtx, c.Target)
			fetched, err := network.GetResponseBody(requestID).Do(ec)
			switch {
			case err != nil:
				// Bodies are evicted from the browser cache quickly; a miss
				// just means this response cannot be scanned.
				s.logger.Debug("response body unavailable", "url", rawURL, "error", err)
			case len(fetched) <= maxCapturedBody:
				body = fetched
			}
		}
	}

	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.responses <- browser.Response{
		URL:         rawURL,
		Path:        path,
		Status:      status,
		ContentType: mimeType,
		Body:        body,
	}:
	case <-s.tabCtx.Done():
	}
}

// PageURL returns the tab's current location.
func (s *Session) PageURL(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read page url: %w", err)
	}
	return location, nil
}

// FieldValue reads the first non-empty value among the selectors. Missing
// selectors are a normal case and contribute "".
func (s *Session) FieldValue(ctx context.Context, selectors ...string) (string, error) {
	sels, err := json.Marshal(selectors)
	if err != nil {
		return "", fmt.Errorf("encode selectors: %w", err)
	}
	expr := fmt.Sprintf(`(function(sels) {
		for (const sel of sels) {
			try {
				const el = document.querySelector(sel);
				if (!el) continue;
				const v = el.value !== undefined && el.value !== '' ? el.value : (el.textContent || '');
				if (v && v.trim()) return v.trim();
			} catch (e) {}
		}
		return '';
	})(%s)`, sels)

	var value string
	if err := s.run(ctx, chromedp.Evaluate(expr, &value)); err != nil {
		return "", fmt.Errorf("read field value: %w", err)
	}
	return value, nil
}

// FormVisible reports whether any known intake form field is on screen.
func (s *Session) FormVisible(ctx context.Context) (bool, error) {
	const expr = `(function() {
		const sels = ['[name="firstName"]', '[data-testid="addPatientFirstName"]', '[name="lastName"]'];
		for (const sel of sels) {
			const el = document.querySelector(sel);
			if (el && window.getComputedStyle(el).display !== 'none') return true;
		}
		return false;
	})()`
	var visible bool
	if err := s.run(ctx, chromedp.Evaluate(expr, &visible)); err != nil {
		return false, fmt.Errorf("check form visibility: %w", err)
	}
	return visible, nil
}

// SubmitEvents fires once per observed submit click.
func (s *Session) SubmitEvents() <-chan struct{} {
	return s.submits
}

// Responses streams every network response the tab makes.
func (s *Session) Responses() <-chan browser.Response {
	return s.responses
}

// Close tears the browser down. Channel closure follows from the tab context
// ending, which is the monitor's signal to flush.
func (s *Session) Close() error {
	s.cancelTab()
	s.cancelAll()
	return nil
}

// run executes actions on the tab, honoring the caller's deadline on top of
// the tab lifetime.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := s.tabCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(s.tabCtx, deadline)
		defer cancel()
	} else {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(s.tabCtx, 10*time.Second)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}
