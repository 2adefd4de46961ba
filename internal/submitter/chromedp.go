// -----------------------------------------------------------------------
// Chrome Submitter - fills and submits directory listing forms
// -----------------------------------------------------------------------

package submitter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/inscribo/internal/common"
	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
)

const defaultUserAgent = "Inscribo-Submitter/1.0"

// ChromeSubmitter drives a headless Chrome instance to fill and submit
// directory listing forms. One browser process is shared; each submission
// runs in its own tab context so a wedged page never poisons the next.
type ChromeSubmitter struct {
	logger    arbor.ILogger
	inspector *PageInspector
	throttle  *DomainThrottle

	settleWait time.Duration

	mu              sync.Mutex
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	started         bool
}

// NewChromeSubmitter creates a submitter from config. Start must be called
// before the first Submit.
func NewChromeSubmitter(cfg *common.SubmitterConfig, logger arbor.ILogger) *ChromeSubmitter {
	settleWait := 3 * time.Second
	if d, err := time.ParseDuration(cfg.SettleWait); err == nil && d > 0 {
		settleWait = d
	}
	domainInterval := 2 * time.Second
	if d, err := time.ParseDuration(cfg.DomainInterval); err == nil {
		domainInterval = d
	}

	s := &ChromeSubmitter{
		logger:     logger,
		inspector:  NewPageInspector(),
		throttle:   NewDomainThrottle(domainInterval),
		settleWait: settleWait,
	}
	s.buildBrowser(cfg.Headless)
	return s
}

func (s *ChromeSubmitter) buildBrowser(headless bool) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(defaultUserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.allocatorCancel = allocatorCancel
}

// Start launches the browser process and verifies it responds.
func (s *ChromeSubmitter) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("submitter already started")
	}

	testCtx, cancel := context.WithTimeout(s.browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	s.started = true
	s.logger.Info().Msg("Chrome submitter started")
	return nil
}

// Stop tears down the browser process.
func (s *ChromeSubmitter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocatorCancel != nil {
		s.allocatorCancel()
	}
	s.started = false
	s.logger.Info().Msg("Chrome submitter stopped")
}

// Submit navigates to the directory's submission form, fills the mapped
// fields from the profile and submits. The caller's context bounds the
// whole attempt. A captcha challenge on the form fails the attempt rather
// than blocking on it.
func (s *ChromeSubmitter) Submit(ctx context.Context, dir models.DirectoryDescriptor, profile models.BusinessProfile) (interfaces.SubmissionOutcome, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return interfaces.SubmissionOutcome{}, fmt.Errorf("submitter not started")
	}
	browserCtx := s.browserCtx
	s.mu.Unlock()

	targetURL := dir.SubmissionURL
	if targetURL == "" {
		targetURL = dir.URL
	}

	if err := s.throttle.Wait(ctx, targetURL); err != nil {
		return interfaces.SubmissionOutcome{}, fmt.Errorf("throttle wait cancelled: %w", err)
	}

	// Fresh tab per attempt, bounded by the caller's deadline.
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	runCtx, runCancel := mergeDeadline(tabCtx, ctx)
	defer runCancel()

	var pageHTML string
	if err := chromedp.Run(runCtx,
		network.Enable(),
		// Media downloads only slow form pages down.
		network.SetBlockedURLs([]string{"*.png", "*.jpg", "*.gif", "*.webp", "*.mp4", "*.woff", "*.woff2"}),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &pageHTML),
	); err != nil {
		return interfaces.SubmissionOutcome{}, fmt.Errorf("failed to load submission page: %w", err)
	}

	if s.inspector.HasCaptcha(pageHTML) {
		s.logger.Info().
			Str("directory_id", dir.ID).
			Msg("Captcha detected on submission form")
		return interfaces.SubmissionOutcome{Success: false, ErrorDetail: "captcha challenge on submission form"}, nil
	}

	if len(dir.FieldMapping) == 0 {
		return interfaces.SubmissionOutcome{Success: false, ErrorDetail: "no field mapping configured"}, nil
	}

	actions, filled := s.fillActions(dir, profile)
	if filled == 0 {
		return interfaces.SubmissionOutcome{Success: false, ErrorDetail: "no profile fields matched the form mapping"}, nil
	}
	actions = append(actions,
		chromedp.Click("button[type='submit'], input[type='submit']", chromedp.ByQuery),
		chromedp.Sleep(s.settleWait),
		chromedp.OuterHTML("html", &pageHTML),
	)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return interfaces.SubmissionOutcome{}, fmt.Errorf("form submission failed: %w", err)
	}

	if !s.inspector.HasSuccessIndicator(pageHTML, dir.SuccessIndicators) {
		return interfaces.SubmissionOutcome{Success: false, ErrorDetail: "no success confirmation after submit"}, nil
	}

	s.logger.Info().
		Str("directory_id", dir.ID).
		Int("fields_filled", filled).
		Msg("Listing submitted")
	return interfaces.SubmissionOutcome{Success: true}, nil
}

// fillActions builds the SendKeys actions for every profile field with a
// configured selector. Unmapped fields are ignored.
func (s *ChromeSubmitter) fillActions(dir models.DirectoryDescriptor, profile models.BusinessProfile) ([]chromedp.Action, int) {
	fields := profile.Fields()
	var actions []chromedp.Action

	for fieldName, selector := range dir.FieldMapping {
		value, ok := fields[fieldName]
		if !ok {
			continue
		}
		actions = append(actions, chromedp.SendKeys(selector, value, chromedp.ByQuery))
	}
	return actions, len(actions)
}

// mergeDeadline applies the caller context's deadline and cancellation to
// the tab context.
func mergeDeadline(tabCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := callerCtx.Deadline(); ok {
		return context.WithDeadline(tabCtx, deadline)
	}
	return context.WithCancel(tabCtx)
}
