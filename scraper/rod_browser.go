package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"maps-harvester/config"
	"maps-harvester/models"
	"maps-harvester/parser"
	"maps-harvester/scheduler"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// Selectors of the map search page
const (
	ConsentSelector   = `form button[aria-label="Tout refuser"]`
	CandidateSelector = ".hfpxzc"
	ResultsSelector   = ".m6QErb"
	BackSelector      = `button[jsaction="pane.back"]`
)

const (
	viewportWidth  = 1920
	viewportHeight = 1080

	detailTimeout = 10 * time.Second
	backTimeout   = 2 * time.Second
	panePoll      = 100 * time.Millisecond
)

// readPaneJS returns the detail pane name and whether it was marked as already
// read. With mark set the current name element is marked.
const readPaneJS = `(sel, mark) => {
	const el = document.querySelector(sel);
	if (!el) return {present: false, stale: false, name: ""};
	const state = {present: true, stale: el.hasAttribute("data-harvested"), name: el.textContent};
	if (mark) el.setAttribute("data-harvested", "1");
	return state;
}`

// Resource types never needed to read the result list
var blockedResources = []proto.NetworkResourceType{
	proto.NetworkResourceTypeImage,
	proto.NetworkResourceTypeStylesheet,
	proto.NetworkResourceTypeFont,
}

var errNoPage = errors.New("browser session not started")

// RodBrowser drives the map search page in a headless Chrome through rod
type RodBrowser struct {
	cfg    config.BrowserConfig
	log    *logrus.Entry
	parser *parser.DetailParser

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	router   *rod.HijackRouter
}

var _ scheduler.Browser = (*RodBrowser)(nil)

// NewRodBrowser launches a browser and opens the search page tab
func NewRodBrowser(cfg config.BrowserConfig, log *logrus.Entry) (*RodBrowser, error) {
	rb := &RodBrowser{
		cfg:    cfg,
		log:    log,
		parser: parser.NewDetailParser(),
	}
	if err := rb.start(); err != nil {
		return nil, err
	}
	return rb, nil
}

func (rb *RodBrowser) start() error {
	l, browser, err := launch(rb.cfg, rb.log)
	if err != nil {
		return err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.Close()
		l.Kill()
		return fmt.Errorf("failed to open page: %w", err)
	}

	if rb.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: rb.cfg.UserAgent}); err != nil {
			rb.log.WithError(err).Warn("Failed to set user agent")
		}
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth,
		Height:            viewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		rb.log.WithError(err).Warn("Failed to set viewport")
	}

	var router *rod.HijackRouter
	if rb.cfg.BlockResources {
		router = page.HijackRequests()
		for _, kind := range blockedResources {
			if err := router.Add("*", kind, func(h *rod.Hijack) {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			}); err != nil {
				rb.log.WithError(err).WithField("type", kind).Warn("Failed to block resource type")
			}
		}
		go router.Run()
	}

	rb.launcher, rb.browser, rb.page, rb.router = l, browser, page, router
	return nil
}

func (rb *RodBrowser) stop() error {
	var err error
	if rb.router != nil {
		_ = rb.router.Stop()
	}
	if rb.browser != nil {
		err = rb.browser.Close()
	}
	if rb.launcher != nil {
		rb.launcher.Kill()
	}
	rb.launcher, rb.browser, rb.page, rb.router = nil, nil, nil, nil
	return err
}

func (rb *RodBrowser) currentPage() (*rod.Page, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.page == nil {
		return nil, errNoPage
	}
	return rb.page, nil
}

// Navigate loads the search URL and waits for the page to settle
func (rb *RodBrowser) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	page, err := rb.currentPage()
	if err != nil {
		return err
	}

	p := page.Context(ctx).Timeout(timeout)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("failed to load page: %w", err)
	}
	if err := p.WaitStable(rb.cfg.SettleDelay); err != nil {
		rb.log.WithError(err).Debug("Page did not settle")
	}
	return nil
}

// DismissConsent refuses the cookie dialog when it appears within timeout
func (rb *RodBrowser) DismissConsent(ctx context.Context, timeout time.Duration) (bool, error) {
	page, err := rb.currentPage()
	if err != nil {
		return false, err
	}

	button, err := page.Context(ctx).Timeout(timeout).Element(ConsentSelector)
	if err != nil {
		return false, nil
	}
	if err := button.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("failed to refuse consent: %w", err)
	}
	rb.log.Debug("Consent dialog dismissed")
	return true, rb.settle(ctx)
}

// QueryCandidates returns the result entries rendered so far
func (rb *RodBrowser) QueryCandidates(ctx context.Context) ([]scheduler.Element, error) {
	page, err := rb.currentPage()
	if err != nil {
		return nil, err
	}

	elements, err := page.Context(ctx).Elements(CandidateSelector)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	out := make([]scheduler.Element, len(elements))
	for i, el := range elements {
		out[i] = el
	}
	return out, nil
}

// Extract opens the entry's detail pane, parses it and goes back to the list.
// Once the entry was clicked the pane is closed on every path.
func (rb *RodBrowser) Extract(ctx context.Context, handle scheduler.Element) (*models.Extracted, error) {
	el, ok := handle.(*rod.Element)
	if !ok {
		return nil, fmt.Errorf("unexpected element type %T", handle)
	}
	page, err := rb.currentPage()
	if err != nil {
		return nil, err
	}
	el = el.Context(ctx)

	if err := el.ScrollIntoView(); err != nil {
		return nil, fmt.Errorf("failed to scroll to entry: %w", err)
	}
	if err := rb.settle(ctx); err != nil {
		return nil, err
	}

	prev, err := readPane(ctx, page, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read detail pane: %w", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("failed to open entry: %w", err)
	}
	defer rb.closePane(page)

	if err := waitPaneReplaced(ctx, page, prev); err != nil {
		return nil, fmt.Errorf("detail pane did not open: %w", err)
	}
	if err := rb.settle(ctx); err != nil {
		return nil, err
	}

	html, err := page.Context(ctx).HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to get HTML: %w", err)
	}
	return rb.parser.ParseDetailPane(html)
}

// paneState is the detail pane as seen at one instant
type paneState struct {
	Present bool   `json:"present"`
	Stale   bool   `json:"stale"`
	Name    string `json:"name"`
}

// replaces reports whether the pane shows another entry than prev did.
// A marked element with the same name is the previous pane still open.
func (s paneState) replaces(prev paneState) bool {
	if !s.Present {
		return false
	}
	if !prev.Present || !s.Stale {
		return true
	}
	return s.Name != prev.Name
}

func readPane(ctx context.Context, page *rod.Page, mark bool) (paneState, error) {
	var state paneState
	res, err := page.Context(ctx).Eval(readPaneJS, parser.NameSelector, mark)
	if err != nil {
		return state, err
	}
	err = res.Value.Unmarshal(&state)
	return state, err
}

// waitPaneReplaced polls the pane until it shows a new entry or detailTimeout passes
func waitPaneReplaced(ctx context.Context, page *rod.Page, prev paneState) error {
	ctx, cancel := context.WithTimeout(ctx, detailTimeout)
	defer cancel()

	ticker := time.NewTicker(panePoll)
	defer ticker.Stop()
	for {
		if cur, err := readPane(ctx, page, false); err == nil && cur.replaces(prev) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// closePane clicks the back button if the detail pane has one.
// It does not use the extraction context so an abandoned entry is still closed.
func (rb *RodBrowser) closePane(page *rod.Page) {
	back, err := page.Timeout(backTimeout).Element(BackSelector)
	if err != nil {
		return
	}
	if err := back.Timeout(backTimeout).Click(proto.InputMouseButtonLeft, 1); err != nil {
		rb.log.WithError(err).Debug("Failed to close detail pane")
	}
}

// TriggerMoreResults scrolls the result list to its end
func (rb *RodBrowser) TriggerMoreResults(ctx context.Context) error {
	page, err := rb.currentPage()
	if err != nil {
		return err
	}

	_, err = page.Context(ctx).Eval(`(sel) => {
		const list = document.querySelector(sel);
		if (list) list.scrollTop = list.scrollHeight;
	}`, ResultsSelector)
	if err != nil {
		return fmt.Errorf("failed to scroll results: %w", err)
	}
	return nil
}

// Reinitialize closes the browser and launches a new one
func (rb *RodBrowser) Reinitialize(ctx context.Context) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if err := rb.stop(); err != nil {
		rb.log.WithError(err).Debug("Failed to close previous browser")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return rb.start()
}

// Close closes the browser
func (rb *RodBrowser) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.stop()
}

// settle waits for the page to react to the last interaction
func (rb *RodBrowser) settle(ctx context.Context) error {
	if rb.cfg.SettleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(rb.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
