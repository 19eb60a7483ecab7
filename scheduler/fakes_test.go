package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"maps-harvester/config"
	"maps-harvester/dedup"
	"maps-harvester/models"
	"maps-harvester/stats"

	"github.com/sirupsen/logrus"
)

// fakeBrowser serves scripted result lists per locality
type fakeBrowser struct {
	mu sync.Mutex

	// batches returns the entries rendered by the n-th query since the last navigation
	batches func(locality string, n int) []models.Extracted
	// navFail decides whether the n-th navigation (1-based, across the run) fails
	navFail func(locality string, n int) error
	// onExtract runs before each extraction returns
	onExtract func(locality string, x models.Extracted)
	// extractErr fails extraction of entries with a matching name
	extractErr map[string]error
	queryErr   error
	// blockOnHalt makes Extract wait for its context before returning
	blockOnHalt bool

	locality   string
	queries    int
	navs       []string
	extracts   int
	scrolls    int
	reinits    int
	navDupSeen map[string]int64
	st         *stats.Stats
}

func (b *fakeBrowser) Navigate(_ context.Context, url string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navs = append(b.navs, url)
	b.locality = url[strings.LastIndex(url, "/")+1:]
	b.queries = 0
	if b.st != nil {
		if b.navDupSeen == nil {
			b.navDupSeen = map[string]int64{}
		}
		b.navDupSeen[b.locality] = b.st.Duplicates()
	}
	if b.navFail != nil {
		return b.navFail(b.locality, len(b.navs))
	}
	return nil
}

func (b *fakeBrowser) DismissConsent(context.Context, time.Duration) (bool, error) {
	return false, nil
}

func (b *fakeBrowser) QueryCandidates(context.Context) ([]Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queryErr != nil {
		return nil, b.queryErr
	}
	entries := b.batches(b.locality, b.queries)
	b.queries++
	out := make([]Element, len(entries))
	for i, x := range entries {
		out[i] = x
	}
	return out, nil
}

func (b *fakeBrowser) Extract(ctx context.Context, el Element) (*models.Extracted, error) {
	x := el.(models.Extracted)

	b.mu.Lock()
	b.extracts++
	locality := b.locality
	hook := b.onExtract
	err := b.extractErr[x.Name]
	block := b.blockOnHalt
	b.mu.Unlock()

	if hook != nil {
		hook(locality, x)
	}
	if block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, err
	}
	return &x, nil
}

func (b *fakeBrowser) TriggerMoreResults(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scrolls++
	return nil
}

func (b *fakeBrowser) Reinitialize(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reinits++
	return nil
}

func (b *fakeBrowser) Close() error { return nil }

func (b *fakeBrowser) navCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.navs)
}

// fakeClock returns immediately and records requested durations
type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

// memStore is an in-memory persistent store
type memStore struct {
	mu   sync.Mutex
	rows []models.Establishment
	fail map[string]error
}

func (m *memStore) Append(_ context.Context, e models.Establishment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[e.Name]; err != nil {
		return err
	}
	m.rows = append(m.rows, e)
	return nil
}

func (m *memStore) byLocality(locality string) []models.Establishment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Establishment
	for _, r := range m.rows {
		if r.Locality == locality {
			out = append(out, r)
		}
	}
	return out
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type harness struct {
	cfg     *config.Config
	browser *fakeBrowser
	store   *memStore
	stats   *stats.Stats
	state   *RunState
	clock   *fakeClock
	sched   *Scheduler
	control *ControlPlane
}

func newHarness(localities []string, browser *fakeBrowser, preload []models.Establishment, tweak func(*config.Config)) *harness {
	cfg := config.GetDefaultConfig()
	cfg.Localities = localities
	cfg.SearchURL = "https://maps.test/search/"
	if tweak != nil {
		tweak(cfg)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	log := logrus.NewEntry(logger)

	st := stats.New()
	store := &memStore{}
	recorder := dedup.New(store, st)
	recorder.Load(preload)

	state := NewRunState(localities, st)
	browser.st = st
	clock := &fakeClock{}
	sched := NewScheduler(cfg, browser, recorder, st, state, log).WithClock(clock)

	return &harness{
		cfg:     cfg,
		browser: browser,
		store:   store,
		stats:   st,
		state:   state,
		clock:   clock,
		sched:   sched,
		control: NewControlPlane(state, st, "test-run", log),
	}
}

func (h *harness) cmd(kind CommandKind) string {
	var out string
	h.control.Handle(Command{Kind: kind, Reply: func(s string) { out = s }})
	return out
}

// records builds n distinct entries for a locality
func records(locality string, n int) []models.Extracted {
	out := make([]models.Extracted, n)
	for i := range out {
		out[i] = models.Extracted{
			Name:    fmt.Sprintf("%s shop %d", locality, i+1),
			Address: fmt.Sprintf("%d Rue Centrale, %s", i+1, locality),
			Phone:   "04 78 00 00 0" + fmt.Sprint(i%10),
		}
	}
	return out
}

// steady always renders the same n entries
func steady(n int) func(string, int) []models.Extracted {
	return func(locality string, _ int) []models.Extracted {
		return records(locality, n)
	}
}

var errTimeout = errors.New("navigation timeout")
