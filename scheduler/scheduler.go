package scheduler

import (
	"context"
	"time"

	"maps-harvester/config"
	"maps-harvester/filter"
	"maps-harvester/stats"

	"github.com/sirupsen/logrus"
)

// Scheduler walks the city queue and harvests each locality in turn
type Scheduler struct {
	cfg      *config.Config
	browser  Browser
	recorder Recorder
	filter   *filter.Filter
	stats    *stats.Stats
	state    *RunState
	clock    Clock
	log      *logrus.Entry
}

// NewScheduler creates a scheduler over an already seeded recorder
func NewScheduler(cfg *config.Config, browser Browser, recorder Recorder, st *stats.Stats, state *RunState, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		browser:  browser,
		recorder: recorder,
		filter:   filter.NewFilter(cfg.Harvest),
		stats:    st,
		state:    state,
		clock:    realClock{},
		log:      log,
	}
}

// WithClock replaces the clock used for throttling
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.clock = c
	return s
}

// Run processes localities until the queue is empty, the operator quits or ctx ends.
// While paused it idles without retiring the current locality.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.WithField("localities", len(s.state.Remaining())).Info("Harvest started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.state.Quitting() {
			s.log.Info("Harvest stopped by operator")
			return nil
		}

		locality, gen, ok := s.state.Current()
		if !ok {
			s.log.Info("All localities processed")
			return nil
		}

		if !s.state.Running() {
			s.log.WithField("locality", locality).Info("Paused")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.state.Changed():
			}
			continue
		}

		s.processLocality(ctx, locality, gen)

		// pause between localities to avoid rate limiting
		if _, _, more := s.state.Current(); more && s.state.Running() {
			s.sleep(ctx, jitter(s.cfg.Harvest.LocalityDelayMin, s.cfg.Harvest.LocalityDelayMax))
		}
	}
}

// sleep suspends the worker; it returns early when the run halts
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	hctx, cancel := withHalt(ctx, s.state.Halted())
	defer cancel()
	_ = s.clock.Sleep(hctx, d)
}
