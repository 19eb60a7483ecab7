package scheduler

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// processLocality runs harvest attempts on one locality with a bounded retry budget.
// Every failed attempt counts as an error; every extra attempt counts as a retry
// and starts from a fresh browser session. When the budget is spent the locality
// is skipped so the rest of the run continues.
func (s *Scheduler) processLocality(ctx context.Context, locality string, gen uint64) {
	maxAttempts := s.cfg.Harvest.MaxAttempts
	log := s.log.WithField("locality", locality)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		alog := log.WithField("attempt", fmt.Sprintf("%d/%d", attempt+1, maxAttempts))

		if attempt > 0 {
			s.stats.RecordRetry()
			alog.Info("Reinitializing browser session")
			if err := s.browser.Reinitialize(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.stats.RecordError()
				alog.WithError(fmt.Errorf("%w: %w", ErrSession, err)).Error("Attempt failed")
				continue
			}
		}

		alog.Info("Processing locality")
		outcome, err := s.harvest(ctx, locality, gen)
		if err == nil {
			s.finish(alog, outcome, gen)
			return
		}
		if ctx.Err() != nil {
			return
		}

		s.stats.RecordError()
		alog.WithError(err).Error("Attempt failed")

		if s.state.Generation() != gen || s.state.Quitting() {
			// skipped or stopped while failing; nothing left to retry
			return
		}
	}

	log.Warnf("Giving up after %d attempts, moving to next locality", maxAttempts)
	if s.state.AdvanceIf(gen) {
		s.logNext()
	}
}

func (s *Scheduler) finish(log *logrus.Entry, outcome Outcome, gen uint64) {
	switch outcome {
	case OutcomeSaturated:
		log.Infof("%d duplicates reached, locality caught up", s.cfg.Harvest.MaxDuplicates)
	case OutcomePlateau:
		log.Info("Result list exhausted")
	default:
		// paused, quit or skipped: the locality stays where the operator left it
		return
	}
	if s.state.AdvanceIf(gen) {
		s.logNext()
	}
}

func (s *Scheduler) logNext() {
	if next, _, ok := s.state.Current(); ok {
		s.log.WithField("locality", next).Info("Moving to next locality")
	} else {
		s.log.Info("All localities have been processed")
	}
}
