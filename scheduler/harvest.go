package scheduler

import (
	"context"
	"fmt"

	"maps-harvester/searchurl"

	"github.com/sirupsen/logrus"
)

// Outcome tells why a harvest attempt ended without error
type Outcome int

const (
	// OutcomePlateau: the candidate count stopped changing
	OutcomePlateau Outcome = iota
	// OutcomeSaturated: the duplicate threshold was reached
	OutcomeSaturated
	// OutcomeInterrupted: the run was paused or stopped
	OutcomeInterrupted
	// OutcomeRetired: the locality was skipped while being harvested
	OutcomeRetired
)

func (o Outcome) String() string {
	switch o {
	case OutcomePlateau:
		return "plateau"
	case OutcomeSaturated:
		return "saturated"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeRetired:
		return "retired"
	}
	return "unknown"
}

// harvest enumerates one locality's result list until it converges.
// Convergence is either MaxStale consecutive equal candidate counts or
// MaxDuplicates duplicates within the locality.
func (s *Scheduler) harvest(ctx context.Context, locality string, gen uint64) (Outcome, error) {
	h := s.cfg.Harvest
	log := s.log.WithField("locality", locality)

	url := searchurl.Build(s.cfg.SearchURL, locality)
	if err := s.browser.Navigate(ctx, url, s.cfg.Browser.NavigationTimeout); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNavigation, err)
	}

	dismissed, err := s.browser.DismissConsent(ctx, s.cfg.Browser.ConsentTimeout)
	if err != nil || !dismissed {
		log.Debug("No consent dialog")
	}

	lastCount, stale := 0, 0
	for {
		if out, stop := s.checkpoint(gen); stop {
			return out, nil
		}
		if stale >= h.MaxStale {
			return OutcomePlateau, nil
		}

		elements, err := s.browser.QueryCandidates(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: query candidates: %w", ErrLoop, err)
		}

		if len(elements) == lastCount {
			stale++
		} else {
			stale = 0
			lastCount = len(elements)
		}

		for _, el := range elements {
			if _, stop := s.checkpoint(gen); stop {
				break
			}
			s.processElement(ctx, el, locality, gen)
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if out, stop := s.checkpoint(gen); stop {
			return out, nil
		}

		if err := s.browser.TriggerMoreResults(ctx); err != nil {
			return 0, fmt.Errorf("%w: load more results: %w", ErrLoop, err)
		}

		s.sleep(ctx, jitter(h.ThrottleMin, h.ThrottleMax))
	}
}

// processElement extracts one entry and submits it. Failures stay local.
// Duplicates are counted against gen only while it is still current.
func (s *Scheduler) processElement(ctx context.Context, el Element, locality string, gen uint64) {
	ectx := ctx
	if !s.cfg.Harvest.FinishInFlight {
		var cancel context.CancelFunc
		ectx, cancel = withHalt(ctx, s.state.Halted())
		defer cancel()
	}

	x, err := s.browser.Extract(ectx, el)
	if err != nil {
		if ectx.Err() != nil && ctx.Err() == nil {
			// abandoned because the run halted
			return
		}
		s.stats.RecordError()
		s.log.WithError(fmt.Errorf("%w: %w", ErrExtraction, err)).Debug("Skipping entry")
		return
	}
	if x == nil || !s.filter.Usable(*x) {
		return
	}

	candidate := x.ToEstablishment(locality)
	if s.recorder.Contains(candidate.Key()) {
		if !s.state.RecordDuplicate(gen) {
			s.log.WithField("name", x.Name).Debug("Duplicate from a retired locality")
		}
		return
	}

	saved, err := s.recorder.Accept(ctx, candidate)
	if err != nil {
		s.log.WithError(err).Warn("Failed to save establishment")
		return
	}
	if saved {
		s.log.WithFields(logrus.Fields{
			"name":  x.Name,
			"saved": s.stats.Snapshot().NewlySaved,
		}).Debug("Establishment saved")
	}
}

// checkpoint reports whether the worker must leave the current locality.
// A skipped locality wins over saturation, which wins over a pause.
func (s *Scheduler) checkpoint(gen uint64) (Outcome, bool) {
	if s.state.Generation() != gen {
		return OutcomeRetired, true
	}
	if s.stats.Duplicates() >= int64(s.cfg.Harvest.MaxDuplicates) {
		return OutcomeSaturated, true
	}
	if !s.state.Running() {
		return OutcomeInterrupted, true
	}
	return 0, false
}
