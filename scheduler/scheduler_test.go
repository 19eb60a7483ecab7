package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"maps-harvester/config"
	"maps-harvester/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_PlateauAdvancesAndEndsRun(t *testing.T) {
	// 5 unique entries, then the same 5 three more times
	b := &fakeBrowser{batches: steady(5)}
	h := newHarness([]string{"Lyon"}, b, nil, nil)

	require.NoError(t, h.sched.Run(context.Background()))

	snap := h.stats.Snapshot()
	assert.Equal(t, int64(5), snap.NewlySaved)
	assert.Equal(t, int64(5), snap.TotalKnown)
	assert.Equal(t, 4, b.queries, "three unchanged counts after the first observation")
	assert.Empty(t, h.state.Remaining())
	assert.False(t, h.state.Running())
	assert.Equal(t, int64(0), snap.DuplicatesThisLocality, "reset by the advancement")
	assert.Len(t, h.store.byLocality("Lyon"), 5)
}

func TestRun_PlateauDespiteEndlessDuplicates(t *testing.T) {
	// count grows once, then stays put while every entry is already known
	b := &fakeBrowser{batches: func(locality string, n int) []models.Extracted {
		if n == 0 {
			return records(locality, 3)
		}
		return records(locality, 8)
	}}
	h := newHarness([]string{"Lyon"}, b, nil, nil)

	require.NoError(t, h.sched.Run(context.Background()))

	assert.Equal(t, 5, b.queries)
	assert.Equal(t, int64(8), h.stats.Snapshot().NewlySaved)
	assert.Empty(t, h.state.Remaining())
}

func TestRun_EmptyResultListConverges(t *testing.T) {
	b := &fakeBrowser{batches: steady(0)}
	h := newHarness([]string{"Lyon", "Paris"}, b, nil, nil)

	require.NoError(t, h.sched.Run(context.Background()))

	assert.Equal(t, 2, b.navCount())
	assert.Equal(t, int64(0), h.stats.Snapshot().NewlySaved)
	assert.Empty(t, h.state.Remaining())
}

func TestRun_DuplicateSaturationAdvancesAndResetsCounter(t *testing.T) {
	known := records("Lyon", 5)
	var preload []models.Establishment
	for _, x := range known {
		preload = append(preload, x.ToEstablishment("Lyon"))
	}

	b := &fakeBrowser{batches: func(locality string, n int) []models.Extracted {
		if locality == "Lyon" {
			return records("Lyon", 5)
		}
		return records(locality, 2)
	}}
	h := newHarness([]string{"Lyon", "Paris"}, b, preload, func(c *config.Config) {
		c.Harvest.MaxDuplicates = 3
	})

	require.NoError(t, h.sched.Run(context.Background()))

	snap := h.stats.Snapshot()
	assert.Equal(t, int64(0), b.navDupSeen["Paris"], "counter reset before the next locality")
	assert.Equal(t, int64(2), snap.NewlySaved)
	assert.Len(t, h.store.byLocality("Paris"), 2)
	assert.Empty(t, h.store.byLocality("Lyon"))
	assert.Equal(t, snap.Preloaded+snap.NewlySaved, snap.TotalKnown)
	// Lyon stops after three duplicates; Paris saturates on its third observation
	assert.Equal(t, 3+5, b.extracts)
}

func TestRun_DuplicateOfPreloadedIdentity(t *testing.T) {
	preload := []models.Establishment{{Name: "Acme", Address: "1 Rue X", Locality: "Lyon"}}
	b := &fakeBrowser{
		batches: func(string, int) []models.Extracted {
			return []models.Extracted{{Name: "Acme", Address: "1 Rue X"}}
		},
	}
	h := newHarness([]string{"Lyon"}, b, preload, nil)

	// the counter as seen by the second extraction reflects the first submission
	var calls int
	var dupsAfterFirst int64
	b.onExtract = func(string, models.Extracted) {
		calls++
		if calls == 2 {
			dupsAfterFirst = h.stats.Duplicates()
		}
	}

	require.NoError(t, h.sched.Run(context.Background()))

	assert.Equal(t, int64(1), dupsAfterFirst)
	assert.Equal(t, int64(0), h.stats.Snapshot().NewlySaved)
	assert.Equal(t, int64(1), h.stats.Snapshot().TotalKnown)
	assert.Zero(t, h.store.count())
}

func TestRun_RetriesNavigationThenSucceeds(t *testing.T) {
	b := &fakeBrowser{
		batches: steady(5),
		navFail: func(_ string, n int) error {
			if n <= 2 {
				return errTimeout
			}
			return nil
		},
	}
	h := newHarness([]string{"Lyon"}, b, nil, nil)

	require.NoError(t, h.sched.Run(context.Background()))

	snap := h.stats.Snapshot()
	assert.Equal(t, int64(2), snap.Retries)
	assert.Equal(t, int64(2), snap.Errors)
	assert.Equal(t, 2, b.reinits)
	assert.Equal(t, int64(5), snap.NewlySaved)
	assert.Empty(t, h.state.Remaining())
}

func TestRun_RetriesExhaustedSkipsLocality(t *testing.T) {
	b := &fakeBrowser{
		batches: steady(2),
		navFail: func(locality string, _ int) error {
			if locality == "Lyon" {
				return errTimeout
			}
			return nil
		},
	}
	h := newHarness([]string{"Lyon", "Paris"}, b, nil, nil)

	require.NoError(t, h.sched.Run(context.Background()))

	snap := h.stats.Snapshot()
	assert.GreaterOrEqual(t, snap.Errors, int64(3))
	assert.Equal(t, int64(2), snap.Retries)
	assert.Empty(t, h.store.byLocality("Lyon"))
	assert.Len(t, h.store.byLocality("Paris"), 2)
	assert.Empty(t, h.state.Remaining())
	assert.Equal(t, 4, b.navCount(), "three attempts on Lyon, one on Paris")
}

func TestRun_LoopFailureIsRetried(t *testing.T) {
	b := &fakeBrowser{batches: steady(1), queryErr: errors.New("target closed")}
	h := newHarness([]string{"Lyon"}, b, nil, nil)

	require.NoError(t, h.sched.Run(context.Background()))

	snap := h.stats.Snapshot()
	assert.Equal(t, int64(3), snap.Errors)
	assert.Equal(t, int64(2), snap.Retries)
	assert.Empty(t, h.state.Remaining())
}

func TestRun_ExtractionFailureIsAbsorbed(t *testing.T) {
	b := &fakeBrowser{
		batches:    steady(3),
		extractErr: map[string]error{"Lyon shop 2": errors.New("node detached")},
	}
	h := newHarness([]string{"Lyon"}, b, nil, nil)

	require.NoError(t, h.sched.Run(context.Background()))

	snap := h.stats.Snapshot()
	assert.Equal(t, int64(2), snap.NewlySaved)
	assert.Equal(t, int64(4), snap.Errors, "one failure per observation")
	assert.Equal(t, int64(0), snap.Retries)
	assert.Equal(t, 1, b.navCount())
}

func TestRun_IncompleteEntriesAreIgnored(t *testing.T) {
	b := &fakeBrowser{batches: func(string, int) []models.Extracted {
		return []models.Extracted{{Name: "No address"}, {Address: "No name"}, {Name: "Ok", Address: "1 Rue"}}
	}}
	h := newHarness([]string{"Lyon"}, b, nil, nil)

	require.NoError(t, h.sched.Run(context.Background()))

	assert.Equal(t, 1, h.store.count())
	assert.Equal(t, int64(0), h.stats.Snapshot().Errors)
}

func TestRun_PersistenceFailureContinues(t *testing.T) {
	b := &fakeBrowser{batches: steady(3)}
	h := newHarness([]string{"Lyon"}, b, nil, nil)
	h.store.fail = map[string]error{"Lyon shop 1": errors.New("disk full")}

	require.NoError(t, h.sched.Run(context.Background()))

	snap := h.stats.Snapshot()
	assert.Equal(t, int64(2), snap.NewlySaved)
	// the unsaved record is retried on every observation and fails each time
	assert.Equal(t, int64(4), snap.Errors)
	assert.Equal(t, int64(0), snap.Retries)
}

func TestRun_EncodesLocalityInURL(t *testing.T) {
	b := &fakeBrowser{batches: steady(0)}
	h := newHarness([]string{"Saint Étienne"}, b, nil, nil)

	require.NoError(t, h.sched.Run(context.Background()))

	require.Len(t, b.navs, 1)
	assert.Equal(t, "https://maps.test/search/Saint%20%C3%89tienne", b.navs[0])
}

func TestRun_ThrottleDelaysWithinBounds(t *testing.T) {
	b := &fakeBrowser{batches: steady(1)}
	h := newHarness([]string{"Lyon"}, b, nil, nil)

	require.NoError(t, h.sched.Run(context.Background()))

	require.NotEmpty(t, h.clock.sleeps)
	for _, d := range h.clock.sleeps {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestRun_LocalityDelayBetweenLocalities(t *testing.T) {
	b := &fakeBrowser{batches: steady(0)}
	h := newHarness([]string{"Lyon", "Paris"}, b, nil, nil)

	require.NoError(t, h.sched.Run(context.Background()))

	var long int
	for _, d := range h.clock.sleeps {
		if d >= 5*time.Second {
			assert.LessOrEqual(t, d, 10*time.Second)
			long++
		}
	}
	assert.Equal(t, 1, long, "one pause between two localities")
}

func TestRun_SkipDuringHarvest(t *testing.T) {
	b := &fakeBrowser{batches: steady(3)}
	h := newHarness([]string{"Lyon", "Paris"}, b, nil, nil)
	var once sync.Once
	b.onExtract = func(locality string, _ models.Extracted) {
		if locality == "Lyon" {
			once.Do(func() { h.cmd(CmdSkip) })
		}
	}

	require.NoError(t, h.sched.Run(context.Background()))

	// the in-flight entry is finished, the rest of Lyon is abandoned
	assert.Len(t, h.store.byLocality("Lyon"), 1)
	assert.Len(t, h.store.byLocality("Paris"), 3)
	assert.Empty(t, h.state.Remaining())
	assert.Equal(t, uint64(2), h.state.Generation(), "Lyon retired once, Paris once")
}

func TestRun_SkipDropsDuplicateOfRetiredLocality(t *testing.T) {
	var preload []models.Establishment
	for _, x := range records("Lyon", 3) {
		preload = append(preload, x.ToEstablishment("Lyon"))
	}
	b := &fakeBrowser{batches: steady(3)}
	h := newHarness([]string{"Lyon", "Paris"}, b, preload, nil)
	var once sync.Once
	b.onExtract = func(locality string, _ models.Extracted) {
		if locality == "Lyon" {
			once.Do(func() { h.cmd(CmdSkip) })
		}
	}

	require.NoError(t, h.sched.Run(context.Background()))

	// the in-flight Lyon entry was already known; its duplicate belongs to Lyon
	assert.Equal(t, int64(0), b.navDupSeen["Paris"])
	assert.Equal(t, int64(0), h.stats.Duplicates())
	assert.Len(t, h.store.byLocality("Paris"), 3)
	assert.Empty(t, h.store.byLocality("Lyon"))
}

func TestRun_QuitFinishesInFlightEntry(t *testing.T) {
	b := &fakeBrowser{batches: steady(3)}
	h := newHarness([]string{"Lyon", "Paris"}, b, nil, nil)
	b.onExtract = func(string, models.Extracted) { h.cmd(CmdQuit) }

	require.NoError(t, h.sched.Run(context.Background()))

	assert.Equal(t, 1, h.store.count())
	assert.Equal(t, 1, b.extracts)
	assert.Equal(t, []string{"Lyon", "Paris"}, h.state.Remaining(), "quit retires nothing")
	assert.True(t, h.state.Quitting())
}

func TestRun_PauseKeepsLocalityAndResumes(t *testing.T) {
	b := &fakeBrowser{batches: steady(3)}
	h := newHarness([]string{"Lyon"}, b, nil, nil)
	var once sync.Once
	b.onExtract = func(string, models.Extracted) {
		once.Do(func() { h.cmd(CmdPause) })
	}

	done := make(chan error, 1)
	go func() { done <- h.sched.Run(context.Background()) }()

	require.Eventually(t, func() bool { return !h.state.Running() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Lyon"}, h.state.Remaining(), "pause does not retire the locality")

	assert.Equal(t, "Resumed", h.cmd(CmdResume))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after resume")
	}
	assert.Equal(t, 3, h.store.count())
	assert.Empty(t, h.state.Remaining())
}

func TestRun_AbandonInFlightWhenConfigured(t *testing.T) {
	b := &fakeBrowser{batches: steady(3), blockOnHalt: true}
	h := newHarness([]string{"Lyon"}, b, nil, func(c *config.Config) {
		c.Harvest.FinishInFlight = false
	})
	var once sync.Once
	b.onExtract = func(string, models.Extracted) {
		once.Do(func() { h.cmd(CmdPause) })
	}

	done := make(chan error, 1)
	go func() { done <- h.sched.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.extracts == 1 && b.scrolls == 0
	}, 2*time.Second, 5*time.Millisecond)

	h.cmd(CmdQuit)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	assert.Zero(t, h.store.count(), "the interrupted entry is not saved")
	assert.Equal(t, int64(0), h.stats.Snapshot().Errors)
}

func TestRun_ContextCancelStops(t *testing.T) {
	b := &fakeBrowser{batches: steady(1)}
	h := newHarness([]string{"Lyon"}, b, nil, nil)
	h.state.SetRunning(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run ignored cancellation")
	}
	assert.Zero(t, b.navCount())
}
