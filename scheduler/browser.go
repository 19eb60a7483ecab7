package scheduler

import (
	"context"
	"time"

	"maps-harvester/models"
)

// Element is an opaque handle to one rendered result entry.
// Only the Browser that returned it knows its concrete type.
type Element any

// Browser drives the map search page for the harvest worker
type Browser interface {
	// Navigate loads url and waits at most timeout for it to settle
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// DismissConsent closes the consent dialog if it shows up within timeout
	DismissConsent(ctx context.Context, timeout time.Duration) (bool, error)
	// QueryCandidates returns the currently rendered result entries, in page order
	QueryCandidates(ctx context.Context) ([]Element, error)
	// Extract opens one entry, reads its details and returns to the list.
	// A nil result means nothing could be read.
	Extract(ctx context.Context, el Element) (*models.Extracted, error)
	// TriggerMoreResults asks the page to render further entries
	TriggerMoreResults(ctx context.Context) error
	// Reinitialize discards the session and starts a fresh one
	Reinitialize(ctx context.Context) error
	Close() error
}

// Recorder accepts candidates for storage
type Recorder interface {
	Accept(ctx context.Context, candidate models.Establishment) (bool, error)
	Contains(id models.Identity) bool
}
