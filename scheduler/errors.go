package scheduler

import "errors"

var (
	// ErrNavigation means the locality's search view could not be loaded
	ErrNavigation = errors.New("navigation failed")
	// ErrLoop means the result list could not be queried or scrolled
	ErrLoop = errors.New("result loop failed")
	// ErrExtraction means one result entry could not be read; it never escalates
	ErrExtraction = errors.New("extraction failed")
	// ErrSession means the browser session could not be recreated
	ErrSession = errors.New("browser session reinitialization failed")
)
