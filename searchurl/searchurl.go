package searchurl

import (
	"fmt"
	"net/url"
	"strings"
)

// Placeholder marks where the encoded locality goes in a search URL template
const Placeholder = "{locality}"

// Build returns the search URL for a locality.
// The locality is percent-encoded the way a URI component is (spaces become %20).
// Without a placeholder the encoded locality is appended to the template.
func Build(template, locality string) string {
	encoded := EncodeComponent(locality)
	if strings.Contains(template, Placeholder) {
		return strings.ReplaceAll(template, Placeholder, encoded)
	}
	return template + encoded
}

// EncodeComponent percent-encodes s for use inside a path or query component
func EncodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Validate checks that the template produces an absolute URL
func Validate(template string) error {
	parsedURL, err := url.Parse(Build(template, "x"))
	if err != nil {
		return fmt.Errorf("failed to parse search URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("search URL must be absolute: %s", template)
	}
	return nil
}
