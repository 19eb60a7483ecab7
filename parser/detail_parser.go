package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"maps-harvester/models"

	"github.com/PuerkitoBio/goquery"
)

// Selectors of the place detail pane
const (
	NameSelector = ".DUwDvf"
	InfoSelector = ".Io6YTe"
)

var (
	// French numbers: international prefix or a leading 0 and a non-zero digit
	phonePattern = regexp.MustCompile(`^\+33|^0[1-9]`)
	postalCode   = regexp.MustCompile(`\d{5}`)
)

// DetailParser extracts establishment fields from the detail pane of a place
type DetailParser struct{}

// NewDetailParser creates a new DetailParser instance
func NewDetailParser() *DetailParser {
	return &DetailParser{}
}

// ParseDetailPane extracts name, phone and address from the detail pane HTML.
// Missing fields are left empty. Name and address form the identity and are only
// trimmed; inner whitespace is kept as rendered.
func (dp *DetailParser) ParseDetailPane(htmlContent string) (*models.Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	x := &models.Extracted{
		Name: strings.TrimSpace(doc.Find(NameSelector).First().Text()),
	}

	doc.Find(InfoSelector).Each(func(i int, s *goquery.Selection) {
		line := strings.TrimSpace(s.Text())
		switch classifyInfoLine(line) {
		case linePhone:
			x.Phone = normalizeWhitespace(line)
		case lineAddress:
			x.Address = line
		}
	})

	return x, nil
}

type lineKind int

const (
	lineOther lineKind = iota
	linePhone
	lineAddress
)

// classifyInfoLine tells a phone line from an address line.
// A line matching both is a phone.
func classifyInfoLine(line string) lineKind {
	switch {
	case line == "":
		return lineOther
	case phonePattern.MatchString(line):
		return linePhone
	case strings.Contains(line, "France") || postalCode.MatchString(line):
		return lineAddress
	}
	return lineOther
}

// normalizeWhitespace replaces unicode whitespace (the pane uses narrow no-break
// spaces in phone numbers) with regular spaces and collapses runs
func normalizeWhitespace(text string) string {
	normalized := strings.Builder{}
	for _, r := range text {
		if unicode.IsSpace(r) {
			normalized.WriteRune(' ')
		} else {
			normalized.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(normalized.String()), " ")
}
