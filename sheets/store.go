package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"maps-harvester/models"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Header is the first row of the establishments sheet
var Header = []interface{}{"name", "phone", "address", "city", "scrapedAt"}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Store keeps establishments as rows of one Google Sheets tab
type Store struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewStore creates a sheet-backed store authenticated with a service account
func NewStore(ctx context.Context, spreadsheetID, credentialsPath, sheetName string) (*Store, error) {
	credsJSON, err := loadCredentials(credentialsPath)
	if err != nil {
		return nil, err
	}
	return newStore(ctx, spreadsheetID, sheetName, option.WithCredentialsJSON(credsJSON))
}

func newStore(ctx context.Context, spreadsheetID, sheetName string, opts ...option.ClientOption) (*Store, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID is empty")
	}

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Store{
		service:       service,
		spreadsheetID: spreadsheetID,
		sheetName:     sanitizeSheetName(sheetName),
	}, nil
}

// loadCredentials reads service account credentials from a file or,
// without a path, from GOOGLE_SHEETS_CREDENTIALS
func loadCredentials(credentialsPath string) ([]byte, error) {
	var credsJSON []byte
	if credentialsPath != "" {
		data, err := os.ReadFile(credentialsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		credsJSON = data
	} else {
		credsEnv := strings.TrimSpace(os.Getenv("GOOGLE_SHEETS_CREDENTIALS"))
		if credsEnv == "" {
			return nil, fmt.Errorf("credentials not found: GOOGLE_SHEETS_CREDENTIALS environment variable is empty or not set")
		}
		credsJSON = []byte(credsEnv)
	}

	var creds map[string]interface{}
	if err := json.Unmarshal(credsJSON, &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON (check if JSON is properly formatted): %w", err)
	}
	if creds["type"] != "service_account" {
		return nil, fmt.Errorf("credentials must be a service account JSON file (type: service_account), got type: %v", creds["type"])
	}
	return credsJSON, nil
}

// columns is the A1 range covering every establishment column
func (s *Store) columns() string {
	return fmt.Sprintf("'%s'!A:E", strings.ReplaceAll(s.sheetName, "'", "''"))
}

// LoadAll reads every row below the header. An empty sheet gets the header row.
func (s *Store) LoadAll(ctx context.Context) ([]models.Establishment, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.columns()).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read existing data: %w", err)
	}

	if len(resp.Values) == 0 {
		header := &sheets.ValueRange{Values: [][]interface{}{Header}}
		_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.columns(), header).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		return nil, nil
	}

	var out []models.Establishment
	for i, row := range resp.Values {
		if i == 0 && cell(row, 0) == Header[0] {
			continue
		}
		e := models.Establishment{
			Name:     cell(row, 0),
			Phone:    cell(row, 1),
			Address:  cell(row, 2),
			Locality: cell(row, 3),
		}
		if t, err := time.Parse(time.RFC3339, cell(row, 4)); err == nil {
			e.CapturedAt = t
		}
		out = append(out, e)
	}
	return out, nil
}

// Append adds one row after the last non-empty one
func (s *Store) Append(ctx context.Context, e models.Establishment) error {
	var scrapedAt string
	if !e.CapturedAt.IsZero() {
		scrapedAt = e.CapturedAt.UTC().Format(timeFormat)
	}
	row := &sheets.ValueRange{
		Values: [][]interface{}{{e.Name, e.Phone, e.Address, e.Locality, scrapedAt}},
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.columns(), row).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append to sheets: %w", err)
	}
	return nil
}

// Close releases nothing; the service is a plain HTTP client
func (s *Store) Close() error {
	return nil
}

func cell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return fmt.Sprint(row[i])
}

// sanitizeSheetName removes invalid characters from sheet name
func sanitizeSheetName(name string) string {
	// Google Sheets sheet names cannot contain: / \ ? * [ ]
	invalidChars := []string{"/", "\\", "?", "*", "[", "]"}
	result := name
	for _, char := range invalidChars {
		result = strings.ReplaceAll(result, char, "_")
	}
	result = strings.TrimSpace(result)
	if result == "" {
		result = "Sheet1"
	}
	return result
}

// ExtractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL.
// A bare ID is returned unchanged.
func ExtractSpreadsheetID(url string) string {
	// https://docs.google.com/spreadsheets/d/SPREADSHEET_ID/edit?usp=sharing
	parts := strings.Split(url, "/d/")
	if len(parts) < 2 {
		if strings.Contains(url, "/") {
			return ""
		}
		return strings.TrimSpace(url)
	}

	idPart := parts[1]
	if idx := strings.Index(idPart, "/"); idx != -1 {
		idPart = idPart[:idx]
	}
	if idx := strings.Index(idPart, "?"); idx != -1 {
		idPart = idPart[:idx]
	}

	return strings.TrimSpace(idPart)
}
