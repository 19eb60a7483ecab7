package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"maps-harvester/models"

	"github.com/gocarina/gocsv"
)

// TimeFormat is how capture times are written to CSV
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// csvRow is one line of the establishments file
type csvRow struct {
	Name      string `csv:"name"`
	Phone     string `csv:"phone"`
	Address   string `csv:"address"`
	City      string `csv:"city"`
	ScrapedAt string `csv:"scrapedAt"`
}

func toRow(e models.Establishment) csvRow {
	row := csvRow{
		Name:    e.Name,
		Phone:   e.Phone,
		Address: e.Address,
		City:    e.Locality,
	}
	if !e.CapturedAt.IsZero() {
		row.ScrapedAt = e.CapturedAt.UTC().Format(TimeFormat)
	}
	return row
}

func (r csvRow) toEstablishment() models.Establishment {
	e := models.Establishment{
		Name:     r.Name,
		Phone:    r.Phone,
		Address:  r.Address,
		Locality: r.City,
	}
	// unparseable timestamps are kept as zero; the row still counts for dedup
	if t, err := time.Parse(time.RFC3339, r.ScrapedAt); err == nil {
		e.CapturedAt = t
	}
	return e
}

// CSVStore is an append-only CSV file of establishments
type CSVStore struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// OpenCSV opens path for appending, creating it with a header row if missing
func OpenCSV(path string) (*CSVStore, error) {
	info, err := os.Stat(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	needsHeader := err != nil || info.Size() == 0

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	if needsHeader {
		if err := gocsv.Marshal(&[]csvRow{}, file); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to sync %s: %w", path, err)
		}
	}

	return &CSVStore{path: path, file: file}, nil
}

// LoadAll reads every row of the file
func (s *CSVStore) LoadAll(ctx context.Context) ([]models.Establishment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	var rows []csvRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	out := make([]models.Establishment, 0, len(rows))
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, r.toEstablishment())
	}
	return out, nil
}

// Append writes one row and flushes it to disk before returning
func (s *CSVStore) Append(ctx context.Context, e models.Establishment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("%s is closed", s.path)
	}
	if err := gocsv.MarshalWithoutHeaders([]csvRow{toRow(e)}, s.file); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	return s.file.Sync()
}

// Close closes the file
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
