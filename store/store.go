package store

import (
	"context"
	"fmt"

	"maps-harvester/config"
	"maps-harvester/db"
	"maps-harvester/models"
	"maps-harvester/sheets"
)

// Store is the durable record of captured establishments.
// Rows are only ever appended; LoadAll is called once at startup.
type Store interface {
	LoadAll(ctx context.Context) ([]models.Establishment, error)
	Append(ctx context.Context, e models.Establishment) error
	Close() error
}

// Open creates the store selected by cfg.Backend
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case config.BackendCSV, "":
		s, err = OpenCSV(cfg.CSVPath)
	case config.BackendPostgres:
		s, err = db.Open(ctx, db.Postgres, cfg.DatabaseURL)
	case config.BackendSQLite:
		s, err = db.Open(ctx, db.SQLite, cfg.SQLitePath)
	case config.BackendSheets:
		s, err = sheets.NewStore(ctx, sheets.ExtractSpreadsheetID(cfg.SpreadsheetURL), cfg.CredentialsPath, cfg.SheetName)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}
	return s, nil
}
