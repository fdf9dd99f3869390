package storage

import (
	"context"
	"time"

	logx "github.com/etecture/generic-import-connector/pkg/logx"
)

// Store is the persistence API used by the connector and the app.
type Store interface {
	AppendImport(ctx context.Context, r ImportRecord) error
	// RecentImports returns up to limit records, newest first. An empty
	// endpoint matches every endpoint.
	RecentImports(ctx context.Context, endpoint string, limit int) ([]ImportRecord, error)
	AppendEvent(ctx context.Context, e EventRecord) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open opens the configured store, or returns (nil, nil) for DriverNone.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver, err := NormalizeDriver(cfg.Driver)
	if err != nil || driver == DriverNone {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if driver == DriverFile {
		return openFile(cfg, log)
	}
	return openSQLite(cfg, log)
}
