package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

const (
	DriverNone   = "none"
	DriverFile   = "file"   // jsonl journals and a dedup snapshot
	DriverSQLite = "sqlite" // needs -tags sqlite
)

// NormalizeDriver maps a configured driver name to one of the Driver
// constants. Empty means DriverNone; "sqlite3" is accepted for DriverSQLite.
func NormalizeDriver(name string) (string, error) {
	switch d := strings.ToLower(strings.TrimSpace(name)); d {
	case "", DriverNone:
		return DriverNone, nil
	case DriverFile:
		return DriverFile, nil
	case DriverSQLite, "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
}

// Config configures storage. Driver DriverNone disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ImportRecord is one finished import as persisted in the history.
// Keep it compact and schema-stable.
type ImportRecord struct {
	At        time.Time `json:"at"`
	Endpoint  string    `json:"endpoint"`
	ImportID  string    `json:"import_id"`
	File      string    `json:"file"`
	MimeType  string    `json:"mime_type,omitempty"`
	Processor string    `json:"processor,omitempty"`
	Progress  int       `json:"progress"`
	Warnings  int       `json:"warnings"`
	Errors    int       `json:"errors"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}

// EventRecord is a persisted runtime event: forwarded log records, import
// errors and files nobody could import.
type EventRecord struct {
	At       time.Time `json:"at"`
	Type     string    `json:"type"`
	Level    string    `json:"level,omitempty"`
	Endpoint string    `json:"endpoint,omitempty"`
	Message  string    `json:"message"`
	MetaJSON string    `json:"meta,omitempty"`
}
