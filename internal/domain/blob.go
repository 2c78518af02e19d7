package domain

import (
	"context"
	"io"
	"time"
)

// Bucket layout. Archived ledger rows live under ArchivePrefix, backtest
// bars and reports under BacktestPrefix; nothing else is readable over the
// API.
const (
	ArchivePrefix  = "archive/"
	BacktestPrefix = "backtest/"
)

// Content types of stored objects.
const (
	ContentTypeJSON  = "application/json"
	ContentTypeJSONL = "application/x-ndjson"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchiveRun is one completed copy of ledger trades to object storage,
// covering trades in [After, Before).
type ArchiveRun struct {
	Path   string    `json:"path"`
	Count  int64     `json:"count"`
	After  time.Time `json:"after,omitzero"`
	Before time.Time `json:"before"`
	At     time.Time `json:"at"`
}

// TradeArchiver copies trade rows to cold storage without deleting them.
type TradeArchiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	LastRun(ctx context.Context) (ArchiveRun, bool, error)
}
