package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// TradeSource is the part of the ledger the archiver reads.
type TradeSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
}

// archivedTrade is the JSONL row layout.
type archivedTrade struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"ts"`
	Strategy   string          `json:"strategy"`
	Instrument string          `json:"instrument"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
}

// Archiver copies ledger rows older than a cutoff to
// archive/trades/YYYY-MM.jsonl. Rows are never deleted from the ledger,
// because cooldown and position restore read them. Each run is recorded in
// the audit log, and the next run starts where the last one stopped.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades TradeSource
	audit  domain.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.TradeArchiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. reader and audit may be nil; without an
// audit log every run uploads the full history before the cutoff.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, trades TradeSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		trades: trades,
		audit:  audit,
		now:    time.Now,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// LastRun returns the most recent recorded archive run.
func (a *Archiver) LastRun(ctx context.Context) (domain.ArchiveRun, bool, error) {
	if a.audit == nil {
		return domain.ArchiveRun{}, false, nil
	}
	entries, err := a.audit.List(ctx, domain.AuditFilter{
		Event:    domain.AuditArchiveTrades,
		ListOpts: domain.ListOpts{Limit: 1},
	})
	if err != nil {
		return domain.ArchiveRun{}, false, fmt.Errorf("s3blob: last archive run: %w", err)
	}
	if len(entries) == 0 {
		return domain.ArchiveRun{}, false, nil
	}
	run, err := decodeRun(entries[0])
	if err != nil {
		return domain.ArchiveRun{}, false, fmt.Errorf("s3blob: last archive run %d: %w", entries[0].ID, err)
	}
	return run, true, nil
}

// ArchiveTrades uploads trades before the cutoff that the previous run did
// not cover and returns how many were written. When the month's file
// already exists a timestamped sibling is written instead of overwriting it.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	before = before.UTC()
	var after time.Time
	if last, ok, err := a.LastRun(ctx); err != nil {
		return 0, err
	} else if ok {
		if !before.After(last.Before) {
			return 0, nil
		}
		after = last.Before
	}

	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	rows := make([]archivedTrade, 0, len(trades))
	for _, t := range trades {
		if t.Timestamp.Before(after) {
			continue
		}
		rows = append(rows, archivedTrade{
			ID:         t.ID,
			Timestamp:  t.Timestamp.UTC(),
			Strategy:   string(t.Strategy),
			Instrument: string(t.Instrument),
			Side:       string(t.Side),
			Quantity:   t.Quantity,
			Price:      t.Price,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive trades exists: %w", err)
		}
		if exists {
			path = fmt.Sprintf("%strades/%s-%d.jsonl", domain.ArchivePrefix, before.Format("2006-01"), a.now().Unix())
		}
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), domain.ContentTypeJSONL); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	run := domain.ArchiveRun{Path: path, Count: int64(len(rows)), After: after, Before: before, At: a.now().UTC()}
	a.logger.InfoContext(ctx, "trades archived",
		slog.String("path", path),
		slog.Int64("count", run.Count),
		slog.Time("after", after),
		slog.Time("before", before),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, domain.AuditArchiveTrades, encodeRun(run)); err != nil {
			return run.Count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
		}
	}
	return run.Count, nil
}

func encodeRun(r domain.ArchiveRun) map[string]any {
	detail := map[string]any{
		"path":   r.Path,
		"count":  r.Count,
		"before": r.Before.Format(time.RFC3339Nano),
	}
	if !r.After.IsZero() {
		detail["after"] = r.After.Format(time.RFC3339Nano)
	}
	return detail
}

// decodeRun reads an audit entry written by encodeRun. Counts come back as
// float64 after a JSON round trip.
func decodeRun(e domain.AuditEntry) (domain.ArchiveRun, error) {
	run := domain.ArchiveRun{At: e.CreatedAt}
	run.Path, _ = e.Detail["path"].(string)
	switch n := e.Detail["count"].(type) {
	case float64:
		run.Count = int64(n)
	case int64:
		run.Count = n
	}
	raw, _ := e.Detail["before"].(string)
	before, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return run, fmt.Errorf("before %q: %w", raw, err)
	}
	run.Before = before
	if raw, ok := e.Detail["after"].(string); ok {
		if run.After, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return run, fmt.Errorf("after %q: %w", raw, err)
		}
	}
	return run, nil
}

// Run archives everything older than retention, measured from now.
func (a *Archiver) Run(ctx context.Context, retention time.Duration) (int64, error) {
	return a.ArchiveTrades(ctx, a.now().UTC().Add(-retention))
}

// archivePath builds archive/<kind>/YYYY-MM.jsonl from the cutoff month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("%s%s/%s.jsonl", domain.ArchivePrefix, kind, before.UTC().Format("2006-01"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
