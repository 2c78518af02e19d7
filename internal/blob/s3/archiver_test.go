package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/autobot/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type fixedTrades []domain.TradeRecord

func (f fixedTrades) ListBefore(_ context.Context, before time.Time) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, t := range f {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

// memAudit round-trips details through JSON like the real stores do.
type memAudit struct{ entries []domain.AuditEntry }

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	e := domain.AuditEntry{ID: int64(len(m.entries) + 1), Event: event}
	if err := json.Unmarshal(raw, &e.Detail); err != nil {
		return err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) List(_ context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if f.Event == "" || m.entries[i].Event == f.Event {
			out = append(out, m.entries[i])
		}
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func TestArchiveTrades(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	trades := fixedTrades{
		{ID: 1, Timestamp: base, Strategy: "rsi", Instrument: "KRW-BTC", Side: domain.SideBuy,
			Quantity: decimal.RequireFromString("0.001"), Price: decimal.NewFromInt(90000000)},
		{ID: 2, Timestamp: base.Add(24 * time.Hour), Strategy: "rsi", Instrument: "KRW-BTC", Side: domain.SideSell,
			Quantity: decimal.RequireFromString("0.001"), Price: decimal.NewFromInt(91000000)},
		{ID: 3, Timestamp: base.Add(40 * 24 * time.Hour), Strategy: "rsi", Instrument: "KRW-BTC", Side: domain.SideBuy,
			Quantity: decimal.RequireFromString("0.001"), Price: decimal.NewFromInt(92000000)},
	}
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, trades, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return time.Unix(1770000000, 0) }

	cutoff := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveTrades(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveTrades: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d trades, want 2", n)
	}

	body, ok := blobs.objects["archive/trades/2026-01.jsonl"]
	if !ok {
		t.Fatalf("archive not written; have %v", blobs.objects)
	}
	if blobs.types["archive/trades/2026-01.jsonl"] != "application/x-ndjson" {
		t.Errorf("content type = %q", blobs.types["archive/trades/2026-01.jsonl"])
	}
	var lines []archivedTrade
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var row archivedTrade
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		lines = append(lines, row)
	}
	if len(lines) != 2 || lines[0].ID != 1 || lines[1].Side != "sell" {
		t.Fatalf("lines = %+v", lines)
	}
	if !lines[1].Price.Equal(decimal.NewFromInt(91000000)) {
		t.Errorf("price = %s", lines[1].Price)
	}
	if len(audit.entries) != 1 || audit.entries[0].Event != domain.AuditArchiveTrades {
		t.Errorf("audit entries = %+v", audit.entries)
	}

	// Repeating the cutoff finds nothing new.
	n, err = a.ArchiveTrades(context.Background(), cutoff)
	if err != nil || n != 0 {
		t.Fatalf("repeat ArchiveTrades = %d, %v; want 0", n, err)
	}
	if len(blobs.objects) != 1 {
		t.Fatalf("repeat run uploaded; have %d objects", len(blobs.objects))
	}

	// A later cutoff picks up only the trades after the previous one.
	later := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n, err = a.ArchiveTrades(context.Background(), later)
	if err != nil || n != 1 {
		t.Fatalf("later ArchiveTrades = %d, %v; want 1", n, err)
	}
	if body := string(blobs.objects["archive/trades/2026-03.jsonl"]); !strings.Contains(body, `"id":3`) || strings.Contains(body, `"id":1,`) {
		t.Fatalf("incremental archive = %q", body)
	}

	run, ok, err := a.LastRun(context.Background())
	if err != nil || !ok {
		t.Fatalf("LastRun = %v, %v", ok, err)
	}
	if run.Count != 1 || !run.After.Equal(cutoff) || !run.Before.Equal(later) || run.Path != "archive/trades/2026-03.jsonl" {
		t.Fatalf("LastRun = %+v", run)
	}
}

func TestArchiveTradesWithoutAuditKeepsExistingFile(t *testing.T) {
	trades := fixedTrades{{ID: 1, Timestamp: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), Strategy: "rsi",
		Instrument: "KRW-BTC", Side: domain.SideBuy, Quantity: decimal.RequireFromString("0.001"), Price: decimal.NewFromInt(1)}}
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, trades, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return time.Unix(1770000000, 0) }

	cutoff := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	for range 2 {
		if _, err := a.ArchiveTrades(context.Background(), cutoff); err != nil {
			t.Fatalf("ArchiveTrades: %v", err)
		}
	}
	if _, ok := blobs.objects["archive/trades/2026-01-1770000000.jsonl"]; !ok {
		t.Errorf("second archive missing; have %d objects", len(blobs.objects))
	}
	if _, ok, _ := a.LastRun(context.Background()); ok {
		t.Error("LastRun without an audit log reported a run")
	}
}

func TestArchiveTradesNothingToDo(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, nil, fixedTrades{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := a.ArchiveTrades(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("ArchiveTrades = %d, %v", n, err)
	}
	if len(blobs.objects) != 0 {
		t.Fatalf("unexpected upload")
	}
}

func TestObjectKeyPrefix(t *testing.T) {
	c := &Client{prefix: "autobot/prod"}
	if got := c.objectKey("/archive/trades/2026-01.jsonl"); got != "autobot/prod/archive/trades/2026-01.jsonl" {
		t.Errorf("objectKey = %q", got)
	}
	if got := c.logicalPath("autobot/prod/reports/x.json"); got != "reports/x.json" {
		t.Errorf("logicalPath = %q", got)
	}
	if got := (&Client{}).objectKey("a/b"); got != "a/b" {
		t.Errorf("objectKey without prefix = %q", got)
	}
	if got := normaliseEndpoint("minio:9000", false); got != "http://minio:9000" {
		t.Errorf("normaliseEndpoint = %q", got)
	}
}
