package backtest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// barLine is one JSONL row of a stored bar file.
type barLine struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// ReadBars decodes JSONL bars from r. Rows are sorted by time and blank
// lines are skipped.
func ReadBars(r io.Reader, instrument domain.InstrumentID, interval domain.Interval) (domain.PriceWindow, error) {
	w := domain.PriceWindow{Instrument: instrument, Interval: interval}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var b barLine
		if err := json.Unmarshal(raw, &b); err != nil {
			return domain.PriceWindow{}, fmt.Errorf("backtest: bars line %d: %w", line, err)
		}
		if b.Close <= 0 {
			return domain.PriceWindow{}, fmt.Errorf("backtest: bars line %d: close %v is not positive", line, b.Close)
		}
		w.Bars = append(w.Bars, domain.Bar(b))
	}
	if err := sc.Err(); err != nil {
		return domain.PriceWindow{}, fmt.Errorf("backtest: read bars: %w", err)
	}
	sort.SliceStable(w.Bars, func(i, j int) bool { return w.Bars[i].Time.Before(w.Bars[j].Time) })
	return w, nil
}

// LoadBars reads a JSONL bar file from object storage.
func LoadBars(ctx context.Context, r domain.BlobReader, objectPath string, instrument domain.InstrumentID, interval domain.Interval) (domain.PriceWindow, error) {
	rc, err := r.Get(ctx, objectPath)
	if err != nil {
		return domain.PriceWindow{}, fmt.Errorf("backtest: get %s: %w", objectPath, err)
	}
	defer rc.Close()
	return ReadBars(rc, instrument, interval)
}

// SaveBars stores w as JSONL so later runs can replay the same history.
func SaveBars(ctx context.Context, wr domain.BlobWriter, objectPath string, w domain.PriceWindow) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, b := range w.Bars {
		if err := enc.Encode(barLine(b)); err != nil {
			return fmt.Errorf("backtest: encode bar: %w", err)
		}
	}
	if err := wr.Put(ctx, objectPath, &buf, domain.ContentTypeJSONL); err != nil {
		return fmt.Errorf("backtest: put %s: %w", objectPath, err)
	}
	return nil
}
