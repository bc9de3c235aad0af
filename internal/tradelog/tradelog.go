// Package tradelog keeps an append-only JSONL journal of fills and
// allocator decisions, one file per UTC day, with gzip retention. All
// writes are best-effort; the ledger stays authoritative.
package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"crypto-trading-bot/internal/types"
)

var mu sync.Mutex

// Entry is one journalled fill.
type Entry struct {
	Time    string         `json:"time"`
	Symbol  string         `json:"symbol"`
	Side    string         `json:"side"`
	OrderID string         `json:"order_id"`
	Qty     float64        `json:"qty"`
	Price   float64        `json:"price"`
	Fee     float64        `json:"fee"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// DecisionEntry is one journalled allocator decision.
type DecisionEntry struct {
	Time   string  `json:"time"`
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price"`
	Reason string  `json:"reason"`
	Score  float64 `json:"score,omitempty"`
}

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func dailyFilepath(t time.Time) string {
	d := t.UTC().Format("2006-01-02")
	return filepath.Join(logDir(), d+".jsonl")
}

func decisionsFilepath(t time.Time) string {
	d := t.UTC().Format("2006-01-02")
	return filepath.Join(logDir(), "decisions", d+".jsonl")
}

func appendLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, _ := json.Marshal(v)
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// Append journals one fill.
func Append(e Entry) error {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().UTC()
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendLine(dailyFilepath(now), e)
}

// AppendDecision journals one allocator decision.
func AppendDecision(e DecisionEntry) error {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().UTC()
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendLine(decisionsFilepath(now), e)
}

// Writer adapts the journal to the executor's Journal interface.
type Writer struct{}

// RecordTrade journals a confirmed fill. Errors are swallowed; the journal
// is best-effort.
func (Writer) RecordTrade(t types.Trade) {
	_ = Append(Entry{
		Symbol:  t.Symbol,
		Side:    t.Side,
		OrderID: t.OrderID,
		Qty:     t.Qty,
		Price:   t.Price,
		Fee:     t.Fee,
	})
}

// RecordDecision journals an allocator decision.
func (Writer) RecordDecision(d types.Decision) {
	_ = AppendDecision(DecisionEntry{
		Symbol: d.Symbol,
		Side:   d.Side,
		Qty:    d.Qty,
		Price:  d.Price,
		Reason: d.Reason,
		Score:  d.Score,
	})
}

// CompressOlder gzips journal files older than retentionDays and removes
// the originals.
func CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	root := logDir()
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".jsonl" {
			return nil
		}
		info, er := os.Stat(p)
		if er != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, e2 := os.Stat(gz); e2 == nil {
			_ = os.Remove(p)
			return nil
		}

		in, e3 := os.Open(p)
		if e3 != nil {
			return nil
		}
		defer in.Close()

		out, e4 := os.OpenFile(gz, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if e4 != nil {
			return nil
		}
		gw := gzip.NewWriter(out)
		if _, e5 := io.Copy(gw, in); e5 == nil {
			_ = gw.Close()
			_ = out.Close()
			_ = os.Remove(p)
		} else {
			_ = gw.Close()
			_ = out.Close()
		}
		return nil
	})
}
