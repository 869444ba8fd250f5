package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	entryJournalFile = "entry_orders.json"
	exitJournalFile  = "exit_orders.json"
)

// EntryRecord is one buy appended to the entry journal.
type EntryRecord struct {
	Timestamp time.Time  `json:"timestamp"`
	Symbol    string     `json:"symbol"`
	Exchange  string     `json:"exchange_id"`
	OrderID   string     `json:"order_id"`
	Size      float64    `json:"size"`
	AvgPrice  float64    `json:"avg_price"`
	Stage     string     `json:"stage"`
	Iceberg   bool       `json:"is_iceberg"`
	Cost      float64    `json:"cost"`
	SubOrders []SubOrder `json:"sub_orders,omitempty"`
}

// SubOrder is one batch of an iceberg entry.
type SubOrder struct {
	OrderID   string    `json:"order_id"`
	Size      float64   `json:"size"`
	AvgPrice  float64   `json:"avg_price"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// ExitRecord is one sell appended to the exit journal. The entry fields
// are populated when the most recent entry for the symbol could be
// matched; EntryOrderID == "" means no match was found.
type ExitRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	Symbol           string    `json:"symbol"`
	Exchange         string    `json:"exchange_id"`
	OrderID          string    `json:"order_id"`
	Size             float64   `json:"size"`
	AvgPrice         float64   `json:"avg_price"`
	Reason           string    `json:"reason"`
	Revenue          float64   `json:"revenue"`
	EntryOrderID     string    `json:"entry_order_id,omitempty"`
	EntryPrice       float64   `json:"entry_price,omitempty"`
	ProfitPercentage float64   `json:"profit_percentage,omitempty"`
	ProfitAmount     float64   `json:"profit_amount,omitempty"`
}

// Filter narrows journal queries. Zero values match everything.
type Filter struct {
	Symbol   string
	Exchange string
	Start    time.Time
	End      time.Time
}

func (f Filter) matches(symbol, exchange string, ts time.Time) bool {
	if f.Symbol != "" && symbol != f.Symbol {
		return false
	}
	if f.Exchange != "" && exchange != f.Exchange {
		return false
	}
	if !f.Start.IsZero() && ts.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && ts.After(f.End) {
		return false
	}
	return true
}

// Journal persists entry and exit records as two JSON arrays under one
// directory. Appends rewrite the whole array through a temp file and
// rename, so a crash leaves either the old or the new file. A file that
// fails to parse is treated as empty and overwritten on the next append.
type Journal struct {
	dir    string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewJournal creates the journal directory if needed.
func NewJournal(dir string, logger zerolog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &Journal{
		dir:    dir,
		logger: logger.With().Str("component", "journal").Logger(),
	}, nil
}

// AppendEntry adds one record to the entry journal.
func (j *Journal) AppendEntry(rec EntryRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	path := filepath.Join(j.dir, entryJournalFile)
	var records []EntryRecord
	j.readArray(path, &records)
	records = append(records, rec)
	if err := j.writeArray(path, records); err != nil {
		return err
	}
	j.logger.Info().
		Str("symbol", rec.Symbol).
		Str("order_id", rec.OrderID).
		Str("stage", rec.Stage).
		Float64("size", rec.Size).
		Float64("avg_price", rec.AvgPrice).
		Msg("entry recorded")
	return nil
}

// AppendExit adds one record to the exit journal.
func (j *Journal) AppendExit(rec ExitRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	path := filepath.Join(j.dir, exitJournalFile)
	var records []ExitRecord
	j.readArray(path, &records)
	records = append(records, rec)
	if err := j.writeArray(path, records); err != nil {
		return err
	}
	j.logger.Info().
		Str("symbol", rec.Symbol).
		Str("order_id", rec.OrderID).
		Str("reason", rec.Reason).
		Float64("size", rec.Size).
		Float64("avg_price", rec.AvgPrice).
		Msg("exit recorded")
	return nil
}

// Entries returns entry records matching the filter, oldest first.
func (j *Journal) Entries(f Filter) ([]EntryRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var records []EntryRecord
	j.readArray(filepath.Join(j.dir, entryJournalFile), &records)
	out := records[:0:0]
	for _, r := range records {
		if f.matches(r.Symbol, r.Exchange, r.Timestamp) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Exits returns exit records matching the filter, oldest first.
func (j *Journal) Exits(f Filter) ([]ExitRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var records []ExitRecord
	j.readArray(filepath.Join(j.dir, exitJournalFile), &records)
	out := records[:0:0]
	for _, r := range records {
		if f.matches(r.Symbol, r.Exchange, r.Timestamp) {
			out = append(out, r)
		}
	}
	return out, nil
}

// LatestEntry returns the most recent entry record for a symbol.
func (j *Journal) LatestEntry(symbol, exchange string) (EntryRecord, bool) {
	records, _ := j.Entries(Filter{Symbol: symbol, Exchange: exchange})
	if len(records) == 0 {
		return EntryRecord{}, false
	}
	sort.Slice(records, func(a, b int) bool {
		return records[a].Timestamp.After(records[b].Timestamp)
	})
	return records[0], true
}

func (j *Journal) readArray(path string, out interface{}) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn().Err(err).Str("path", path).Msg("journal unreadable, starting empty")
		}
		return
	}
	if err := json.Unmarshal(data, out); err != nil {
		j.logger.Warn().Err(err).Str("path", path).Msg("journal corrupt, starting empty")
	}
}

func (j *Journal) writeArray(path string, records interface{}) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}
	tmp, err := os.CreateTemp(j.dir, ".journal-*")
	if err != nil {
		return fmt.Errorf("create journal temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write journal temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close journal temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("swap journal: %w", err)
	}
	return nil
}
