package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"

	"main/internal/model"
)

const dayLayout = "2006-01-02"

// FileStore persists everything under a base directory:
//
//	prices/<symbol>/<year>.json      bar partitions, upsert-merged
//	fundamentals/<symbol>/<ts>.json  one document per observation time
//	state/<owner>.json               one record per owner, overwritten
//	audit/<category>/<day>.jsonl     append-only, one line per record
//	events/<day>.jsonl               append-only event log
type FileStore struct {
	base   string
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	closed atomic.Bool
}

// NewFileStore creates the directory layout and returns the store.
func NewFileStore(base string) (*FileStore, error) {
	for _, dir := range []string{"prices", "fundamentals", "state", "audit", "events"} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create store dir %s", dir)
		}
	}
	return &FileStore{base: base, locks: make(map[string]*sync.Mutex)}, nil
}

// lockFor returns the mutex scoped to one storage partition.
func (s *FileStore) lockFor(partition string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[partition]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[partition] = lock
	}
	return lock
}

// WriteBars merges bars into their per-symbol-per-year partitions under a
// partition-scoped lock, so concurrent writers never clobber stored points.
func (s *FileStore) WriteBars(symbol string, bars []model.PriceBar) error {
	if s.closed.Load() {
		return ErrClosed
	}
	byYear := make(map[int][]model.PriceBar)
	for _, bar := range bars {
		bar.Symbol = symbol
		year := bar.Timestamp.UTC().Year()
		byYear[year] = append(byYear[year], bar)
	}
	for year, part := range byYear {
		if err := s.mergeBarPartition(symbol, year, part); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) mergeBarPartition(symbol string, year int, bars []model.PriceBar) error {
	partition := fmt.Sprintf("prices/%s/%d", symbol, year)
	lock := s.lockFor(partition)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(s.base, "prices", symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create bar dir %s", symbol)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.json", year))
	existing, err := readBarFile(path)
	if err != nil {
		return err
	}

	merged := make(map[int64]model.PriceBar, len(existing)+len(bars))
	for _, bar := range existing {
		merged[bar.Timestamp.UnixNano()] = bar
	}
	for _, bar := range bars {
		merged[bar.Timestamp.UnixNano()] = bar
	}

	out := make([]model.PriceBar, 0, len(merged))
	for _, bar := range merged {
		out = append(out, bar)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return writeJSONAtomic(path, out)
}

// ReadBars returns bars within [start, end], sorted ascending. An unknown
// symbol yields an empty slice.
func (s *FileStore) ReadBars(symbol string, start, end time.Time) ([]model.PriceBar, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []model.PriceBar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		partition := fmt.Sprintf("prices/%s/%d", symbol, year)
		lock := s.lockFor(partition)
		lock.Lock()
		bars, err := readBarFile(filepath.Join(s.base, "prices", symbol, fmt.Sprintf("%d.json", year)))
		lock.Unlock()
		if err != nil {
			return nil, err
		}
		for _, bar := range bars {
			if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
				continue
			}
			out = append(out, bar)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// WriteDocument stores the document as one file named by observation time.
func (s *FileStore) WriteDocument(symbol string, doc model.Document) error {
	if s.closed.Load() {
		return ErrClosed
	}
	doc.Symbol = symbol
	dir := filepath.Join(s.base, "fundamentals", symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create document dir %s", symbol)
	}
	// Zero-padded nanosecond names keep lexical order chronological.
	name := fmt.Sprintf("%020d.json", doc.AsOf.UTC().UnixNano())
	return writeJSONAtomic(filepath.Join(dir, name), doc)
}

// ReadDocument returns the newest document with AsOf <= asOf, or the
// latest overall when asOf is the zero time.
func (s *FileStore) ReadDocument(symbol string, asOf time.Time) (model.Document, bool, error) {
	if s.closed.Load() {
		return model.Document{}, false, ErrClosed
	}
	dir := filepath.Join(s.base, "fundamentals", symbol)
	names, err := sortedJSONNames(dir)
	if err != nil {
		return model.Document{}, false, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		var doc model.Document
		if err := readJSON(filepath.Join(dir, names[i]), &doc); err != nil {
			return model.Document{}, false, err
		}
		if asOf.IsZero() || !doc.AsOf.After(asOf) {
			return doc, true, nil
		}
	}
	return model.Document{}, false, nil
}

// SaveState fully overwrites the owner's state record.
func (s *FileStore) SaveState(owner string, state map[string]any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	lock := s.lockFor("state/" + owner)
	lock.Lock()
	defer lock.Unlock()
	return writeJSONAtomic(filepath.Join(s.base, "state", owner+".json"), state)
}

// LoadState returns nil without error when the owner has no saved state.
func (s *FileStore) LoadState(owner string) (map[string]any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	lock := s.lockFor("state/" + owner)
	lock.Lock()
	defer lock.Unlock()
	var state map[string]any
	err := readJSON(filepath.Join(s.base, "state", owner+".json"), &state)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// AppendAudit appends one record to the category's day partition. The
// write is synced before returning; a flush failure reaches the caller.
func (s *FileStore) AppendAudit(owner, category string, record map[string]any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	entry := AuditRecord{
		ID:        uuid.NewString(),
		Owner:     owner,
		Timestamp: time.Now().UTC(),
		Record:    record,
	}
	dir := filepath.Join(s.base, "audit", category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create audit dir %s", category)
	}
	path := filepath.Join(dir, entry.Timestamp.Format(dayLayout)+".jsonl")
	return s.appendLine("audit/"+category, path, entry)
}

// WriteEvent appends the event to the day-partitioned event log.
func (s *FileStore) WriteEvent(event model.Event) error {
	if s.closed.Load() {
		return ErrClosed
	}
	path := filepath.Join(s.base, "events", event.ObservedAt.UTC().Format(dayLayout)+".jsonl")
	return s.appendLine("events", path, event)
}

// ReadEvents scans day partitions within [start, end], optionally
// filtering by kind.
func (s *FileStore) ReadEvents(start, end time.Time, kinds []string) ([]model.Event, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	filter := kindFilter(kinds)
	var out []model.Event
	for day := start.UTC().Truncate(24 * time.Hour); !day.After(end); day = day.Add(24 * time.Hour) {
		path := filepath.Join(s.base, "events", day.Format(dayLayout)+".jsonl")
		events, err := readEventLines(path)
		if err != nil {
			return nil, err
		}
		for _, event := range events {
			if event.ObservedAt.Before(start) || event.ObservedAt.After(end) {
				continue
			}
			if filter != nil {
				if _, ok := filter[event.Kind]; !ok {
					continue
				}
			}
			out = append(out, event)
		}
	}
	return out, nil
}

// Close marks the store closed. Further operations return ErrClosed.
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *FileStore) appendLine(partition, path string, v any) error {
	lock := s.lockFor(partition)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal append record")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		_ = file.Close()
		return errors.Wrapf(err, "append %s", path)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return errors.Wrapf(err, "sync %s", path)
	}
	return file.Close()
}

func readBarFile(path string) ([]model.PriceBar, error) {
	var bars []model.PriceBar
	err := readJSON(path, &bars)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bars, nil
}

func readEventLines(path string) ([]model.Event, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var out []model.Event
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event model.Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, errors.Wrapf(err, "decode event line in %s", path)
		}
		out = append(out, event)
	}
	return out, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

// writeJSONAtomic writes to a temp file and renames it into place, so a
// crashed write never leaves a truncated partition behind.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "rename %s", path)
	}
	return nil
}

func sortedJSONNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read dir %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
