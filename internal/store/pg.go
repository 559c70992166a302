package store

import (
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/model"
)

type barRow struct {
	Symbol    string    `gorm:"primaryKey;size:32"`
	Timestamp time.Time `gorm:"primaryKey"`
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

func (barRow) TableName() string { return "price_bars" }

type documentRow struct {
	Symbol string    `gorm:"primaryKey;size:32"`
	AsOf   time.Time `gorm:"primaryKey"`
	Fields []byte    `gorm:"type:jsonb"`
}

func (documentRow) TableName() string { return "documents" }

type stateRow struct {
	Owner     string `gorm:"primaryKey;size:64"`
	State     []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func (stateRow) TableName() string { return "process_state" }

type auditRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	Owner     string `gorm:"size:64;index"`
	Category  string `gorm:"size:64;index"`
	Day       string `gorm:"size:10;index"`
	Timestamp time.Time
	Record    []byte `gorm:"type:jsonb"`
}

func (auditRow) TableName() string { return "audit_log" }

type eventRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Kind       string `gorm:"size:64;index"`
	Key        string `gorm:"size:64"`
	OccurredAt time.Time
	ObservedAt time.Time `gorm:"index"`
	Source     string    `gorm:"size:64"`
	Payload    []byte    `gorm:"type:jsonb"`
}

func (eventRow) TableName() string { return "events" }

// PGStore implements Store on PostgreSQL. The upsert invariant relies on
// ON CONFLICT, so no application-level partition locks are needed.
type PGStore struct {
	db *gorm.DB
}

// NewPGStore opens the connection pool and migrates the schema.
func NewPGStore(dsn string) (*PGStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.AutoMigrate(&barRow{}, &documentRow{}, &stateRow{}, &auditRow{}, &eventRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate store schema")
	}
	return &PGStore{db: db}, nil
}

// WriteBars upserts by (symbol, timestamp); the last write wins.
func (s *PGStore) WriteBars(symbol string, bars []model.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([]barRow, 0, len(bars))
	for _, bar := range bars {
		rows = append(rows, barRow{
			Symbol:    symbol,
			Timestamp: bar.Timestamp.UTC(),
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
		})
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).Create(&rows).Error
	if err != nil {
		return errors.Wrap(err, "write bars")
	}
	return nil
}

func (s *PGStore) ReadBars(symbol string, start, end time.Time) ([]model.PriceBar, error) {
	var rows []barRow
	err := s.db.
		Where("symbol = ? AND timestamp BETWEEN ? AND ?", symbol, start.UTC(), end.UTC()).
		Order("timestamp asc").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "read bars")
	}
	out := make([]model.PriceBar, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.PriceBar{
			Symbol:    row.Symbol,
			Timestamp: row.Timestamp,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		})
	}
	return out, nil
}

func (s *PGStore) WriteDocument(symbol string, doc model.Document) error {
	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		return errors.Wrap(err, "marshal document fields")
	}
	row := documentRow{Symbol: symbol, AsOf: doc.AsOf.UTC(), Fields: fields}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "as_of"}},
		DoUpdates: clause.AssignmentColumns([]string{"fields"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "write document")
	}
	return nil
}

func (s *PGStore) ReadDocument(symbol string, asOf time.Time) (model.Document, bool, error) {
	query := s.db.Where("symbol = ?", symbol)
	if !asOf.IsZero() {
		query = query.Where("as_of <= ?", asOf.UTC())
	}
	var row documentRow
	err := query.Order("as_of desc").First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return model.Document{}, false, nil
	}
	if err != nil {
		return model.Document{}, false, errors.Wrap(err, "read document")
	}
	var fields map[string]any
	if err := json.Unmarshal(row.Fields, &fields); err != nil {
		return model.Document{}, false, errors.Wrap(err, "decode document fields")
	}
	return model.Document{Symbol: row.Symbol, AsOf: row.AsOf, Fields: fields}, true, nil
}

func (s *PGStore) SaveState(owner string, state map[string]any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}
	row := stateRow{Owner: owner, State: data, UpdatedAt: time.Now().UTC()}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "save state")
	}
	return nil
}

func (s *PGStore) LoadState(owner string) (map[string]any, error) {
	var row stateRow
	err := s.db.Where("owner = ?", owner).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load state")
	}
	var state map[string]any
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, errors.Wrap(err, "decode state")
	}
	return state, nil
}

func (s *PGStore) AppendAudit(owner, category string, record map[string]any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal audit record")
	}
	now := time.Now().UTC()
	row := auditRow{
		ID:        uuid.NewString(),
		Owner:     owner,
		Category:  category,
		Day:       now.Format(dayLayout),
		Timestamp: now,
		Record:    data,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return errors.Wrap(err, "append audit")
	}
	return nil
}

func (s *PGStore) WriteEvent(event model.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return errors.Wrap(err, "marshal event payload")
	}
	row := eventRow{
		Kind:       event.Kind,
		Key:        event.Key,
		OccurredAt: event.OccurredAt.UTC(),
		ObservedAt: event.ObservedAt.UTC(),
		Source:     event.Source,
		Payload:    payload,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return errors.Wrap(err, "write event")
	}
	return nil
}

func (s *PGStore) ReadEvents(start, end time.Time, kinds []string) ([]model.Event, error) {
	query := s.db.Where("observed_at BETWEEN ? AND ?", start.UTC(), end.UTC())
	if len(kinds) > 0 {
		query = query.Where("kind IN ?", kinds)
	}
	var rows []eventRow
	if err := query.Order("id asc").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "read events")
	}
	out := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		var payload map[string]any
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, errors.Wrap(err, "decode event payload")
		}
		out = append(out, model.Event{
			Kind:       row.Kind,
			Key:        row.Key,
			OccurredAt: row.OccurredAt,
			ObservedAt: row.ObservedAt,
			Source:     row.Source,
			Payload:    payload,
		})
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (s *PGStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
