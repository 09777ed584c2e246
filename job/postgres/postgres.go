// Package postgres provides a GORM-backed job.Store for deployments that
// need job records to survive a restart. The engine itself only depends on
// the job.Store interface; this package is the injectable persistence
// arena behind it.
package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jonwraymond/scriptgen/job"
)

// record is the relational projection of a job. The full job document is
// stored as JSONB; the indexed columns exist for the list queries.
type record struct {
	ID        string `gorm:"primaryKey;size:64"`
	SessionID string `gorm:"index;size:128"`
	UserID    string `gorm:"index;size:128"`
	Kind      string `gorm:"size:32"`
	Status    string `gorm:"size:16"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Payload   []byte `gorm:"type:jsonb"`
}

// TableName keeps the table name stable across GORM naming strategies.
func (record) TableName() string { return "tool_jobs" }

// Store is a job.Store backed by Postgres.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres with the given DSN, migrates the schema, and
// returns a ready Store.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return New(db)
}

// New wraps an existing GORM handle, migrating the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Put inserts or replaces a job record.
func (s *Store) Put(j *job.Job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("postgres: marshal job %s: %w", j.ID, err)
	}
	rec := record{
		ID:        j.ID,
		SessionID: j.SessionID,
		UserID:    j.UserID,
		Kind:      string(j.Kind),
		Status:    string(j.Status),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Payload:   payload,
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// Get returns a snapshot of the job with the given id.
func (s *Store) Get(id string) (*job.Job, error) {
	var rec record
	err := s.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, job.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(rec)
}

// ListBySession returns the session's jobs, newest first.
func (s *Store) ListBySession(sessionID string) ([]*job.Job, error) {
	return s.list("session_id = ?", sessionID)
}

// ListByUser returns the user's jobs, newest first.
func (s *Store) ListByUser(userID string) ([]*job.Job, error) {
	return s.list("user_id = ?", userID)
}

func (s *Store) list(cond string, arg string) ([]*job.Job, error) {
	var recs []record
	if err := s.db.Where(cond, arg).Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*job.Job, 0, len(recs))
	for _, rec := range recs {
		j, err := decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func decode(rec record) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal(rec.Payload, &j); err != nil {
		return nil, fmt.Errorf("postgres: decode job %s: %w", rec.ID, err)
	}
	return &j, nil
}
