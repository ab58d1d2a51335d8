package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/okian/ktrace/internal/domain/dedupe"
	"github.com/okian/ktrace/internal/domain/model"
	"github.com/okian/ktrace/pkg/metrics"
)

const gormName = "gorm"

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type masteryRow struct {
	StudentID   string         `gorm:"column:student_id;primaryKey;size:128"`
	CourseID    string         `gorm:"column:course_id;primaryKey;size:128"`
	ConceptID   string         `gorm:"column:concept_id;primaryKey;size:256"`
	Probability float64        `gorm:"column:probability;not null"`
	LastUpdated time.Time      `gorm:"column:last_updated"`
	Applied     datatypes.JSON `gorm:"column:applied"`
	UpdateCount int64          `gorm:"column:update_count;not null;default:0"`
	Version     int64          `gorm:"column:version;not null"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
}

func (masteryRow) TableName() string { return "mastery_records" }

// evidenceLogRow is an audit trail of committed evidence. It is never read
// back to rebuild state.
type evidenceLogRow struct {
	ID        string         `gorm:"column:id;primaryKey;size:36"`
	StudentID string         `gorm:"column:student_id;index:idx_evidence_pair;size:128"`
	CourseID  string         `gorm:"column:course_id;index:idx_evidence_pair;size:128"`
	EventID   string         `gorm:"column:event_id;size:512"`
	Source    string         `gorm:"column:source;size:32"`
	Outcome   string         `gorm:"column:outcome;size:32"`
	Credit    float64        `gorm:"column:credit"`
	Weight    float64        `gorm:"column:weight"`
	Concepts  datatypes.JSON `gorm:"column:concepts"`
	EventAt   time.Time      `gorm:"column:event_at"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (evidenceLogRow) TableName() string { return "evidence_log" }

// GormStore persists mastery records in a SQL database.
type GormStore struct {
	db   *gorm.DB
	opts options
}

// OpenGorm connects to driver/dsn and migrates the schema.
func OpenGorm(driver, dsn string, opts ...Option) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}
	return NewGormStore(db, opts...)
}

// NewGormStore wraps an open database and migrates the schema.
func NewGormStore(db *gorm.DB, opts ...Option) (*GormStore, error) {
	if err := db.AutoMigrate(&masteryRow{}, &evidenceLogRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db, opts: applyOptions(opts)}, nil
}

// Name implements Store.
func (s *GormStore) Name() string { return gormName }

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, key model.RecordKey) (model.MasteryRecord, error) {
	start := time.Now()
	defer observe(gormName, "get", start)

	var row masteryRow
	err := s.db.WithContext(ctx).
		Where("student_id = ? AND course_id = ? AND concept_id = ?", key.StudentID, key.CourseID, key.ConceptID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.NewMasteryRecord(key, s.opts.prior), nil
	}
	if err != nil {
		metrics.RecordStorageError(gormName, "get")
		return model.MasteryRecord{}, fmt.Errorf("get %s/%s/%s: %w", key.StudentID, key.CourseID, key.ConceptID, err)
	}
	return fromRow(row)
}

// Commit implements Store.
func (s *GormStore) Commit(ctx context.Context, c model.Commit) error {
	start := time.Now()
	defer observe(gormName, "commit", start)
	if err := validateCommit(c); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, r := range c.Records {
			applied, err := json.Marshal(r.Applied)
			if err != nil {
				return err
			}
			if r.Version == 0 {
				row := masteryRow{
					StudentID:   r.StudentID,
					CourseID:    r.CourseID,
					ConceptID:   r.ConceptID,
					Probability: r.Probability,
					LastUpdated: r.LastUpdated,
					Applied:     datatypes.JSON(applied),
					UpdateCount: r.UpdateCount,
					Version:     1,
				}
				res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return ErrConflict
				}
				continue
			}
			res := tx.Model(&masteryRow{}).
				Where("student_id = ? AND course_id = ? AND concept_id = ? AND version = ?",
					r.StudentID, r.CourseID, r.ConceptID, r.Version).
				Updates(map[string]interface{}{
					"probability":  r.Probability,
					"last_updated": r.LastUpdated,
					"applied":      datatypes.JSON(applied),
					"update_count": r.UpdateCount,
					"version":      r.Version + 1,
					"updated_at":   now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
		}
		if !s.opts.logEvidence {
			return nil
		}
		concepts, err := json.Marshal(c.Evidence.ConceptIDs)
		if err != nil {
			return err
		}
		return tx.Create(&evidenceLogRow{
			ID:        uuid.NewString(),
			StudentID: c.StudentID,
			CourseID:  c.CourseID,
			EventID:   c.EventID,
			Source:    string(c.Evidence.Source),
			Outcome:   string(c.Evidence.Outcome.Kind),
			Credit:    c.Evidence.Outcome.Credit,
			Weight:    c.Evidence.Weight,
			Concepts:  datatypes.JSON(concepts),
			EventAt:   c.Evidence.Timestamp,
			CreatedAt: now,
		}).Error
	})
	if err != nil && !errors.Is(err, ErrConflict) {
		metrics.RecordStorageError(gormName, "commit")
		return fmt.Errorf("commit %s: %w", c.EventID, err)
	}
	return err
}

// List implements Store.
func (s *GormStore) List(ctx context.Context, studentID, courseID string) ([]model.MasteryRecord, error) {
	start := time.Now()
	defer observe(gormName, "list", start)

	var rows []masteryRow
	if err := s.db.WithContext(ctx).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		Order("concept_id ASC").
		Find(&rows).Error; err != nil {
		metrics.RecordStorageError(gormName, "list")
		return nil, fmt.Errorf("list %s/%s: %w", studentID, courseID, err)
	}
	out := make([]model.MasteryRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// EvidenceLogCount returns the number of audit rows for a pair.
func (s *GormStore) EvidenceLogCount(ctx context.Context, studentID, courseID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&evidenceLogRow{}).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		Count(&n).Error
	return n, err
}

// Count implements Counter.
func (s *GormStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&masteryRow{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close implements Store.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromRow(row masteryRow) (model.MasteryRecord, error) {
	var applied dedupe.Ledger
	if len(row.Applied) > 0 {
		if err := json.Unmarshal(row.Applied, &applied); err != nil {
			return model.MasteryRecord{}, fmt.Errorf("decode applied ledger of %s: %w", row.ConceptID, err)
		}
	}
	return model.MasteryRecord{
		StudentID:   row.StudentID,
		CourseID:    row.CourseID,
		ConceptID:   row.ConceptID,
		Probability: row.Probability,
		LastUpdated: row.LastUpdated.UTC(),
		Applied:     applied,
		UpdateCount: row.UpdateCount,
		Version:     row.Version,
	}, nil
}
