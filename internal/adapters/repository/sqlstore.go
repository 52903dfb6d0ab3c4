package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/okian/callqa/internal/domain/grading"
	"github.com/okian/callqa/internal/domain/model"
	"github.com/okian/callqa/internal/domain/transcript"
	"github.com/okian/callqa/pkg/logger"
	"github.com/okian/callqa/pkg/metrics"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// callRow mirrors the calls table.
type callRow struct {
	ID          int64     `gorm:"column:call_id;primaryKey;autoIncrement"`
	Filename    string    `gorm:"column:filename;uniqueIndex;not null"`
	UploadTime  time.Time `gorm:"column:upload_time;not null"`
	Transcript  string    `gorm:"column:transcript"`
	Analysis    string    `gorm:"column:analysis"`
	Grades      string    `gorm:"column:grades"`
	Timing      string    `gorm:"column:timing"`
	Fingerprint string    `gorm:"column:fingerprint;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

func (callRow) TableName() string { return "calls" }

// scorecardRow mirrors the scorecards table. Criteria is a JSON list.
type scorecardRow struct {
	Version   int       `gorm:"column:version;primaryKey;autoIncrement:false"`
	Criteria  string    `gorm:"column:criteria;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (scorecardRow) TableName() string { return "scorecards" }

// SQLStore implements Store on gorm with the SQLite driver.
type SQLStore struct {
	db *gorm.DB

	metricsUpdateInterval time.Duration
	slowThreshold         time.Duration
	logLevel              gormlogger.LogLevel
	logger                logger.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
}

var _ Store = (*SQLStore)(nil)

// Open opens (creating if needed) the SQLite database at path and migrates
// its schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	s := &SQLStore{
		metricsUpdateInterval: 5 * time.Second,
		slowThreshold:         200 * time.Millisecond,
		logLevel:              gormlogger.Warn,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("repository")
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOpen, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         newGormLogger(s.logger.Named("gorm"), s.logLevel, s.slowThreshold),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	// SQLite serializes writers; one connection avoids "database is locked".
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&callRow{}, &scorecardRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrOpen, err)
	}

	s.db = db
	s.stopChan = make(chan struct{})
	s.updateMetrics(ctx)
	s.startMetricsUpdater(ctx)

	s.logger.Info(ctx, "database ready", logger.String("path", path))
	return s, nil
}

// Close stops background work and closes the connection pool.
func (s *SQLStore) Close() error {
	select {
	case <-s.stopChan:
		return nil
	default:
		close(s.stopChan)
	}
	s.wg.Wait()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) SaveCall(ctx context.Context, call model.CallRecord) (int64, error) {
	defer observe("save_call", time.Now())

	if strings.TrimSpace(call.Filename) == "" {
		return 0, fmt.Errorf("%w: empty filename", ErrInvalid)
	}
	row := callRow{
		Filename:    call.Filename,
		UploadTime:  call.UploadTime,
		Transcript:  call.Transcript,
		Analysis:    call.Analysis,
		Grades:      string(call.Grades),
		Fingerprint: call.Fingerprint,
	}
	if row.UploadTime.IsZero() {
		row.UploadTime = time.Now().UTC()
	}
	if row.Grades == "" {
		row.Grades = "{}"
	}
	if call.Timing != nil {
		timing, err := json.Marshal(call.Timing)
		if err != nil {
			return 0, fmt.Errorf("%w: timing: %v", ErrInvalid, err)
		}
		row.Timing = string(timing)
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return 0, fmt.Errorf("%w: %s", ErrConflict, call.Filename)
		}
		return 0, err
	}
	return row.ID, nil
}

func (s *SQLStore) ListCalls(ctx context.Context) ([]model.CallRecord, error) {
	defer observe("list_calls", time.Now())

	var rows []callRow
	err := s.db.WithContext(ctx).
		Select("call_id", "filename", "upload_time", "created_at").
		Order("created_at DESC").Order("call_id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.CallRecord, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLStore) GetCall(ctx context.Context, id int64) (model.CallRecord, error) {
	defer observe("get_call", time.Now())

	var row callRow
	if err := s.db.WithContext(ctx).First(&row, "call_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.CallRecord{}, fmt.Errorf("%w: call %d", ErrNotFound, id)
		}
		return model.CallRecord{}, err
	}
	return row.toModel()
}

func (s *SQLStore) DeleteCall(ctx context.Context, id int64) (bool, error) {
	defer observe("delete_call", time.Now())

	res := s.db.WithContext(ctx).Delete(&callRow{}, "call_id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLStore) CountCalls(ctx context.Context) (int64, error) {
	defer observe("count_calls", time.Now())

	var n int64
	if err := s.db.WithContext(ctx).Model(&callRow{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) SaveScorecard(ctx context.Context, sc model.Scorecard) error {
	defer observe("save_scorecard", time.Now())

	if len(sc.Criteria) == 0 {
		return fmt.Errorf("%w: scorecard %d has no criteria", ErrInvalid, sc.Version)
	}
	criteria, err := json.Marshal(sc.Criteria)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	row := scorecardRow{Version: sc.Version, Criteria: string(criteria), CreatedAt: time.Now().UTC()}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{"criteria", "created_at"}),
	}).Create(&row).Error
}

func (s *SQLStore) GetScorecard(ctx context.Context, version int) (model.Scorecard, error) {
	defer observe("get_scorecard", time.Now())

	var row scorecardRow
	if err := s.db.WithContext(ctx).First(&row, "version = ?", version).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Scorecard{}, fmt.Errorf("%w: scorecard %d", ErrNotFound, version)
		}
		return model.Scorecard{}, err
	}
	return row.toModel()
}

func (s *SQLStore) LatestScorecard(ctx context.Context) (model.Scorecard, error) {
	defer observe("latest_scorecard", time.Now())

	var row scorecardRow
	if err := s.db.WithContext(ctx).Order("version DESC").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Scorecard{}, fmt.Errorf("%w: no scorecards", ErrNotFound)
		}
		return model.Scorecard{}, err
	}
	return row.toModel()
}

func (r callRow) toModel() (model.CallRecord, error) {
	c := model.CallRecord{
		ID:          r.ID,
		Filename:    r.Filename,
		UploadTime:  r.UploadTime,
		Transcript:  r.Transcript,
		Analysis:    r.Analysis,
		Fingerprint: r.Fingerprint,
		CreatedAt:   r.CreatedAt,
	}
	if r.Grades != "" {
		c.Grades = json.RawMessage(r.Grades)
	}
	if r.Timing != "" {
		c.Timing = &transcript.SpeakerTiming{}
		if err := json.Unmarshal([]byte(r.Timing), c.Timing); err != nil {
			return model.CallRecord{}, fmt.Errorf("decode call %d: %w", r.ID, err)
		}
	}
	return c, nil
}

func (r scorecardRow) toModel() (model.Scorecard, error) {
	var criteria []grading.Criterion
	if err := json.Unmarshal([]byte(r.Criteria), &criteria); err != nil {
		return model.Scorecard{}, fmt.Errorf("decode scorecard %d: %w", r.Version, err)
	}
	return model.Scorecard{Version: r.Version, Criteria: criteria, CreatedAt: r.CreatedAt}, nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryQueryLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// startMetricsUpdater periodically publishes the stored call count.
func (s *SQLStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics(ctx)
			}
		}
	}()
}

func (s *SQLStore) updateMetrics(ctx context.Context) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&callRow{}).Count(&n).Error; err != nil {
		return
	}
	metrics.UpdateRepositoryCalls(n)
}
