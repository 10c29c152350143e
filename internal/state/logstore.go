package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uivision/button-detect/internal/detect"
	"github.com/uivision/button-detect/internal/logger"
)

// Record is one detection request log entry.
type Record struct {
	ID             string             `json:"id"`
	RequestTime    time.Time          `json:"request_time"`
	ProcessTime    float64            `json:"process_time"`
	ImageHash      string             `json:"image_hash"`
	Detections     []detect.Detection `json:"detections"`
	DetectionCount int                `json:"detection_count"`
	ClientIP       string             `json:"client_ip"`
	APIKey         string             `json:"api_key,omitempty"`
	Status         string             `json:"status"`
	ErrorMessage   string             `json:"error_message,omitempty"`
}

// DailyCount is one day of the request trend.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Statistics summarizes recent detection activity for the dashboard.
type Statistics struct {
	TotalRequests   int            `json:"total_requests"`
	SuccessRequests int            `json:"success_requests"`
	SuccessRate     float64        `json:"success_rate"`
	AvgProcessTime  float64        `json:"avg_process_time"`
	TodayRequests   int            `json:"today_requests"`
	DailyStats      []DailyCount   `json:"daily_stats"`
	ClassCounts     map[string]int `json:"class_counts"`
}

// Store manages detection log persistence
type Store struct {
	db      *Database
	logger  *logger.Logger
	classes []string
	mu      sync.RWMutex
}

// NewStore opens (or creates) the log store at databasePath. classes
// lists the class names tracked in the statistics breakdown.
func NewStore(databasePath string, classes []string, log *logger.Logger) (*Store, error) {
	db, err := NewDatabase(databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Store{
		db:      db,
		logger:  log,
		classes: classes,
	}, nil
}

// Close closes the store and database
func (s *Store) Close() error {
	return s.db.Close()
}

// maskAPIKey keeps only the first and last four characters.
func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) > 8 {
		return key[:4] + "****" + key[len(key)-4:]
	}
	return "****"
}

// LogDetection saves a request log entry. The API key is masked before
// storage. Callers treat failures as non-fatal: a lost log entry never
// fails the detection request.
func (s *Store) LogDetection(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.RequestTime.IsZero() {
		rec.RequestTime = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = "success"
	}
	rec.DetectionCount = len(rec.Detections)

	detectionsJSON := "[]"
	if rec.Detections != nil {
		data, err := json.Marshal(rec.Detections)
		if err != nil {
			return fmt.Errorf("failed to marshal detections: %w", err)
		}
		detectionsJSON = string(data)
	}

	query := `
		INSERT INTO detection_logs (
			id, request_time, process_time, image_hash, detections,
			detection_count, client_ip, api_key, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.GetDB().ExecContext(ctx, query,
		rec.ID, rec.RequestTime, rec.ProcessTime, rec.ImageHash, detectionsJSON,
		rec.DetectionCount, rec.ClientIP, maskAPIKey(rec.APIKey), rec.Status, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to save detection log: %w", err)
	}

	s.logger.Debug("Detection logged", "id", rec.ID, "status", rec.Status, "count", rec.DetectionCount)
	return nil
}

// ListLogs returns one page of log entries, newest first, optionally
// filtered by status. The second return value is the total matching
// row count for pagination.
func (s *Store) ListLogs(ctx context.Context, page, perPage int, status string) ([]Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	where := ""
	args := []interface{}{}
	if status != "" {
		where = "WHERE status = ?"
		args = append(args, status)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM detection_logs %s", where)
	if err := s.db.GetDB().QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, request_time, process_time, image_hash, detections,
		       detection_count, client_ip, api_key, status, error_message
		FROM detection_logs %s
		ORDER BY request_time DESC
		LIMIT ? OFFSET ?
	`, where)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	// Non-nil so an empty page serializes as [] rather than null
	records := []Record{}
	for rows.Next() {
		var rec Record
		var detectionsJSON string
		var apiKey, errorMessage sql.NullString

		err := rows.Scan(&rec.ID, &rec.RequestTime, &rec.ProcessTime, &rec.ImageHash,
			&detectionsJSON, &rec.DetectionCount, &rec.ClientIP, &apiKey, &rec.Status, &errorMessage)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan log row: %w", err)
		}

		if detectionsJSON != "" {
			if err := json.Unmarshal([]byte(detectionsJSON), &rec.Detections); err != nil {
				s.logger.Warn("Failed to parse stored detections", "id", rec.ID, "error", err)
			}
		}
		rec.APIKey = apiKey.String
		rec.ErrorMessage = errorMessage.String

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate log rows: %w", err)
	}

	return records, total, nil
}

// Statistics aggregates request activity over the trailing days window.
func (s *Store) Statistics(ctx context.Context, days int) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if days < 1 {
		days = 7
	}

	now := time.Now().UTC()
	start := now.AddDate(0, 0, -days)
	db := s.db.GetDB()

	stats := &Statistics{
		ClassCounts: make(map[string]int, len(s.classes)),
	}
	for _, class := range s.classes {
		stats.ClassCounts[class] = 0
	}

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM detection_logs WHERE request_time >= ?`, start,
	).Scan(&stats.TotalRequests)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM detection_logs WHERE request_time >= ? AND status = 'success'`, start,
	).Scan(&stats.SuccessRequests)
	if err != nil {
		return nil, fmt.Errorf("failed to count successful requests: %w", err)
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = round1(float64(stats.SuccessRequests) / float64(stats.TotalRequests) * 100)
	}

	var avg sql.NullFloat64
	err = db.QueryRowContext(ctx,
		`SELECT AVG(process_time) FROM detection_logs WHERE request_time >= ? AND status = 'success'`, start,
	).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("failed to compute average process time: %w", err)
	}
	stats.AvgProcessTime = round3(avg.Float64)

	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM detection_logs WHERE request_time >= ?`, todayStart,
	).Scan(&stats.TodayRequests)
	if err != nil {
		return nil, fmt.Errorf("failed to count today's requests: %w", err)
	}

	for i := days - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		dayEnd := dayStart.AddDate(0, 0, 1)

		var count int
		err = db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM detection_logs WHERE request_time >= ? AND request_time < ?`,
			dayStart, dayEnd,
		).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("failed to compute daily trend: %w", err)
		}

		stats.DailyStats = append(stats.DailyStats, DailyCount{
			Date:  dayStart.Format("01-02"),
			Count: count,
		})
	}

	if err := s.addClassCounts(ctx, start, stats); err != nil {
		return nil, err
	}

	return stats, nil
}

// addClassCounts tallies per-class detection totals from the stored
// detection JSON of successful requests.
func (s *Store) addClassCounts(ctx context.Context, start time.Time, stats *Statistics) error {
	rows, err := s.db.GetDB().QueryContext(ctx,
		`SELECT detections FROM detection_logs WHERE request_time >= ? AND status = 'success'`, start,
	)
	if err != nil {
		return fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var detectionsJSON string
		if err := rows.Scan(&detectionsJSON); err != nil {
			return fmt.Errorf("failed to scan detections: %w", err)
		}
		if detectionsJSON == "" {
			continue
		}

		var dets []detect.Detection
		if err := json.Unmarshal([]byte(detectionsJSON), &dets); err != nil {
			continue
		}
		for _, d := range dets {
			if _, tracked := stats.ClassCounts[d.Class]; tracked {
				stats.ClassCounts[d.Class]++
			}
		}
	}
	return rows.Err()
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
