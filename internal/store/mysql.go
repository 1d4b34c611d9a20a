package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/i474232898/country-weather-tracker/internal/weather"
)

const defaultQueryTimeout = 5 * time.Second

// MySQLStore persists weather and favorites data in MySQL. Raw records go to
// an append-only table, cleaned records to a one-row-per-country table with
// a monotonic last_updated, run logs to an immutable log table, and cleaned
// backups to CSV files under backupDir.
type MySQLStore struct {
	db        *sql.DB
	backupDir string
}

func NewMySQLStore(db *sql.DB, backupDir string) *MySQLStore {
	return &MySQLStore{db: db, backupDir: backupDir}
}

// withTimeout adds the default query deadline unless the caller set one.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// Migrate creates the tables when they do not exist yet.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS saved_countries (
			cca3     VARCHAR(3)   NOT NULL PRIMARY KEY,
			name     VARCHAR(255) NOT NULL,
			region   VARCHAR(100),
			flag_url VARCHAR(512)
		)`,
		`CREATE TABLE IF NOT EXISTS weather_raw_records (
			id              BIGINT      NOT NULL AUTO_INCREMENT PRIMARY KEY,
			cca3            VARCHAR(3)  NOT NULL,
			fetched_at      DATETIME(6) NOT NULL,
			upstream_status INT         NOT NULL,
			payload         JSON,
			KEY idx_raw_cca3 (cca3)
		)`,
		`CREATE TABLE IF NOT EXISTS weather_cleaned_records (
			cca3             VARCHAR(3)  NOT NULL PRIMARY KEY,
			temperature      DOUBLE      NULL,
			windspeed        DOUBLE      NULL,
			measurement_time DATETIME(6) NOT NULL,
			last_updated     DATETIME(6) NOT NULL,
			validity         VARCHAR(32) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pipeline_run_logs (
			run_id      CHAR(36)     NOT NULL PRIMARY KEY,
			started_at  DATETIME(6)  NOT NULL,
			finished_at DATETIME(6)  NOT NULL,
			statuses    JSON         NOT NULL,
			backup_ref  VARCHAR(512) NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) AppendRaw(ctx context.Context, rec weather.RawRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payload := rec.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO weather_raw_records (cca3, fetched_at, upstream_status, payload) VALUES (?, ?, ?, ?)`,
		rec.Code, rec.FetchedAt.UTC(), rec.UpstreamStatus, payload,
	)
	if err != nil {
		return fmt.Errorf("insert raw record: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetCleaned(ctx context.Context, code string) (weather.CleanedRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT cca3, temperature, windspeed, measurement_time, last_updated, validity
		 FROM weather_cleaned_records WHERE cca3 = ?`, code)
	return scanCleaned(row)
}

func (s *MySQLStore) UpsertCleaned(ctx context.Context, rec weather.CleanedRecord) (weather.CleanedRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// GREATEST keeps last_updated monotonic even when two writers race or a
	// forced refresh carries an older local timestamp.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO weather_cleaned_records (cca3, temperature, windspeed, measurement_time, last_updated, validity)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
			temperature      = VALUES(temperature),
			windspeed        = VALUES(windspeed),
			measurement_time = VALUES(measurement_time),
			last_updated     = GREATEST(last_updated, VALUES(last_updated)),
			validity         = VALUES(validity)`,
		rec.Code, nullFloat(rec.Temperature), nullFloat(rec.Windspeed),
		rec.MeasurementTime.UTC(), rec.LastUpdated.UTC(), string(rec.Validity),
	)
	if err != nil {
		return weather.CleanedRecord{}, fmt.Errorf("upsert cleaned record: %w", err)
	}

	return s.GetCleaned(ctx, rec.Code)
}

func (s *MySQLStore) TrackedCodes(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT cca3 FROM weather_raw_records
		 UNION SELECT cca3 FROM weather_cleaned_records
		 ORDER BY cca3`)
	if err != nil {
		return nil, fmt.Errorf("list tracked codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *MySQLStore) AppendRunLog(ctx context.Context, rl weather.RunLog) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	statuses, err := json.Marshal(rl.Statuses)
	if err != nil {
		return fmt.Errorf("marshal run statuses: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_run_logs (run_id, started_at, finished_at, statuses, backup_ref)
		 VALUES (?, ?, ?, ?, ?)`,
		rl.RunID, rl.StartedAt.UTC(), rl.FinishedAt.UTC(), statuses, rl.BackupRef,
	)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}

// BackupCleaned writes a CSV snapshot of the cleaned table and returns the
// file path as the backup reference.
func (s *MySQLStore) BackupCleaned(ctx context.Context, runID string) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT cca3, temperature, windspeed, measurement_time, last_updated, validity
		 FROM weather_cleaned_records ORDER BY cca3`)
	if err != nil {
		return "", fmt.Errorf("read cleaned records for backup: %w", err)
	}
	defer rows.Close()

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("backup_cleaned_%s_%s.csv", runID, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(s.backupDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create backup file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"cca3", "temperature", "windspeed", "measurement_time", "last_updated", "validity"}); err != nil {
		return "", err
	}
	for rows.Next() {
		rec, err := scanCleanedRows(rows)
		if err != nil {
			return "", err
		}
		record := []string{
			rec.Code,
			csvFloat(rec.Temperature),
			csvFloat(rec.Windspeed),
			rec.MeasurementTime.Format(time.RFC3339Nano),
			rec.LastUpdated.Format(time.RFC3339Nano),
			string(rec.Validity),
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write backup csv: %w", err)
	}
	return path, nil
}

func (s *MySQLStore) SaveCountry(ctx context.Context, c SavedCountry) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	code, ok := weather.NormalizeCode(c.CCA3)
	if !ok {
		return false, fmt.Errorf("%w: %q", weather.ErrInvalidCountryCode, c.CCA3)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO saved_countries (cca3, name, region, flag_url) VALUES (?, ?, ?, ?)`,
		code, c.Name, c.Region, c.FlagURL,
	)
	if err != nil {
		return false, fmt.Errorf("save country: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *MySQLStore) ListSaved(ctx context.Context) ([]SavedCountry, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT cca3, name, COALESCE(region, ''), COALESCE(flag_url, '')
		 FROM saved_countries ORDER BY region, name`)
	if err != nil {
		return nil, fmt.Errorf("list saved countries: %w", err)
	}
	defer rows.Close()

	var out []SavedCountry
	for rows.Next() {
		var c SavedCountry
		if err := rows.Scan(&c.CCA3, &c.Name, &c.Region, &c.FlagURL); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *MySQLStore) DeleteCountry(ctx context.Context, code string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	norm, ok := weather.NormalizeCode(code)
	if !ok {
		return fmt.Errorf("%w: %q", weather.ErrInvalidCountryCode, code)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_countries WHERE cca3 = ?`, norm)
	if err != nil {
		return fmt.Errorf("delete country: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return weather.ErrNotFound
	}
	return nil
}

func (s *MySQLStore) SavedCodes(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT cca3 FROM saved_countries ORDER BY cca3`)
	if err != nil {
		return nil, fmt.Errorf("list saved codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCleaned(row *sql.Row) (weather.CleanedRecord, error) {
	rec, err := scanCleanedFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return weather.CleanedRecord{}, weather.ErrNotFound
	}
	return rec, err
}

func scanCleanedRows(rows *sql.Rows) (weather.CleanedRecord, error) {
	return scanCleanedFrom(rows)
}

func scanCleanedFrom(row rowScanner) (weather.CleanedRecord, error) {
	var (
		rec        weather.CleanedRecord
		temp, wind sql.NullFloat64
		validity   string
	)
	if err := row.Scan(&rec.Code, &temp, &wind, &rec.MeasurementTime, &rec.LastUpdated, &validity); err != nil {
		return weather.CleanedRecord{}, err
	}
	if temp.Valid {
		rec.Temperature = &temp.Float64
	}
	if wind.Valid {
		rec.Windspeed = &wind.Float64
	}
	rec.Validity = weather.Validity(validity)
	return rec, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
