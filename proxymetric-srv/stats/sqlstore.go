package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
	"github.com/google/uuid"
)

// sqlStore holds the queries shared by the SQL backends. Queries are
// written with ? placeholders and rebound for postgres.
type sqlStore struct {
	db     *sql.DB
	driver string
}

func (s *sqlStore) bind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// StartRun records the start of an analysis run under a fresh UUID
func (s *sqlStore) StartRun(ctx context.Context, source string) (*Run, error) {
	run := &Run{
		UUID:      uuid.NewString(),
		Source:    source,
		StartedAt: time.Now().UTC(),
	}
	err := s.db.QueryRowContext(ctx,
		s.bind(`INSERT INTO runs (run_uuid, source, started_at) VALUES (?, ?, ?) RETURNING id`),
		run.UUID, run.Source, run.StartedAt).Scan(&run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}
	logger.Debug("Started run %s (id %d) for %s", run.UUID, run.ID, source)
	return run, nil
}

// EndRun records the end of a run and its pass tally
func (s *sqlStore) EndRun(ctx context.Context, run *Run, passesOK, passesFailed int) error {
	_, err := s.db.ExecContext(ctx,
		s.bind(`UPDATE runs SET ended_at = ?, passes_ok = ?, passes_failed = ? WHERE run_uuid = ?`),
		time.Now().UTC(), passesOK, passesFailed, run.UUID)
	if err != nil {
		return fmt.Errorf("failed to record run end: %w", err)
	}
	return nil
}

// RecordValue stores one result value as JSON
func (s *sqlStore) RecordValue(ctx context.Context, run *Run, page, name, units string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		s.bind(`INSERT INTO metric_values (run_uuid, page, name, units, value, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		run.UUID, page, name, units, string(encoded), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record value %s: %w", name, err)
	}
	return nil
}

// RecordValidationFailure stores a failed pass
func (s *sqlStore) RecordValidationFailure(ctx context.Context, run *Run, failure ValidationFailure) error {
	urls, err := json.Marshal(failure.URLs)
	if err != nil {
		return fmt.Errorf("failed to encode failure URLs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.bind(`INSERT INTO validation_failures (run_uuid, page, pass, code, description, urls, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		run.UUID, failure.Page, failure.Pass, failure.Code, failure.Description, string(urls), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record validation failure: %w", err)
	}
	return nil
}

// GetRunValues returns the values of a run in insertion order
func (s *sqlStore) GetRunValues(ctx context.Context, runUUID string) (values []MetricValue, err error) {
	rows, err := s.db.QueryContext(ctx,
		s.bind(`SELECT run_uuid, page, name, units, value, recorded_at
		 FROM metric_values WHERE run_uuid = ? ORDER BY id`), runUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run values: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	values = []MetricValue{}
	for rows.Next() {
		var v MetricValue
		var raw string
		if err := rows.Scan(&v.RunUUID, &v.Page, &v.Name, &v.Units, &raw, &v.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run value: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &v.Value); err != nil {
			return nil, fmt.Errorf("failed to decode value %s: %w", v.Name, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// GetRecentFailures returns the latest validation failures, newest first
func (s *sqlStore) GetRecentFailures(ctx context.Context, limit int) (failures []ValidationFailure, err error) {
	rows, err := s.db.QueryContext(ctx,
		s.bind(`SELECT run_uuid, page, pass, code, description, urls, recorded_at
		 FROM validation_failures ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query validation failures: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	failures = []ValidationFailure{}
	for rows.Next() {
		var f ValidationFailure
		var description, urls sql.NullString
		if err := rows.Scan(&f.RunUUID, &f.Page, &f.Pass, &f.Code, &description, &urls, &f.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan validation failure: %w", err)
		}
		f.Description = description.String
		if urls.Valid && urls.String != "" {
			if err := json.Unmarshal([]byte(urls.String), &f.URLs); err != nil {
				return nil, fmt.Errorf("failed to decode failure URLs: %w", err)
			}
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// HealthCheck pings the database
func (s *sqlStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *sqlStore) Close() error {
	return s.db.Close()
}
