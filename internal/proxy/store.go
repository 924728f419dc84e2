package proxy

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// HealthStore persists endpoint probe counters across runs so ranking can
// draw on history instead of starting cold every time. Losing the store only
// degrades ranking quality; nothing else depends on it.
type HealthStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// OpenHealthStore opens (creating if needed) the sqlite health database.
func OpenHealthStore(logger *zap.Logger, path string) (*HealthStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create health store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open health store: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS proxy_health (
		key TEXT PRIMARY KEY,
		success_count INTEGER NOT NULL DEFAULT 0,
		fail_count INTEGER NOT NULL DEFAULT 0,
		exit_ip TEXT NOT NULL DEFAULT '',
		last_tested TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create health table: %w", err)
	}

	return &HealthStore{logger: logger.Named("health_store"), db: db}, nil
}

// Seed merges persisted counters into freshly loaded endpoints, ahead of
// validation, so previously known-good proxies rank above strangers.
func (hs *HealthStore) Seed(endpoints []*Endpoint) error {
	stmt, err := hs.db.Prepare(
		"SELECT success_count, fail_count FROM proxy_health WHERE key = ?")
	if err != nil {
		return fmt.Errorf("prepare health lookup: %w", err)
	}
	defer stmt.Close()

	seeded := 0
	for _, ep := range endpoints {
		var successes, failures int
		err := stmt.QueryRow(ep.Key()).Scan(&successes, &failures)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("health lookup for %s: %w", ep.Key(), err)
		}
		ep.seedHealth(successes, failures)
		seeded++
	}

	hs.logger.Debug("Seeded endpoint health from store.",
		zap.Int("seeded", seeded), zap.Int("total", len(endpoints)))
	return nil
}

// Record upserts the current counters of every endpoint. Called after
// validation and again when a run completes.
func (hs *HealthStore) Record(endpoints []*Endpoint) error {
	tx, err := hs.db.Begin()
	if err != nil {
		return fmt.Errorf("begin health transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO proxy_health (key, success_count, fail_count, exit_ip, last_tested)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			success_count = excluded.success_count,
			fail_count = excluded.fail_count,
			exit_ip = excluded.exit_ip,
			last_tested = excluded.last_tested`)
	if err != nil {
		return fmt.Errorf("prepare health upsert: %w", err)
	}
	defer stmt.Close()

	for _, ep := range endpoints {
		h := ep.Health()
		var tested any
		if !h.LastTested.IsZero() {
			tested = h.LastTested
		}
		if _, err := stmt.Exec(ep.Key(), h.SuccessCount, h.FailCount, h.ExitIP, tested); err != nil {
			return fmt.Errorf("health upsert for %s: %w", ep.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit health transaction: %w", err)
	}
	return nil
}

// HealthSummary aggregates the persisted probe counters across all known
// endpoints.
type HealthSummary struct {
	TrackedProxies int       `json:"trackedProxies"`
	Healthy        int       `json:"healthy"`
	LastTested     time.Time `json:"lastTested"`
}

// Summary reports how many endpoints the store knows about and how many of
// them have more recorded successes than failures.
func (hs *HealthStore) Summary() (HealthSummary, error) {
	var (
		summary HealthSummary
		tested  sql.NullTime
	)
	row := hs.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success_count > fail_count THEN 1 ELSE 0 END), 0),
		       MAX(last_tested)
		FROM proxy_health`)
	if err := row.Scan(&summary.TrackedProxies, &summary.Healthy, &tested); err != nil {
		return HealthSummary{}, fmt.Errorf("summarize health store: %w", err)
	}
	if tested.Valid {
		summary.LastTested = tested.Time
	}
	return summary, nil
}

// Prune deletes entries not tested within the retention window.
func (hs *HealthStore) Prune(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	res, err := hs.db.Exec(
		"DELETE FROM proxy_health WHERE last_tested IS NULL OR last_tested < ?", cutoff)
	if err != nil {
		return fmt.Errorf("prune health store: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		hs.logger.Debug("Pruned stale health entries.", zap.Int64("removed", n))
	}
	return nil
}

// Close releases the underlying database.
func (hs *HealthStore) Close() error {
	return hs.db.Close()
}
