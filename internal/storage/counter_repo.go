package storage

import (
	"database/sql"
	"time"
)

// CounterRepo tracks consecutive-failure counts per sqid. The counter lives
// in its own table so it survives process restarts.
type CounterRepo struct {
	db *sql.DB
}

func NewCounterRepo(db *sql.DB) *CounterRepo { return &CounterRepo{db: db} }

// Bump increments the counter and returns the new count together with the
// start of the failure window. The window opens when the count leaves zero.
func (r *CounterRepo) Bump(sqid string, now time.Time) (int, time.Time, error) {
	_, err := r.db.Exec(`
		INSERT INTO counters(sqid, failures, since) VALUES(?, 1, ?)
		ON CONFLICT(sqid) DO UPDATE SET
			failures = failures + 1,
			since = CASE WHEN counters.failures = 0 THEN excluded.since ELSE counters.since END
	`, sqid, now.Unix())
	if err != nil {
		return 0, time.Time{}, err
	}

	var (
		failures int
		since    int64
	)
	row := r.db.QueryRow("SELECT failures, since FROM counters WHERE sqid = ?", sqid)
	if err := row.Scan(&failures, &since); err != nil {
		return 0, time.Time{}, err
	}
	return failures, time.Unix(since, 0).UTC(), nil
}

// Reset zeroes the counter. Healthy reports always reset, never decrement.
func (r *CounterRepo) Reset(sqid string) error {
	_, err := r.db.Exec(`
		INSERT INTO counters(sqid, failures, since) VALUES(?, 0, 0)
		ON CONFLICT(sqid) DO UPDATE SET failures = 0, since = 0
	`, sqid)
	return err
}

// Get returns the current count, zero when the sqid has never failed.
func (r *CounterRepo) Get(sqid string) (int, error) {
	var failures int
	row := r.db.QueryRow("SELECT failures FROM counters WHERE sqid = ?", sqid)
	err := row.Scan(&failures)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return failures, nil
}
