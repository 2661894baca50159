package storage

import (
	"database/sql"
	"time"

	"pulsewatch/internal/models"
)

// PulseRepo maintains the current-state table plus the bounded recent_pulses
// duplicate used for fast dashboard reads and event replay. The two sinks are
// written best-effort adjacent, not transactionally.
type PulseRepo struct {
	db *sql.DB
}

func NewPulseRepo(db *sql.DB) *PulseRepo { return &PulseRepo{db: db} }

// Get loads the current pulse for a sqid. The second return is false when no
// span has been recorded yet.
func (r *PulseRepo) Get(sqid string) (models.Pulse, bool, error) {
	row := r.db.QueryRow(`
		SELECT sqid, grp, name, state, message, error, created, last_updated, last_elapsed_ms
		FROM pulses WHERE sqid = ?
	`, sqid)
	p, err := scanPulse(row.Scan)
	if err == sql.ErrNoRows {
		return models.Pulse{}, false, nil
	}
	if err != nil {
		return models.Pulse{}, false, err
	}
	return p, true, nil
}

// Put writes a fresh span row, replacing whatever was there. The replace is
// idempotent under queue redelivery.
func (r *PulseRepo) Put(p models.Pulse) error {
	_, err := r.db.Exec(`
		INSERT INTO pulses(sqid, grp, name, state, message, error, created, last_updated, last_elapsed_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sqid) DO UPDATE SET
			grp = excluded.grp, name = excluded.name, state = excluded.state,
			message = excluded.message, error = excluded.error, created = excluded.created,
			last_updated = excluded.last_updated, last_elapsed_ms = excluded.last_elapsed_ms
	`, p.Sqid, p.Group, p.Name, string(p.State), p.Message, p.Error,
		p.Created.Unix(), p.LastUpdated.Unix(), p.LastElapsedMS)
	return err
}

// Extend bumps last_updated and last_elapsed_ms of the current span using a
// conditional replace. It returns false when another writer got there first;
// the caller re-reads and retries once.
func (r *PulseRepo) Extend(sqid string, expectedLastUpdated, lastUpdated time.Time, elapsedMS int64) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE pulses SET last_updated = ?, last_elapsed_ms = ?
		WHERE sqid = ? AND last_updated = ?
	`, lastUpdated.Unix(), elapsedMS, sqid, expectedLastUpdated.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// All returns every current pulse row ordered by group then name.
func (r *PulseRepo) All() ([]models.Pulse, error) {
	rows, err := r.db.Query(`
		SELECT sqid, grp, name, state, message, error, created, last_updated, last_elapsed_ms
		FROM pulses ORDER BY grp, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPulses(rows)
}

// InsertRecent appends a span row to the recent duplicate table.
func (r *PulseRepo) InsertRecent(p models.Pulse) error {
	_, err := r.db.Exec(`
		INSERT INTO recent_pulses(sqid, grp, name, state, message, error, created, last_updated, last_elapsed_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Sqid, p.Group, p.Name, string(p.State), p.Message, p.Error,
		p.Created.Unix(), p.LastUpdated.Unix(), p.LastElapsedMS)
	return err
}

// Recent returns the recent rows created within the window, newest first.
func (r *PulseRepo) Recent(window time.Duration, now time.Time) ([]models.Pulse, error) {
	cutoff := now.Add(-window).Unix()
	rows, err := r.db.Query(`
		SELECT sqid, grp, name, state, message, error, created, last_updated, last_elapsed_ms
		FROM recent_pulses WHERE created >= ? ORDER BY created DESC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPulses(rows)
}

// PruneRecent drops recent rows older than the retention window.
func (r *PulseRepo) PruneRecent(retention time.Duration, now time.Time) error {
	cutoff := now.Add(-retention).Unix()
	_, err := r.db.Exec("DELETE FROM recent_pulses WHERE created < ?", cutoff)
	return err
}

func scanPulses(rows *sql.Rows) ([]models.Pulse, error) {
	var pulses []models.Pulse
	for rows.Next() {
		p, err := scanPulse(rows.Scan)
		if err != nil {
			return nil, err
		}
		pulses = append(pulses, p)
	}
	return pulses, rows.Err()
}

func scanPulse(scan func(...any) error) (models.Pulse, error) {
	var (
		p                    models.Pulse
		state                string
		created, lastUpdated int64
	)
	err := scan(&p.Sqid, &p.Group, &p.Name, &state, &p.Message, &p.Error, &created, &lastUpdated, &p.LastElapsedMS)
	if err != nil {
		return models.Pulse{}, err
	}
	p.State = models.State(state)
	p.Created = time.Unix(created, 0).UTC()
	p.LastUpdated = time.Unix(lastUpdated, 0).UTC()
	return p, nil
}
