package storage

import (
	"database/sql"
	"fmt"

	"pulsewatch/internal/models"
	"pulsewatch/internal/series"
)

// SeriesRepo persists the append-only time-series containers: one per day
// and sqid while the day is live, one per year and sqid after archival.
type SeriesRepo struct {
	db *sql.DB
}

func NewSeriesRepo(db *sql.DB) *SeriesRepo { return &SeriesRepo{db: db} }

// AppendDetail grows the day container for the configuration by one record.
// A missing container is created with the detail as its initial value rather
// than surfacing an error.
func (r *SeriesRepo) AppendDetail(day string, cfg models.Configuration, d models.Detail) error {
	res, err := r.db.Exec(`
		UPDATE day_containers SET body = body || ? WHERE day = ? AND sqid = ?
	`, "|"+series.EncodeDetail(d), day, cfg.Sqid)
	if err != nil {
		return fmt.Errorf("append detail %s/%s: %w", day, cfg.Sqid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	body, err := series.EncodeDay(models.DayContainer{
		Day:     day,
		Sqid:    cfg.Sqid,
		Group:   cfg.Group,
		Name:    cfg.Name,
		Details: []models.Detail{d},
	})
	if err != nil {
		return fmt.Errorf("encode day container %s/%s: %w", day, cfg.Sqid, err)
	}
	_, err = r.db.Exec(`
		INSERT INTO day_containers(day, sqid, body) VALUES(?, ?, ?)
		ON CONFLICT(day, sqid) DO UPDATE SET body = day_containers.body || ?
	`, day, cfg.Sqid, body, "|"+series.EncodeDetail(d))
	if err != nil {
		return fmt.Errorf("create day container %s/%s: %w", day, cfg.Sqid, err)
	}
	return nil
}

// AppendAgentSample grows the agent container for the sqid, creating it with
// the sample as initial value when missing.
func (r *SeriesRepo) AppendAgentSample(day, sqid string, s models.AgentSample) error {
	res, err := r.db.Exec(`
		UPDATE agent_containers SET body = body || ? WHERE day = ? AND sqid = ?
	`, "|"+series.EncodeAgentSample(s), day, sqid)
	if err != nil {
		return fmt.Errorf("append agent sample %s/%s: %w", day, sqid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	body, err := series.EncodeAgent(models.AgentContainer{Day: day, Sqid: sqid, Samples: []models.AgentSample{s}})
	if err != nil {
		return fmt.Errorf("encode agent container %s/%s: %w", day, sqid, err)
	}
	_, err = r.db.Exec(`
		INSERT INTO agent_containers(day, sqid, body) VALUES(?, ?, ?)
		ON CONFLICT(day, sqid) DO UPDATE SET body = agent_containers.body || ?
	`, day, sqid, body, "|"+series.EncodeAgentSample(s))
	if err != nil {
		return fmt.Errorf("create agent container %s/%s: %w", day, sqid, err)
	}
	return nil
}

// GetDay decodes the day container for a sqid. The second return is false
// when no container exists.
func (r *SeriesRepo) GetDay(day, sqid string) (models.DayContainer, bool, error) {
	var body string
	row := r.db.QueryRow("SELECT body FROM day_containers WHERE day = ? AND sqid = ?", day, sqid)
	err := row.Scan(&body)
	if err == sql.ErrNoRows {
		return models.DayContainer{}, false, nil
	}
	if err != nil {
		return models.DayContainer{}, false, err
	}
	c, err := series.DecodeDay(body)
	if err != nil {
		return models.DayContainer{}, false, fmt.Errorf("decode day container %s/%s: %w", day, sqid, err)
	}
	return c, true, nil
}

// ContainerKey identifies one stored container row.
type ContainerKey struct {
	Day  string
	Sqid string
}

// StaleDays lists the containers whose day key differs from today. These are
// the archival candidates.
func (r *SeriesRepo) StaleDays(today string) ([]ContainerKey, error) {
	rows, err := r.db.Query("SELECT day, sqid FROM day_containers WHERE day != ?", today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []ContainerKey
	for rows.Next() {
		var k ContainerKey
		if err := rows.Scan(&k.Day, &k.Sqid); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteDay removes a day container after its details were archived.
func (r *SeriesRepo) DeleteDay(day, sqid string) error {
	_, err := r.db.Exec("DELETE FROM day_containers WHERE day = ? AND sqid = ?", day, sqid)
	return err
}

// GetArchive decodes the yearly archive for a sqid.
func (r *SeriesRepo) GetArchive(year, sqid string) (models.DayContainer, bool, error) {
	var body string
	row := r.db.QueryRow("SELECT body FROM archives WHERE year = ? AND sqid = ?", year, sqid)
	err := row.Scan(&body)
	if err == sql.ErrNoRows {
		return models.DayContainer{}, false, nil
	}
	if err != nil {
		return models.DayContainer{}, false, err
	}
	c, err := series.DecodeDay(body)
	if err != nil {
		return models.DayContainer{}, false, fmt.Errorf("decode archive %s/%s: %w", year, sqid, err)
	}
	return c, true, nil
}

// AppendArchiveDetail grows the yearly archive by one record, creating the
// archive when missing. The archive reuses the day grammar with the year as
// its day key.
func (r *SeriesRepo) AppendArchiveDetail(year, sqid, group, name string, d models.Detail) error {
	res, err := r.db.Exec(`
		UPDATE archives SET body = body || ? WHERE year = ? AND sqid = ?
	`, "|"+series.EncodeDetail(d), year, sqid)
	if err != nil {
		return fmt.Errorf("append archive detail %s/%s: %w", year, sqid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	body, err := series.EncodeDay(models.DayContainer{
		Day:     year,
		Sqid:    sqid,
		Group:   group,
		Name:    name,
		Details: []models.Detail{d},
	})
	if err != nil {
		return fmt.Errorf("encode archive %s/%s: %w", year, sqid, err)
	}
	_, err = r.db.Exec(`
		INSERT INTO archives(year, sqid, body) VALUES(?, ?, ?)
		ON CONFLICT(year, sqid) DO UPDATE SET body = archives.body || ?
	`, year, sqid, body, "|"+series.EncodeDetail(d))
	if err != nil {
		return fmt.Errorf("create archive %s/%s: %w", year, sqid, err)
	}
	return nil
}
