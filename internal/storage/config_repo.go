package storage

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"pulsewatch/internal/models"
)

type ConfigRepo struct {
	db *sql.DB
}

func NewConfigRepo(db *sql.DB) *ConfigRepo { return &ConfigRepo{db: db} }

const sqidAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// newSqid generates a short random identifier. Uniqueness is enforced by the
// primary key; Add retries on collision.
func newSqid() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate sqid: %w", err)
	}
	for i, b := range buf {
		buf[i] = sqidAlphabet[int(b)%len(sqidAlphabet)]
	}
	return string(buf), nil
}

// Add inserts a configuration, assigning a fresh sqid. A sqid is assigned
// exactly once and never reused, even after the configuration is deleted.
func (r *ConfigRepo) Add(cfg models.Configuration) (models.Configuration, error) {
	headersJSON, err := json.Marshal(cfg.Headers)
	if err != nil {
		return models.Configuration{}, fmt.Errorf("marshal headers: %w", err)
	}

	for attempt := 0; attempt < 5; attempt++ {
		sqid, err := newSqid()
		if err != nil {
			return models.Configuration{}, err
		}
		_, err = r.db.Exec(`
			INSERT INTO configurations(sqid, grp, name, type, location, timeout_ms, degradation_timeout_ms, enabled, headers, comparison, app_id, subscription_id)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sqid, cfg.Group, cfg.Name, cfg.Type, cfg.Location, cfg.TimeoutMS, cfg.DegradationTimeoutMS,
			boolInt(cfg.Enabled), string(headersJSON), cfg.Comparison, cfg.AppID, cfg.SubscriptionID)
		if err == nil {
			cfg.Sqid = sqid
			return cfg, nil
		}
		if isUniqueViolation(err) && attempt < 4 {
			continue
		}
		return models.Configuration{}, err
	}
	return models.Configuration{}, fmt.Errorf("could not assign a unique sqid")
}

const configColumns = "sqid, grp, name, type, location, timeout_ms, degradation_timeout_ms, enabled, headers, comparison, app_id, subscription_id"

// GetEnabled returns every enabled configuration, agents included.
func (r *ConfigRepo) GetEnabled() ([]models.Configuration, error) {
	rows, err := r.db.Query("SELECT " + configColumns + " FROM configurations WHERE enabled = 1")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConfigs(rows)
}

func (r *ConfigRepo) GetBySqid(sqid string) (models.Configuration, error) {
	row := r.db.QueryRow("SELECT "+configColumns+" FROM configurations WHERE sqid = ?", sqid)
	return scanConfig(row.Scan)
}

func (r *ConfigRepo) SetEnabled(sqid string, enabled bool) error {
	_, err := r.db.Exec("UPDATE configurations SET enabled = ? WHERE sqid = ?", boolInt(enabled), sqid)
	return err
}

func scanConfigs(rows *sql.Rows) ([]models.Configuration, error) {
	var configs []models.Configuration
	for rows.Next() {
		cfg, err := scanConfig(rows.Scan)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func scanConfig(scan func(...any) error) (models.Configuration, error) {
	var (
		cfg         models.Configuration
		enabledInt  int
		headersJSON string
	)
	err := scan(&cfg.Sqid, &cfg.Group, &cfg.Name, &cfg.Type, &cfg.Location, &cfg.TimeoutMS,
		&cfg.DegradationTimeoutMS, &enabledInt, &headersJSON, &cfg.Comparison, &cfg.AppID, &cfg.SubscriptionID)
	if err != nil {
		return models.Configuration{}, err
	}
	cfg.Enabled = enabledInt == 1
	if headersJSON != "" && headersJSON != "{}" && headersJSON != "null" {
		if err := json.Unmarshal([]byte(headersJSON), &cfg.Headers); err != nil {
			return models.Configuration{}, fmt.Errorf("parse headers for %s: %w", cfg.Sqid, err)
		}
	}
	return cfg, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
