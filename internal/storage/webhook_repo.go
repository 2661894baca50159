package storage

import (
	"database/sql"

	"github.com/google/uuid"

	"pulsewatch/internal/models"
)

type WebhookRepo struct {
	db *sql.DB
}

func NewWebhookRepo(db *sql.DB) *WebhookRepo { return &WebhookRepo{db: db} }

// Add registers a delivery target. Empty filters default to the wildcard.
func (r *WebhookRepo) Add(w models.Webhook) (models.Webhook, error) {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.Group == "" {
		w.Group = "*"
	}
	if w.Name == "" {
		w.Name = "*"
	}
	_, err := r.db.Exec(`
		INSERT INTO webhooks(id, grp, name, url, secret, enabled) VALUES(?, ?, ?, ?, ?, ?)
	`, w.ID, w.Group, w.Name, w.URL, w.Secret, boolInt(w.Enabled))
	if err != nil {
		return models.Webhook{}, err
	}
	return w, nil
}

// Enabled returns every enabled webhook registration.
func (r *WebhookRepo) Enabled() ([]models.Webhook, error) {
	rows, err := r.db.Query("SELECT id, grp, name, url, secret, enabled FROM webhooks WHERE enabled = 1")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []models.Webhook
	for rows.Next() {
		var (
			w          models.Webhook
			enabledInt int
		)
		if err := rows.Scan(&w.ID, &w.Group, &w.Name, &w.URL, &w.Secret, &enabledInt); err != nil {
			return nil, err
		}
		w.Enabled = enabledInt == 1
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

func (r *WebhookRepo) SetEnabled(id string, enabled bool) error {
	_, err := r.db.Exec("UPDATE webhooks SET enabled = ? WHERE id = ?", boolInt(enabled), id)
	return err
}

func (r *WebhookRepo) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM webhooks WHERE id = ?", id)
	return err
}
