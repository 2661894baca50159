package checker

import (
	"context"
	"fmt"
	"net/http"

	"pulsewatch/internal/models"
)

// StatusCheck probes an HTTP endpoint and judges purely by status code.
type StatusCheck struct {
	Client *http.Client
}

func (c *StatusCheck) Run(ctx context.Context, cfg models.Configuration) models.Report {
	code, body, err := fetch(ctx, c.Client, cfg)
	if err != nil {
		return transportReport(ctx, cfg, err)
	}

	if code < 200 || code > 299 {
		return models.Report{
			Config:  cfg,
			State:   models.Unhealthy,
			Message: fmt.Sprintf("status code %d", code),
			Error:   fmt.Sprintf("status code %d", code),
			Body:    body,
		}
	}

	// Healthy responses drop the body to bound storage.
	return models.Report{
		Config:  cfg,
		State:   models.Healthy,
		Message: fmt.Sprintf("status code %d", code),
	}
}
