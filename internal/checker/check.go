package checker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"pulsewatch/internal/models"
)

// Check executes one configuration and turns the raw response into a report.
// Checks measure, they never record: persistence belongs to the state store.
type Check interface {
	Run(ctx context.Context, cfg models.Configuration) models.Report
}

// Agent answers a batch of configurations that share one underlying
// resource, returning one report per input configuration.
type Agent interface {
	Run(ctx context.Context, cfgs []models.Configuration) []models.Report
}

// ForType returns the check variant for a configuration type.
func ForType(t string, client *http.Client) (Check, bool) {
	switch t {
	case models.TypeStatus:
		return &StatusCheck{Client: client}, true
	case models.TypeBody:
		return &BodyCheck{Client: client}, true
	case models.TypeJSON:
		return &JSONCheck{Client: client}, true
	case models.TypeSQL:
		return &SQLCheck{}, true
	default:
		return nil, false
	}
}

// AgentForType returns the batch variant for an agent configuration type.
func AgentForType(t string, client *http.Client) (Agent, bool) {
	switch t {
	case models.TypeMetrics:
		return &MetricsAgent{Client: client}, true
	case models.TypeDeploy:
		return &DeployAgent{Client: client}, true
	default:
		return nil, false
	}
}

// fetch issues a GET against the configuration's location with its headers
// applied and returns the status code and body.
func fetch(ctx context.Context, client *http.Client, cfg models.Configuration) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Location, nil)
	if err != nil {
		return 0, "", err
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

// transportReport converts a transport-level error into a report.
// Cancellation maps to TimedOut, everything else to Unhealthy.
func transportReport(ctx context.Context, cfg models.Configuration, err error) models.Report {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.Report{
			Config:  cfg,
			State:   models.TimedOut,
			Message: "request timed out after " + (time.Duration(cfg.TimeoutMS) * time.Millisecond).String(),
			Error:   err.Error(),
		}
	}
	return models.Report{
		Config:  cfg,
		State:   models.Unhealthy,
		Message: "request failed",
		Error:   err.Error(),
	}
}
