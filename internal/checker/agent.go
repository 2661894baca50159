package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"pulsewatch/internal/models"
)

// MetricsAgent queries one resource endpoint for machine metrics and fans
// the samples out to every configuration pointed at that resource. Agent
// reports carry numeric data instead of a health verdict; a failed query
// yields reports without metrics.
type MetricsAgent struct {
	Client *http.Client
}

func (a *MetricsAgent) Run(ctx context.Context, cfgs []models.Configuration) []models.Report {
	if len(cfgs) == 0 {
		return nil
	}

	code, body, err := fetch(ctx, a.Client, cfgs[0])
	if err != nil {
		return agentFailure(cfgs, err.Error())
	}
	if code < 200 || code > 299 {
		return agentFailure(cfgs, fmt.Sprintf("status code %d", code))
	}

	var payload struct {
		CPU    float64 `json:"cpu"`
		Memory float64 `json:"memory"`
		IO     float64 `json:"io"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return agentFailure(cfgs, "deserialization error: "+err.Error())
	}

	reports := make([]models.Report, 0, len(cfgs))
	for _, cfg := range cfgs {
		reports = append(reports, models.Report{
			Config:  cfg,
			State:   models.Unknown,
			Message: fmt.Sprintf("cpu %.1f%% memory %.1f%%", payload.CPU, payload.Memory),
			Metrics: &models.AgentMetrics{CPU: payload.CPU, Memory: payload.Memory, IO: payload.IO},
		})
	}
	return reports
}

// DeployAgent queries one resource for its most recent deployment and
// reports it for every subscribed configuration. A deployment change shows
// up as a new span with the deployment id as message.
type DeployAgent struct {
	Client *http.Client
}

func (a *DeployAgent) Run(ctx context.Context, cfgs []models.Configuration) []models.Report {
	if len(cfgs) == 0 {
		return nil
	}

	code, body, err := fetch(ctx, a.Client, cfgs[0])
	if err != nil {
		return agentFailure(cfgs, err.Error())
	}
	if code < 200 || code > 299 {
		return agentFailure(cfgs, fmt.Sprintf("status code %d", code))
	}

	var deployments []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(body), &deployments); err != nil {
		return agentFailure(cfgs, "deserialization error: "+err.Error())
	}

	message := "no deployments"
	if len(deployments) > 0 {
		message = fmt.Sprintf("deployment %s %s", deployments[0].ID, deployments[0].Status)
	}

	reports := make([]models.Report, 0, len(cfgs))
	for _, cfg := range cfgs {
		reports = append(reports, models.Report{
			Config:  cfg,
			State:   models.Unknown,
			Message: message,
		})
	}
	return reports
}

func agentFailure(cfgs []models.Configuration, detail string) []models.Report {
	reports := make([]models.Report, 0, len(cfgs))
	for _, cfg := range cfgs {
		reports = append(reports, models.Report{
			Config:  cfg,
			State:   models.Unknown,
			Message: "agent query failed",
			Error:   detail,
		})
	}
	return reports
}
