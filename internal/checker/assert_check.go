package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"pulsewatch/internal/models"
)

// BodyCheck asserts that the response body contains the configured
// comparison value.
type BodyCheck struct {
	Client *http.Client
}

func (c *BodyCheck) Run(ctx context.Context, cfg models.Configuration) models.Report {
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

	if !strings.Contains(body, cfg.Comparison) {
		return models.Report{
			Config:  cfg,
			State:   models.Unhealthy,
			Message: fmt.Sprintf("%q not found in response", cfg.Comparison),
			Body:    body,
		}
	}

	return models.Report{
		Config:  cfg,
		State:   models.Healthy,
		Message: fmt.Sprintf("%q found in response", cfg.Comparison),
	}
}

// JSONCheck deserialises the response and compares one field against the
// configured value. The comparison is "path=expected" where path is a
// dot-separated route into the document.
type JSONCheck struct {
	Client *http.Client
}

func (c *JSONCheck) Run(ctx context.Context, cfg models.Configuration) models.Report {
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

	path, expected, ok := strings.Cut(cfg.Comparison, "=")
	if !ok {
		return models.Report{
			Config:  cfg,
			State:   models.Unhealthy,
			Message: "invalid comparison, want path=value",
			Error:   cfg.Comparison,
		}
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return models.Report{
			Config:  cfg,
			State:   models.Unhealthy,
			Message: "deserialization error",
			Error:   err.Error(),
			Body:    body,
		}
	}

	actual, found := lookupPath(doc, strings.Split(path, "."))
	if !found {
		return models.Report{
			Config:  cfg,
			State:   models.Unhealthy,
			Message: fmt.Sprintf("field %q not present", path),
			Body:    body,
		}
	}
	if fmt.Sprintf("%v", actual) != expected {
		return models.Report{
			Config:  cfg,
			State:   models.Unhealthy,
			Message: fmt.Sprintf("%s is %v, expected %s", path, actual, expected),
			Body:    body,
		}
	}

	return models.Report{
		Config:  cfg,
		State:   models.Healthy,
		Message: fmt.Sprintf("%s is %s", path, expected),
	}
}

func lookupPath(doc any, path []string) (any, bool) {
	cur := doc
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
