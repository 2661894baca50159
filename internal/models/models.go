package models

import "time"

// State is the health state of a monitored target.
type State string

const (
	Healthy   State = "healthy"
	Degraded  State = "degraded"
	Unhealthy State = "unhealthy"
	TimedOut  State = "timedout"
	Unknown   State = "unknown"
)

// Code returns the single-character wire code used by the time-series grammar.
func (s State) Code() byte {
	switch s {
	case Healthy:
		return 'H'
	case Degraded:
		return 'D'
	case Unhealthy:
		return 'U'
	case TimedOut:
		return 'T'
	default:
		return 'X'
	}
}

// StateFromCode is the inverse of Code. Unrecognised codes map to Unknown.
func StateFromCode(c byte) State {
	switch c {
	case 'H':
		return Healthy
	case 'D':
		return Degraded
	case 'U':
		return Unhealthy
	case 'T':
		return TimedOut
	default:
		return Unknown
	}
}

// Check type identifiers dispatched by the scheduler.
const (
	TypeStatus  = "status"
	TypeBody    = "body"
	TypeJSON    = "json"
	TypeSQL     = "sql"
	TypeMetrics = "metrics"
	TypeDeploy  = "deploy"
)

// Configuration describes one monitored target. It is owned by the admin
// surface; the core only reads it.
type Configuration struct {
	Sqid                 string            `json:"sqid"`
	Group                string            `json:"group"`
	Name                 string            `json:"name"`
	Type                 string            `json:"type"`
	Location             string            `json:"location"`
	TimeoutMS            int               `json:"timeout_ms"`
	DegradationTimeoutMS int               `json:"degradation_timeout_ms,omitempty"`
	Enabled              bool              `json:"enabled"`
	Headers              map[string]string `json:"headers,omitempty"`
	Comparison           string            `json:"comparison,omitempty"`
	AppID                string            `json:"app_id,omitempty"`
	SubscriptionID       string            `json:"subscription_id,omitempty"`
}

// IsAgent reports whether the configuration is served by a batch agent
// rather than a single-target check.
func (c Configuration) IsAgent() bool {
	return c.Type == TypeMetrics || c.Type == TypeDeploy
}

// AgentMetrics carries the numeric samples an agent produces instead of a
// health state.
type AgentMetrics struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	IO     float64 `json:"io"`
}

// Report is the transient result of one check execution.
type Report struct {
	Config  Configuration `json:"config"`
	State   State         `json:"state"`
	Message string        `json:"message"`
	Error   string        `json:"error,omitempty"`
	// Body holds the raw response and is only retained for non-healthy
	// reports to bound storage growth.
	Body    string        `json:"body,omitempty"`
	Metrics *AgentMetrics `json:"metrics,omitempty"`
}

// Pulse is the current-state row for one sqid. It represents one span:
// a maximal contiguous run of checks sharing state, message and error.
type Pulse struct {
	Sqid          string    `json:"sqid"`
	Group         string    `json:"group"`
	Name          string    `json:"name"`
	State         State     `json:"state"`
	Message       string    `json:"message"`
	Error         string    `json:"error,omitempty"`
	Created       time.Time `json:"created"`
	LastUpdated   time.Time `json:"last_updated"`
	LastElapsedMS int64     `json:"last_elapsed_ms"`
}

// Token is the continuation token derived from the span's creation time.
func (p Pulse) Token() string {
	return p.Created.UTC().Format(time.RFC3339)
}

// Detail is one physical check execution in the time series. ElapsedMS is
// nil when no timing information was captured, which is distinct from zero.
type Detail struct {
	State     State  `json:"state"`
	Unix      int64  `json:"unix"`
	ElapsedMS *int64 `json:"elapsed_ms,omitempty"`
}

// AgentSample is one agent metric observation in the companion series.
type AgentSample struct {
	Unix   int64   `json:"unix"`
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
}

// DayContainer is the per-day, per-sqid append container for check details.
type DayContainer struct {
	Day     string   `json:"day"`
	Sqid    string   `json:"sqid"`
	Group   string   `json:"group"`
	Name    string   `json:"name"`
	Details []Detail `json:"details"`
}

// AgentContainer is the per-day, per-sqid append container for agent samples.
type AgentContainer struct {
	Day     string        `json:"day"`
	Sqid    string        `json:"sqid"`
	Samples []AgentSample `json:"samples"`
}

// PulseEvent is what the event bus delivers on every processed report.
type PulseEvent struct {
	Sqid      string    `json:"sqid"`
	Group     string    `json:"group"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	ElapsedMS int64     `json:"elapsed_ms"`
}

// ChangeEvent is the webhook payload emitted when a span closes.
type ChangeEvent struct {
	Sqid            string    `json:"sqid"`
	Group           string    `json:"group"`
	Name            string    `json:"name"`
	OldState        State     `json:"oldState"`
	NewState        State     `json:"newState"`
	Timestamp       time.Time `json:"timestamp"`
	DurationMinutes float64   `json:"durationMinutes"`
	Message         string    `json:"message"`
}

// ThresholdEvent is the webhook payload emitted when the consecutive-failure
// counter reaches the configured threshold.
type ThresholdEvent struct {
	Sqid           string    `json:"sqid"`
	Group          string    `json:"group"`
	Name           string    `json:"name"`
	Since          time.Time `json:"since"`
	ThresholdCount int       `json:"thresholdCount"`
}

// Envelope is the serialized unit carried by the ingestion queue.
type Envelope struct {
	Report    Report    `json:"report"`
	ElapsedMS int64     `json:"elapsed_ms"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Webhook event kinds carried by the webhook queue.
const (
	EventStateChanged = "state-changed"
	EventThreshold    = "threshold"
)

// WebhookEnvelope is the serialized unit carried by the webhook queue.
// Exactly one of Change and Threshold is set, selected by Kind.
type WebhookEnvelope struct {
	Kind      string          `json:"kind"`
	Change    *ChangeEvent    `json:"change,omitempty"`
	Threshold *ThresholdEvent `json:"threshold,omitempty"`
}

// Webhook is a registered delivery target. Group and Name filters are exact
// matches or the wildcard "*".
type Webhook struct {
	ID      string `json:"id"`
	Group   string `json:"group"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Secret  string `json:"-"`
	Enabled bool   `json:"enabled"`
}

// Matches reports whether the webhook's filters accept the given event
// coordinates.
func (w Webhook) Matches(group, name string) bool {
	return (w.Group == "*" || w.Group == group) && (w.Name == "*" || w.Name == name)
}
