package types

// HealthStatus is the health classification of a provider
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusOffline   HealthStatus = "offline"
)

// IsUsable reports whether requests may be routed to a provider in this status.
// Degraded providers remain usable but are penalized during ranking.
func (s HealthStatus) IsUsable() bool {
	return s == HealthStatusHealthy || s == HealthStatusDegraded
}

// String implements fmt.Stringer
func (s HealthStatus) String() string {
	return string(s)
}

// DegradationInfo annotates a response that was produced on a reduced-quality path
type DegradationInfo struct {
	Degraded         bool     `json:"degraded"`
	Level            string   `json:"level,omitempty"`
	QualityReduction float64  `json:"quality_reduction,omitempty"`
	Reasons          []string `json:"reasons,omitempty"`
	Action           string   `json:"action,omitempty"`

	// Fallback is set when the response is a templated stand-in produced
	// because processing failed while no degradation level was active.
	Fallback bool `json:"fallback,omitempty"`

	// Static is set when every action of the active level failed and the
	// level's canned response was returned.
	Static bool `json:"static,omitempty"`
}
