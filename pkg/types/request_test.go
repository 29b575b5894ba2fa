package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestClone(t *testing.T) {
	req := &Request{
		ID:           "req-1",
		Content:      "hello",
		Capabilities: []string{"text-generation"},
		Features:     []string{"streaming"},
		Metadata:     Metadata{"tier": "pro"},
	}

	clone := req.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, req, clone)

	clone.Capabilities[0] = "vision"
	clone.Features = append(clone.Features, "tools")
	clone.Metadata["tier"] = "free"

	assert.Equal(t, "text-generation", req.Capabilities[0])
	assert.Len(t, req.Features, 1)
	assert.Equal(t, "pro", req.Metadata["tier"])
}

func TestRequestCloneNil(t *testing.T) {
	var req *Request
	assert.Nil(t, req.Clone())
}

func TestRequestMetadataHelpers(t *testing.T) {
	req := &Request{}
	req.WithMetadata("cost", 3).WithMetadata("region", "eu")

	cost, ok := req.MetadataFloat("cost")
	assert.True(t, ok)
	assert.Equal(t, 3.0, cost)
	assert.Equal(t, "eu", req.MetadataString("region"))
	assert.Equal(t, "", req.MetadataString("cost"))

	_, ok = req.MetadataFloat("missing")
	assert.False(t, ok)
}

func TestRequestHasFeature(t *testing.T) {
	req := &Request{Features: []string{"streaming", "tools"}}
	assert.True(t, req.HasFeature("tools"))
	assert.False(t, req.HasFeature("vision"))
}

func TestHealthStatusIsUsable(t *testing.T) {
	tests := []struct {
		status HealthStatus
		usable bool
	}{
		{HealthStatusHealthy, true},
		{HealthStatusDegraded, true},
		{HealthStatusUnhealthy, false},
		{HealthStatusOffline, false},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.usable, tt.status.IsUsable())
		})
	}
}

func TestResponseIsDegraded(t *testing.T) {
	var nilResp *Response
	assert.False(t, nilResp.IsDegraded())
	assert.False(t, (&Response{}).IsDegraded())
	assert.True(t, (&Response{Degradation: &DegradationInfo{Degraded: true}}).IsDegraded())
}
