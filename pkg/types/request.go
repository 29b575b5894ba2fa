package types

import "maps"

// Metadata carries opaque request or response attributes
type Metadata map[string]interface{}

// Request describes one inbound request as seen by the decision pipeline.
// Fields that the pipeline does not interpret are carried in Metadata.
type Request struct {
	ID           string   `json:"id,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	Content      string   `json:"content,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Features     []string `json:"features,omitempty"`
	Metadata     Metadata `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the request's slices and a shallow copy of its metadata
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Capabilities != nil {
		clone.Capabilities = append([]string(nil), r.Capabilities...)
	}
	if r.Features != nil {
		clone.Features = append([]string(nil), r.Features...)
	}
	if r.Metadata != nil {
		clone.Metadata = maps.Clone(r.Metadata)
	}
	return &clone
}

// WithMetadata sets a metadata key, allocating the map if needed, and returns the request for chaining
func (r *Request) WithMetadata(key string, value interface{}) *Request {
	if r.Metadata == nil {
		r.Metadata = make(Metadata)
	}
	r.Metadata[key] = value
	return r
}

// HasFeature reports whether the request asks for the named feature
func (r *Request) HasFeature(feature string) bool {
	for _, f := range r.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// MetadataString returns a string metadata value or "" if absent or of another type
func (r *Request) MetadataString(key string) string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	s, _ := r.Metadata[key].(string)
	return s
}

// MetadataFloat returns a numeric metadata value as float64
func (r *Request) MetadataFloat(key string) (float64, bool) {
	if r == nil || r.Metadata == nil {
		return 0, false
	}
	return Float(r.Metadata[key])
}

// Float converts the numeric types commonly found in decoded metadata to float64
func Float(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}

// Response is the result of processing a request
type Response struct {
	Content     string           `json:"content"`
	Provider    string           `json:"provider,omitempty"`
	Model       string           `json:"model,omitempty"`
	Metadata    Metadata         `json:"metadata,omitempty"`
	Cached      bool             `json:"cached,omitempty"`
	Degradation *DegradationInfo `json:"degradation,omitempty"`
}

// IsDegraded reports whether the response came from a reduced-quality path
func (r *Response) IsDegraded() bool {
	return r != nil && r.Degradation != nil && r.Degradation.Degraded
}
