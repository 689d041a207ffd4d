package models

import "encoding/json"

// TokenResponse is the upstream credential-exchange reply.
// Expires is epoch milliseconds.
type TokenResponse struct {
	Token   string         `json:"token"`
	Expires int64          `json:"expires"`
	Error   *UpstreamError `json:"error,omitempty"`
}

// UpstreamError is the error envelope the mapping service embeds in an
// otherwise-200 JSON body.
type UpstreamError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Token-rejected codes: 498 invalid token, 499 token required.
func (e *UpstreamError) TokenRejected() bool {
	return e != nil && (e.Code == 498 || e.Code == 499)
}

// FeatureSet is the relevant slice of an upstream feature-query response.
// Geometry is decoded only to be dropped by the sanitizer.
type FeatureSet struct {
	Features []Feature      `json:"features"`
	Error    *UpstreamError `json:"error,omitempty"`
}

type Feature struct {
	Attributes map[string]interface{} `json:"attributes"`
	Geometry   json.RawMessage        `json:"geometry,omitempty"`
}

// Envelope is the normalized attribute response returned to clients:
// never geometry, never fields outside the alias allowlist.
type Envelope struct {
	Count   int             `json:"count"`
	Results []EnvelopeEntry `json:"results"`
}

type EnvelopeEntry struct {
	Attributes map[string]interface{} `json:"attributes"`
}
