package model

// Artifact is a raw export downloaded from a provider portal. It is consumed
// exactly once by the normalizer and removed at cleanup unless kept.
type Artifact struct {
	Path     string   `json:"path"`
	Provider Provider `json:"provider"`
	Keep     bool     `json:"keep"`
}
