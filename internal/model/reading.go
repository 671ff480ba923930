package model

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Provider identifies the utility portal a reading came from.
type Provider string

const (
	ProviderWater Provider = "water"
	ProviderGas   Provider = "gas"
)

// AllProviders returns the providers in the order they are crawled.
func AllProviders() []Provider {
	return []Provider{ProviderGas, ProviderWater}
}

// Quality is the provider-reported confidence tag of a reading.
type Quality string

const (
	QualityMeasured  Quality = "measured"
	QualityEstimated Quality = "estimated"
	QualityUnknown   Quality = "unknown"
)

// Localized tags used by both portals.
const (
	TagMeasured  = "Mesuré"
	TagEstimated = "Estimé"
)

// ParseQuality maps a localized portal tag to a Quality. Tags are compared
// after NFC normalisation and case folding because exports mix composed and
// decomposed accents.
func ParseQuality(tag string) Quality {
	t := norm.NFC.String(strings.TrimSpace(tag))
	switch {
	case strings.EqualFold(t, norm.NFC.String(TagMeasured)):
		return QualityMeasured
	case strings.EqualFold(t, norm.NFC.String(TagEstimated)):
		return QualityEstimated
	default:
		return QualityUnknown
	}
}

// Reading is one timestamped meter observation.
type Reading struct {
	Provider   Provider  `json:"provider"`
	Timestamp  time.Time `json:"timestamp"`
	RawTime    string    `json:"raw_time"`
	Cumulative float64   `json:"cumulative"`
	Period     float64   `json:"period"`
	Quality    Quality   `json:"quality"`
}

// Publishable reports whether the reading may be sent to a backend.
func (r Reading) Publishable() bool {
	return r.Quality == QualityMeasured
}

// Date returns the YYYY-MM-DD part of the raw provider timestamp.
func (r Reading) Date() string {
	if len(r.RawTime) >= 10 {
		return r.RawTime[:10]
	}
	return r.Timestamp.Format(time.DateOnly)
}

// CumulativeState is the backend's last known value for a logical sensor.
// It is read once per run and never written back locally.
type CumulativeState struct {
	Known     bool      `json:"known"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	// VolumeM3 is the last cumulative value in provider units, when stored.
	VolumeM3 *float64 `json:"volume_m3,omitempty"`
}

// WaterUpdate holds the normalized water readings to publish.
type WaterUpdate struct {
	Latest   Reading   `json:"latest"`
	Previous *Reading  `json:"previous,omitempty"`
	History  []Reading `json:"history,omitempty"`
}

// GasUpdate holds the normalized gas values to publish.
type GasUpdate struct {
	PCE       string    `json:"pce"`
	Timestamp time.Time `json:"timestamp"`
	VolumeM3  float64   `json:"volume_m3"`
	DailyKWh  float64   `json:"daily_kwh"`
	TotalKWh  float64   `json:"total_kwh"`
}
