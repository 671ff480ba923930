package normalize

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/model"
)

// GasExport is the JSON document served by the gas portal, keyed by PCE.
type GasExport map[string]GasMeter

// GasMeter holds the daily records of one meter.
type GasMeter struct {
	Releves []GasRecord `json:"releves"`
}

// GasRecord is one daily reading of the gas portal.
type GasRecord struct {
	DateDebutReleve     string   `json:"dateDebutReleve"`
	DateFinReleve       string   `json:"dateFinReleve"`
	JourneeGaziere      string   `json:"journeeGaziere"`
	IndexDebut          *float64 `json:"indexDebut"`
	IndexFin            *float64 `json:"indexFin"`
	VolumeBrutConsomme  *float64 `json:"volumeBrutConsomme"`
	EnergieConsomme     *float64 `json:"energieConsomme"`
	QualificationReleve string   `json:"qualificationReleve"`
}

var gasLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// SelectMeter returns the records of pce, or of the first meter in key order
// when pce is empty or absent.
func SelectMeter(export GasExport, pce string) (string, GasMeter, error) {
	if m, ok := export[pce]; ok && pce != "" {
		return pce, m, nil
	}
	if len(export) == 0 {
		return "", GasMeter{}, &IntegrityError{Provider: model.ProviderGas, Reason: "export contains no meter"}
	}
	keys := make([]string, 0, len(export))
	for k := range export {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if pce != "" {
		zap.L().Warn("normalize: configured pce not in export, using first meter",
			zap.String("pce", pce), zap.String("used", keys[0]))
	}
	return keys[0], export[keys[0]], nil
}

// NormalizeGas derives the gas values to publish from the export and the
// backend's last known energy total.
//
// Two passes share one loop. Measured records strictly after the last known
// timestamp add their daily energy to the running total. Independently, the
// most recent measured record with an end index (a tie keeps the later one in
// file order) provides the volume and daily values; each record that becomes
// that candidate must be within MaxAge of now. No valid record yields a nil update.
func NormalizeGas(export GasExport, pce string, state model.CumulativeState, now time.Time) (*model.GasUpdate, error) {
	key, meter, err := SelectMeter(export, pce)
	if err != nil {
		return nil, err
	}

	var total float64
	switch {
	case state.Known:
		total = state.Value
	case state.VolumeM3 != nil:
		total = *state.VolumeM3
	}

	since := state.Timestamp
	if since.IsZero() {
		since = now.Add(-24 * time.Hour)
	}

	var (
		latest     *GasRecord
		latestTime time.Time
	)
	for i := range meter.Releves {
		rec := &meter.Releves[i]

		if model.ParseQuality(rec.QualificationReleve) != model.QualityMeasured {
			zap.L().Debug("normalize: skip gas record",
				zap.String("date", rec.DateFinReleve),
				zap.String("quality", rec.QualificationReleve))
			continue
		}
		if rec.EnergieConsomme == nil {
			continue
		}

		ts, err := parseTime(strings.TrimSpace(rec.DateFinReleve), gasLayouts, time.UTC)
		if err != nil {
			return nil, &IntegrityError{Provider: model.ProviderGas, Reason: "unparseable date", Row: rec.DateFinReleve}
		}

		if ts.After(since) {
			total += *rec.EnergieConsomme
			zap.L().Debug("normalize: gas total",
				zap.Float64("total_kwh", total),
				zap.Float64("added_kwh", *rec.EnergieConsomme))
		}

		// Without an end index the record cannot carry the volume counter.
		if rec.IndexFin == nil {
			zap.L().Warn("normalize: gas record has no end index, not publishable",
				zap.String("date", rec.DateFinReleve))
			continue
		}
		if latest != nil && ts.Before(latestTime) {
			continue
		}
		if outsideWindow(ts, now) {
			return nil, &IntegrityError{
				Provider: model.ProviderGas,
				Reason:   "reading more than 30 days from now (monthly export?)",
				Row:      rec.DateFinReleve,
			}
		}
		latest, latestTime = rec, ts
	}

	if latest == nil {
		return nil, nil
	}

	return &model.GasUpdate{
		PCE:       key,
		Timestamp: latestTime,
		VolumeM3:  *latest.IndexFin,
		DailyKWh:  *latest.EnergieConsomme,
		TotalKWh:  total,
	}, nil
}
