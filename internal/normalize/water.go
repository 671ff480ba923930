package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/model"
)

// Water export columns.
const (
	colTime = iota
	colCumulative
	colPeriod
	colQuality
	waterColumns
)

var waterLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.DateOnly,
}

// ParseWaterRow converts one export row into a reading. Timestamps without a
// zone are read in loc.
func ParseWaterRow(row []string, loc *time.Location) (model.Reading, error) {
	if len(row) < waterColumns {
		return model.Reading{}, eris.Errorf("normalize: water row has %d columns, want %d", len(row), waterColumns)
	}

	raw := strings.TrimSpace(row[colTime])
	ts, err := parseTime(raw, waterLayouts, loc)
	if err != nil {
		return model.Reading{}, eris.Wrapf(err, "normalize: water timestamp %q", raw)
	}

	cumulative, err := parseNumber(row[colCumulative])
	if err != nil {
		return model.Reading{}, eris.Wrapf(err, "normalize: water cumulative %q", row[colCumulative])
	}
	period, err := parseNumber(row[colPeriod])
	if err != nil {
		return model.Reading{}, eris.Wrapf(err, "normalize: water period %q", row[colPeriod])
	}

	return model.Reading{
		Provider:   model.ProviderWater,
		Timestamp:  ts,
		RawTime:    raw,
		Cumulative: cumulative,
		Period:     period,
		Quality:    model.ParseQuality(row[colQuality]),
	}, nil
}

// NormalizeWater selects the most recent measured row of the export and its
// immediate predecessor. With history set, every measured row is returned as
// well, oldest first.
func NormalizeWater(rows [][]string, now time.Time, history bool) (*model.WaterUpdate, error) {
	idx := -1
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < waterColumns {
			continue
		}
		q := model.ParseQuality(row[colQuality])
		if q == model.QualityEstimated {
			zap.L().Debug("normalize: skip estimated water row", zap.Strings("row", row))
			continue
		}
		if q != model.QualityMeasured {
			continue
		}
		idx = i
		break
	}
	if idx < 0 {
		return nil, &IntegrityError{Provider: model.ProviderWater, Reason: "no measured row in export"}
	}

	latest, err := checkWaterRow(rows[idx], now)
	if err != nil {
		return nil, err
	}

	update := &model.WaterUpdate{Latest: latest}
	if idx > 0 {
		if prev, perr := ParseWaterRow(rows[idx-1], now.Location()); perr == nil {
			update.Previous = &prev
		}
	}

	if history {
		h, err := WaterHistory(rows, now)
		if err != nil {
			return nil, err
		}
		update.History = h
	}

	return update, nil
}

// WaterHistory returns every measured, plausibly dated row. Rows without a
// date (headers, footers) are skipped; dated rows outside the window fail the
// whole export.
func WaterHistory(rows [][]string, now time.Time) ([]model.Reading, error) {
	var out []model.Reading
	for _, row := range rows {
		if len(row) < waterColumns || !hasEraPrefix(row[colTime]) {
			continue
		}
		if model.ParseQuality(row[colQuality]) != model.QualityMeasured {
			continue
		}
		r, err := checkWaterRow(row, now)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func checkWaterRow(row []string, now time.Time) (model.Reading, error) {
	if !hasEraPrefix(row[colTime]) {
		return model.Reading{}, integrity(model.ProviderWater, "implausible date", row)
	}
	r, err := ParseWaterRow(row, now.Location())
	if err != nil {
		return model.Reading{}, integrity(model.ProviderWater, err.Error(), row)
	}
	if outsideWindow(r.Timestamp, now) {
		return model.Reading{}, integrity(model.ProviderWater, "reading more than 30 days from now (monthly export?)", row)
	}
	return r, nil
}

// hasEraPrefix reports whether a date starts with a plausible millennium digit.
func hasEraPrefix(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && (s[0] == '1' || s[0] == '2')
}

func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	return strconv.ParseFloat(s, 64)
}

func parseTime(s string, layouts []string, loc *time.Location) (time.Time, error) {
	var firstErr error
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
