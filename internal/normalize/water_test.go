package normalize

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/meters-to-ha/internal/model"
)

func split(lines ...string) [][]string {
	rows := make([][]string, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, strings.Split(l, ";"))
	}
	return rows
}

var waterNow = time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC)

func TestNormalizeWater_LatestMeasured(t *testing.T) {
	rows := split(
		"2024-01-10T08:00:00;1000;5;Mesuré",
		"2024-01-11T08:00:00;1010;10;Mesuré",
	)

	got, err := NormalizeWater(rows, waterNow, false)
	require.NoError(t, err)

	want := &model.WaterUpdate{
		Latest: model.Reading{
			Provider:   model.ProviderWater,
			Timestamp:  time.Date(2024, 1, 11, 8, 0, 0, 0, time.UTC),
			RawTime:    "2024-01-11T08:00:00",
			Cumulative: 1010,
			Period:     10,
			Quality:    model.QualityMeasured,
		},
		Previous: &model.Reading{
			Provider:   model.ProviderWater,
			Timestamp:  time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC),
			RawTime:    "2024-01-10T08:00:00",
			Cumulative: 1000,
			Period:     5,
			Quality:    model.QualityMeasured,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NormalizeWater mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeWater_SkipsTrailingEstimated(t *testing.T) {
	rows := split(
		"2024-01-10T08:00:00;1000;5;Mesuré",
		"2024-01-11T08:00:00;1010;10;Mesuré",
		"2024-01-12T08:00:00;1015;5;Estimé",
	)

	got, err := NormalizeWater(rows, waterNow, false)
	require.NoError(t, err)
	assert.Equal(t, 1010.0, got.Latest.Cumulative)
	assert.Equal(t, 10.0, got.Latest.Period)
	assert.Equal(t, "2024-01-11T08:00:00", got.Latest.RawTime)
}

func TestNormalizeWater_NeverSelectsEstimated(t *testing.T) {
	base := []string{
		"2024-01-05T08:00:00;950;5;Mesuré",
		"2024-01-06T08:00:00;960;10;Estimé",
		"2024-01-07T08:00:00;970;10;Mesuré",
		"2024-01-08T08:00:00;980;10;Estimé",
		"2024-01-09T08:00:00;990;10;Estimé",
		"2024-01-10T08:00:00;995;5;Estimé",
	}

	for n := 1; n <= len(base); n++ {
		got, err := NormalizeWater(split(base[:n]...), waterNow, true)
		require.NoError(t, err)
		assert.Equal(t, model.QualityMeasured, got.Latest.Quality, "prefix %d", n)
		for _, h := range got.History {
			assert.True(t, h.Publishable())
		}
	}
}

func TestNormalizeWater_OnlyEstimated(t *testing.T) {
	rows := split(
		"2024-01-10T08:00:00;1000;5;Estimé",
		"2024-01-11T08:00:00;1010;10;Estimé",
	)
	_, err := NormalizeWater(rows, waterNow, false)

	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, model.ProviderWater, ie.Provider)
}

func TestNormalizeWater_HeaderIsNotPredecessor(t *testing.T) {
	rows := split(
		"Date de relevé;Index (L);Consommation (L);Type de relevé",
		"2024-01-11T08:00:00;1010;10;Mesuré",
	)
	got, err := NormalizeWater(rows, waterNow, false)
	require.NoError(t, err)
	assert.Nil(t, got.Previous)
}

func TestNormalizeWater_Window(t *testing.T) {
	tests := []struct {
		name    string
		row     string
		wantErr bool
	}{
		{name: "within window", row: "2023-12-20T08:00:00;1;1;Mesuré"},
		{name: "too old", row: "2023-12-01T08:00:00;1;1;Mesuré", wantErr: true},
		{name: "too far in future", row: "2024-02-20T08:00:00;1;1;Mesuré", wantErr: true},
		{name: "monthly export", row: "2023-06-01;1;1;Mesuré", wantErr: true},
		{name: "implausible era", row: "0024-01-11T08:00:00;1;1;Mesuré", wantErr: true},
		{name: "garbled date", row: "2x24-01-11;1;1;Mesuré", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeWater(split(tt.row), waterNow, false)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ie *IntegrityError
			require.True(t, errors.As(err, &ie), "got %v", err)
		})
	}
}

func TestWaterHistory(t *testing.T) {
	rows := split(
		"Date;Index;Conso;Type",
		"2024-01-09T08:00:00;990;10;Mesuré",
		"2024-01-10T08:00:00;1000;10;Estimé",
		"2024-01-11T08:00:00;1010;10;Mesuré",
	)

	h, err := WaterHistory(rows, waterNow)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, "2024-01-09", h[0].Date())
	assert.Equal(t, "2024-01-11", h[1].Date())
}

func TestWaterHistory_RejectsOldRow(t *testing.T) {
	rows := split(
		"2023-10-09T08:00:00;990;10;Mesuré",
		"2024-01-11T08:00:00;1010;10;Mesuré",
	)

	_, err := WaterHistory(rows, waterNow)
	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Contains(t, ie.Error(), "2023-10-09")
}

func TestParseWaterRow(t *testing.T) {
	_, err := ParseWaterRow([]string{"2024-01-11 08:00:00", "1 010", "10,5", "MESURÉ"}, time.UTC)
	require.Error(t, err)

	r, err := ParseWaterRow([]string{"2024-01-11 08:00:00", "1010", "10,5", "MESURÉ"}, time.UTC)
	require.NoError(t, err)
	assert.InDelta(t, 10.5, r.Period, 0.0001)
	assert.Equal(t, model.QualityMeasured, r.Quality)

	_, err = ParseWaterRow([]string{"2024-01-11"}, time.UTC)
	assert.Error(t, err)
}
