package pipeline

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/sells-group/meters-to-ha/internal/model"
)

// PhaseStatus is the outcome of a phase.
type PhaseStatus string

const (
	PhaseComplete PhaseStatus = "complete"
	PhaseFailed   PhaseStatus = "failed"
)

// Phase records one step of a run.
type Phase struct {
	Name     string
	Status   PhaseStatus
	Duration time.Duration
	Detail   string
	Error    string
}

// Update is one value bound for a backend sensor.
type Update struct {
	Provider model.Provider
	Sensor   string
	Time     string
	Value    float64
	Unit     string
}

// Report summarizes a run.
type Report struct {
	RunID   string
	DryRun  bool
	Phases  []Phase
	Updates []Update
}

func (r *Report) addWater(u model.WaterUpdate) {
	readings := u.History
	if len(readings) == 0 {
		readings = []model.Reading{u.Latest}
	}
	for _, rd := range readings {
		r.Updates = append(r.Updates,
			Update{Provider: model.ProviderWater, Sensor: "total", Time: rd.RawTime, Value: rd.Cumulative, Unit: "L"},
			Update{Provider: model.ProviderWater, Sensor: "period_total", Time: rd.RawTime, Value: rd.Period, Unit: "L"},
		)
	}
}

func (r *Report) addGas(u model.GasUpdate) {
	ts := u.Timestamp.Format(time.RFC3339)
	r.Updates = append(r.Updates,
		Update{Provider: model.ProviderGas, Sensor: "grdf_" + u.PCE + "_m3", Time: ts, Value: u.VolumeM3, Unit: "m³"},
		Update{Provider: model.ProviderGas, Sensor: "grdf_" + u.PCE + "_daily_kwh", Time: ts, Value: u.DailyKWh, Unit: "kWh"},
		Update{Provider: model.ProviderGas, Sensor: "grdf_" + u.PCE + "_kwh", Time: ts, Value: u.TotalKWh, Unit: "kWh"},
	)
}

// RenderUpdates prints the updates of a report as a table.
func RenderUpdates(w io.Writer, r *Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("run %s", r.RunID))
	t.AppendHeader(table.Row{"Provider", "Sensor", "Time", "Value", "Unit"})
	for _, u := range r.Updates {
		t.AppendRow(table.Row{u.Provider, u.Sensor, u.Time, strconv.FormatFloat(u.Value, 'f', -1, 64), u.Unit})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Value", Align: text.AlignRight},
	})
	if r.DryRun {
		t.SetCaption("dry run: nothing was pushed")
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

// RenderPhases prints the phase timeline of a report.
func RenderPhases(w io.Writer, r *Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Phase", "Status", "Duration", "Detail"})
	for _, p := range r.Phases {
		detail := p.Detail
		if p.Error != "" {
			detail = p.Error
		}
		t.AppendRow(table.Row{p.Name, p.Status, p.Duration.Round(time.Millisecond), detail})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
