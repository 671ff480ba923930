package injector

import (
	"context"
	"crypto/tls"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/config"
	"github.com/sells-group/meters-to-ha/internal/model"
	"github.com/sells-group/meters-to-ha/internal/resilience"
)

const (
	haAPIRunning = "API running."

	sensorGasM3       = "sensor.gas_consumption_m3"
	sensorGasKWh      = "sensor.gas_consumption_kwh"
	sensorGasDailyKWh = "sensor.gas_daily_kwh"
)

// haState is the body of POST /api/states/<entity>.
type haState struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// haEntity is the answer of GET /api/states/<entity>.
type haEntity struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated"`
}

// HomeAssistant publishes sensor states through the Home Assistant REST API.
type HomeAssistant struct {
	http     *resty.Client
	contract string
	retry    resilience.RetryConfig
}

// NewHomeAssistant builds a client for the server in cfg. contract names the
// water sensors.
func NewHomeAssistant(cfg config.HomeAssistantConfig, contract string, opts ...Option) *HomeAssistant {
	o := buildOptions("homeassistant", opts)
	c := newClient(strings.TrimRight(cfg.Server, "/"), o).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json")
	if cfg.Insecure {
		c.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opt-in for self-signed installs
	}
	return &HomeAssistant{http: c, contract: contract, retry: o.retry}
}

// Name implements Injector.
func (h *HomeAssistant) Name() string { return "Home Assistant" }

// WantsHistory implements Injector. Only the latest reading is published.
func (h *HomeAssistant) WantsHistory() bool { return false }

// SanityCheck implements Injector.
func (h *HomeAssistant) SanityCheck(ctx context.Context) error {
	var body struct {
		Message string `json:"message"`
	}
	if _, err := h.get(ctx, "/api/", &body); err != nil {
		return err
	}
	if body.Message != haAPIRunning {
		return eris.Errorf("injector: no valid response %q from %s", body.Message, h.http.BaseURL)
	}
	zap.L().Info("home assistant reachable", zap.String("server", h.http.BaseURL))
	return nil
}

// LastGasState implements Injector. A sensor that does not exist yet yields
// an unknown state.
func (h *HomeAssistant) LastGasState(ctx context.Context) (model.CumulativeState, error) {
	var state model.CumulativeState

	var kwh haEntity
	found, err := h.get(ctx, statePath(sensorGasKWh), &kwh)
	if err != nil {
		return state, err
	}
	if found {
		if v, perr := strconv.ParseFloat(kwh.State, 64); perr == nil {
			state.Known = true
			state.Value = v
		} else {
			zap.L().Warn("ignoring non-numeric gas total", zap.String("state", kwh.State))
		}
		state.Timestamp = entityTime(kwh)
		if m3, ok := attrFloat(kwh.Attributes, "meter_m3"); ok {
			state.VolumeM3 = &m3
		}
	}

	if state.VolumeM3 == nil {
		var m3 haEntity
		found, err := h.get(ctx, statePath(sensorGasM3), &m3)
		if err != nil {
			return state, err
		}
		if found {
			if v, perr := strconv.ParseFloat(m3.State, 64); perr == nil {
				state.VolumeM3 = &v
			}
		}
	}

	fields := []zap.Field{zap.Bool("known", state.Known), zap.Float64("kwh", state.Value), zap.Time("since", state.Timestamp)}
	if state.VolumeM3 != nil {
		fields = append(fields, zap.Float64("m3", *state.VolumeM3))
	}
	zap.L().Info("previous gas state", fields...)
	return state, nil
}

// PushWater implements Injector.
func (h *HomeAssistant) PushWater(ctx context.Context, u model.WaterUpdate) error {
	if err := checkPublishable(u); err != nil {
		return err
	}
	if u.Previous != nil {
		zap.L().Info("previous water value",
			zap.String("date_time", u.Previous.RawTime),
			zap.Float64("total_l", u.Previous.Cumulative),
			zap.Float64("period_l", u.Previous.Period))
	}
	zap.L().Info("updating water value",
		zap.String("date_time", u.Latest.RawTime),
		zap.Float64("total_l", u.Latest.Cumulative),
		zap.Float64("period_l", u.Latest.Period))

	attrs := func(stateClass string) map[string]any {
		return map[string]any{
			"date_time":           u.Latest.RawTime,
			"unit_of_measurement": "L",
			"device_class":        "water",
			"state_class":         stateClass,
		}
	}

	if err := h.post(ctx, "sensor.veolia_"+h.contract+"_total",
		haState{State: formatNumber(u.Latest.Cumulative), Attributes: attrs("total_increasing")}); err != nil {
		return err
	}
	return h.post(ctx, "sensor.veolia_"+h.contract+"_period_total",
		haState{State: formatNumber(u.Latest.Period), Attributes: attrs("measurement")})
}

// PushGas implements Injector. Every value goes to a generic sensor and to a
// sensor named after the delivery point.
func (h *HomeAssistant) PushGas(ctx context.Context, u model.GasUpdate) error {
	ts := u.Timestamp.Format(time.RFC3339)
	zap.L().Info("updating gas values",
		zap.String("date_time", ts),
		zap.Float64("m3", u.VolumeM3),
		zap.Float64("daily_kwh", u.DailyKWh),
		zap.Float64("total_kwh", u.TotalKWh))

	attrs := func(unit, class, stateClass string) map[string]any {
		return map[string]any{
			"date_time":           ts,
			"unit_of_measurement": unit,
			"device_class":        class,
			"state_class":         stateClass,
		}
	}

	totalAttrs := attrs("kWh", "energy", "total_increasing")
	totalAttrs["meter_m3"] = u.VolumeM3

	updates := []struct {
		sensors []string
		state   haState
	}{
		{
			sensors: []string{sensorGasM3, "sensor.grdf_" + u.PCE + "_m3"},
			state:   haState{State: formatNumber(u.VolumeM3), Attributes: attrs("m³", "gas", "total_increasing")},
		},
		{
			sensors: []string{sensorGasDailyKWh, "sensor.grdf_" + u.PCE + "_daily_kwh"},
			state:   haState{State: formatNumber(u.DailyKWh), Attributes: attrs("kWh", "energy", "measurement")},
		},
		{
			sensors: []string{sensorGasKWh, "sensor.grdf_" + u.PCE + "_kwh"},
			state:   haState{State: formatNumber(u.TotalKWh), Attributes: totalAttrs},
		},
	}

	for _, up := range updates {
		for _, sensor := range up.sensors {
			if err := h.post(ctx, sensor, up.state); err != nil {
				return err
			}
		}
	}
	return nil
}

func statePath(entity string) string {
	return "/api/states/" + entity
}

// get decodes the JSON answer of path into out. found is false on 404.
func (h *HomeAssistant) get(ctx context.Context, path string, out any) (bool, error) {
	return resilience.DoVal(ctx, h.retry, func(ctx context.Context) (bool, error) {
		resp, err := h.http.R().
			SetContext(ctx).
			ForceContentType("application/json").
			SetResult(out).
			Get(path)
		if err != nil {
			return false, wrapRequest(err, "GET", h.http.BaseURL+path)
		}
		if resp.StatusCode() == http.StatusNotFound && strings.HasPrefix(path, "/api/states/") {
			return false, nil
		}
		if err := checkResponse(resp, http.StatusOK); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (h *HomeAssistant) post(ctx context.Context, entity string, state haState) error {
	path := statePath(entity)
	return resilience.Do(ctx, h.retry, func(ctx context.Context) error {
		resp, err := h.http.R().
			SetContext(ctx).
			SetBody(state).
			Post(path)
		if err != nil {
			return wrapRequest(err, "POST", h.http.BaseURL+path)
		}
		if err := checkResponse(resp, http.StatusOK, http.StatusCreated); err != nil {
			return err
		}
		zap.L().Debug("state updated", zap.String("entity", entity), zap.String("state", state.State))
		return nil
	})
}

var haTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// entityTime returns the timestamp of the last published value:
// attributes.date_time, then last_changed, then last_updated.
func entityTime(e haEntity) time.Time {
	var raw string
	if s, ok := e.Attributes["date_time"].(string); ok && s != "" {
		raw = s
	} else if e.LastChanged != "" {
		raw = e.LastChanged
	} else {
		raw = e.LastUpdated
	}
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range haTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	zap.L().Warn("unparseable gas state timestamp", zap.String("value", raw))
	return time.Time{}
}

func attrFloat(attrs map[string]any, key string) (float64, bool) {
	switch v := attrs[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
