package injector

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/meters-to-ha/internal/config"
	"github.com/sells-group/meters-to-ha/internal/model"
	"github.com/sells-group/meters-to-ha/internal/resilience"
)

// Expected managed counter set-up.
const (
	domoticzType       = "General"
	domoticzSubType    = "Managed Counter"
	domoticzSwitchType = 2
	domoticzDivider    = 1000
	domoticzOffset     = 0
)

type domoticzResponse struct {
	Status  string           `json:"status"`
	Title   string           `json:"title"`
	Version string           `json:"version"`
	Result  []domoticzDevice `json:"result"`
}

type domoticzDevice struct {
	Idx           string  `json:"idx"`
	Name          string  `json:"Name"`
	Type          string  `json:"Type"`
	SubType       string  `json:"SubType"`
	SwitchTypeVal int     `json:"SwitchTypeVal"`
	AddjValue     float64 `json:"AddjValue"`
	AddjValue2    float64 `json:"AddjValue2"`
}

// Domoticz updates a managed counter device through json.htm.
type Domoticz struct {
	http     *resty.Client
	idx      string
	login    string
	password string
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
}

// NewDomoticz builds a client for the server and device in cfg.
func NewDomoticz(cfg config.DomoticzConfig, opts ...Option) *Domoticz {
	o := buildOptions("domoticz", opts)
	return &Domoticz{
		http:     newClient(strings.TrimRight(cfg.Server, "/"), o),
		idx:      cfg.IDX,
		login:    cfg.Login,
		password: cfg.Password,
		limiter:  o.limiter,
		retry:    o.retry,
	}
}

// Name implements Injector.
func (d *Domoticz) Name() string { return "Domoticz" }

// WantsHistory implements Injector. Every measured row is back-filled.
func (d *Domoticz) WantsHistory() bool { return true }

// SanityCheck implements Injector. The device must be a water managed
// counter with a 1000 divider and no offset.
func (d *Domoticz) SanityCheck(ctx context.Context) error {
	v, err := d.call(ctx, map[string]string{"type": "command", "param": "getversion"})
	if err != nil {
		return err
	}
	zap.L().Info("domoticz reachable", zap.String("server", d.http.BaseURL), zap.String("version", v.Version))

	resp, err := d.call(ctx, map[string]string{"type": "devices", "rid": d.idx})
	if err != nil {
		return err
	}
	if len(resp.Result) == 0 {
		return eris.Errorf("injector: device %s could not be found on domoticz server %s", d.idx, d.http.BaseURL)
	}

	return checkDevice(resp.Result[0], d.idx)
}

func checkDevice(dev domoticzDevice, idx string) error {
	log := zap.L().With(zap.String("device", dev.Name), zap.String("idx", idx))

	var problems []string
	check := func(ok bool, field string, got any, hint string) {
		if ok {
			log.Info("device setting ok", zap.String("field", field), zap.Any("value", got))
			return
		}
		log.Error("device setting wrong", zap.String("field", field), zap.Any("value", got), zap.String("hint", hint))
		problems = append(problems, field)
	}

	createHint := `go to Domoticz/Hardware and create a pseudo-sensor of type "Managed Counter"`
	check(dev.Type == domoticzType, "Type", dev.Type, createHint)
	check(dev.SubType == domoticzSubType, "SubType", dev.SubType, createHint)
	check(dev.SwitchTypeVal == domoticzSwitchType, "SwitchType", dev.SwitchTypeVal,
		"select the counter, click edit and change type to water")
	check(dev.AddjValue2 == domoticzDivider, "Counter Divided", dev.AddjValue2,
		`select the counter, click edit and set "Counter Divided" to 1000`)
	check(dev.AddjValue == domoticzOffset, "Meter Offset", dev.AddjValue,
		`select the counter, click edit and set "Meter Offset" to 0`)

	if len(problems) > 0 {
		return eris.Errorf("injector: domoticz device %s misconfigured (%s), set it up correctly and run again",
			idx, strings.Join(problems, ", "))
	}
	return nil
}

// LastGasState implements Injector. Gas is not tracked on Domoticz.
func (d *Domoticz) LastGasState(context.Context) (model.CumulativeState, error) {
	return model.CumulativeState{}, nil
}

// PushGas implements Injector. The managed counter set-up has no gas
// device, so the update is logged and skipped.
func (d *Domoticz) PushGas(_ context.Context, u model.GasUpdate) error {
	zap.L().Warn("gas is not supported by the domoticz injector, skipping",
		zap.String("pce", u.PCE), zap.Float64("total_kwh", u.TotalKWh))
	return nil
}

// PushWater implements Injector. One udevice call per history row, then the
// dashboard current and daily values from the latest row.
func (d *Domoticz) PushWater(ctx context.Context, u model.WaterUpdate) error {
	if err := checkPublishable(u); err != nil {
		return err
	}
	history := u.History
	if len(history) == 0 {
		history = []model.Reading{u.Latest}
	}

	for _, r := range history {
		zap.L().Info("update value", zap.String("date", r.Date()))
		svalue := formatNumber(r.Cumulative) + ";" + formatNumber(r.Period) + ";" + r.Date()
		if err := d.udevice(ctx, svalue); err != nil {
			return err
		}
	}

	last := history[len(history)-1]

	zap.L().Info("update current value")
	if err := d.udevice(ctx, formatNumber(last.Period)); err != nil {
		return err
	}

	zap.L().Info("update daily value")
	return d.udevice(ctx, formatNumber(last.Cumulative)+";"+formatNumber(last.Period)+";"+last.RawTime)
}

func (d *Domoticz) udevice(ctx context.Context, svalue string) error {
	_, err := d.call(ctx, map[string]string{
		"type":   "command",
		"param":  "udevice",
		"idx":    d.idx,
		"svalue": svalue,
	})
	return err
}

// call performs one throttled json.htm request and checks the JSON status.
func (d *Domoticz) call(ctx context.Context, params map[string]string) (*domoticzResponse, error) {
	return resilience.DoVal(ctx, d.retry, func(ctx context.Context) (*domoticzResponse, error) {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "injector: domoticz throttle")
		}

		req := d.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			ForceContentType("application/json").
			SetResult(&domoticzResponse{})
		if d.login != "" {
			req.SetQueryParam("username", base64.StdEncoding.EncodeToString([]byte(d.login)))
			req.SetQueryParam("password", base64.StdEncoding.EncodeToString([]byte(d.password)))
		}

		resp, err := req.Get("/json.htm")
		if err != nil {
			return nil, wrapRequest(err, "GET", d.http.BaseURL+"/json.htm")
		}
		if err := checkResponse(resp, http.StatusOK); err != nil {
			return nil, err
		}

		out, ok := resp.Result().(*domoticzResponse)
		if !ok || out == nil {
			return nil, eris.Errorf("injector: unable to parse the JSON from %s", redactURL(resp.Request.URL))
		}
		if !strings.EqualFold(out.Status, "ok") {
			return nil, &BackendError{
				URL:        redactURL(resp.Request.URL),
				StatusCode: resp.StatusCode(),
				Body:       truncate(resp.String(), 512),
			}
		}
		return out, nil
	})
}
