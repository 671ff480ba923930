package injector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/meters-to-ha/internal/config"
	"github.com/sells-group/meters-to-ha/internal/model"
)

type fakeDomoticz struct {
	mu      sync.Mutex
	device  map[string]any
	queries []url.Values
	status  string
}

func newFakeDomoticz(t *testing.T) (*fakeDomoticz, *httptest.Server) {
	t.Helper()
	f := &fakeDomoticz{
		status: "OK",
		device: map[string]any{
			"idx":           "42",
			"Name":          "Water",
			"Type":          "General",
			"SubType":       "Managed Counter",
			"SwitchTypeVal": 2,
			"AddjValue":     0,
			"AddjValue2":    1000,
		},
	}

	r := chi.NewRouter()
	r.Get("/json.htm", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f.mu.Lock()
		f.queries = append(f.queries, q)
		f.mu.Unlock()

		resp := map[string]any{"status": f.status}
		switch {
		case q.Get("param") == "getversion":
			resp["version"] = "2024.4"
		case q.Get("type") == "devices":
			if q.Get("rid") == "42" {
				resp["result"] = []any{f.device}
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestDomoticz(srv *httptest.Server, idx string) *Domoticz {
	return NewDomoticz(config.DomoticzConfig{Server: srv.URL, IDX: idx}, fastOpts()...)
}

func TestDomoticz_SanityCheck(t *testing.T) {
	f, srv := newFakeDomoticz(t)
	require.NoError(t, newTestDomoticz(srv, "42").SanityCheck(context.Background()))
	require.Len(t, f.queries, 2)
	assert.Equal(t, "getversion", f.queries[0].Get("param"))
	assert.Equal(t, "42", f.queries[1].Get("rid"))
}

func TestDomoticz_SanityCheckDeviceMissing(t *testing.T) {
	_, srv := newFakeDomoticz(t)
	err := newTestDomoticz(srv, "7").SanityCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device 7 could not be found")
}

func TestDomoticz_SanityCheckMisconfigured(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
		want  string
	}{
		{name: "type", key: "Type", value: "Lighting 2", want: "Type"},
		{name: "subtype", key: "SubType", value: "Counter", want: "SubType"},
		{name: "switch type", key: "SwitchTypeVal", value: 0, want: "SwitchType"},
		{name: "divider", key: "AddjValue2", value: 100, want: "Counter Divided"},
		{name: "offset", key: "AddjValue", value: 12, want: "Meter Offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeDomoticz(t)
			f.device[tt.key] = tt.value

			err := newTestDomoticz(srv, "42").SanityCheck(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDomoticz_StatusNotOK(t *testing.T) {
	f, srv := newFakeDomoticz(t)
	f.status = "ERR"

	err := newTestDomoticz(srv, "42").SanityCheck(context.Background())
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Body, "ERR")
}

func TestDomoticz_Credentials(t *testing.T) {
	f, srv := newFakeDomoticz(t)
	d := NewDomoticz(config.DomoticzConfig{Server: srv.URL, IDX: "42", Login: "admin", Password: "s3cret"}, fastOpts()...)

	require.NoError(t, d.SanityCheck(context.Background()))
	q := f.queries[0]
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("admin")), q.Get("username"))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("s3cret")), q.Get("password"))
}

func TestDomoticz_PushWater(t *testing.T) {
	f, srv := newFakeDomoticz(t)
	d := newTestDomoticz(srv, "42")

	u := model.WaterUpdate{
		Latest: model.Reading{RawTime: "2024-05-02 00:00:00", Cumulative: 123456, Period: 210, Quality: model.QualityMeasured},
		History: []model.Reading{
			{RawTime: "2024-05-01 00:00:00", Cumulative: 123246, Period: 190, Quality: model.QualityMeasured},
			{RawTime: "2024-05-02 00:00:00", Cumulative: 123456, Period: 210, Quality: model.QualityMeasured},
		},
	}
	require.NoError(t, d.PushWater(context.Background(), u))

	var svalues []string
	for _, q := range f.queries {
		assert.Equal(t, "udevice", q.Get("param"))
		assert.Equal(t, "42", q.Get("idx"))
		svalues = append(svalues, q.Get("svalue"))
	}
	assert.Equal(t, []string{
		"123246;190;2024-05-01",
		"123456;210;2024-05-02",
		"210",
		"123456;210;2024-05-02 00:00:00",
	}, svalues)
}

func TestDomoticz_PushWaterRefusesUnmeasuredHistory(t *testing.T) {
	f, srv := newFakeDomoticz(t)

	u := model.WaterUpdate{
		Latest: model.Reading{RawTime: "2024-05-02 00:00:00", Cumulative: 123456, Period: 210, Quality: model.QualityMeasured},
		History: []model.Reading{
			{RawTime: "2024-05-01 00:00:00", Cumulative: 123246, Period: 190, Quality: model.QualityUnknown},
			{RawTime: "2024-05-02 00:00:00", Cumulative: 123456, Period: 210, Quality: model.QualityMeasured},
		},
	}
	err := newTestDomoticz(srv, "42").PushWater(context.Background(), u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2024-05-01 00:00:00")
	assert.Empty(t, f.queries)
}

func TestDomoticz_PushGasSkipped(t *testing.T) {
	f, srv := newFakeDomoticz(t)
	d := newTestDomoticz(srv, "42")

	require.NoError(t, d.PushGas(context.Background(), model.GasUpdate{PCE: "GI", TotalKWh: 1, Timestamp: time.Now()}))
	state, err := d.LastGasState(context.Background())
	require.NoError(t, err)
	assert.False(t, state.Known)
	assert.Empty(t, f.queries)
}

func TestRedactURL(t *testing.T) {
	got := redactURL("http://domo/json.htm?type=command&username=YWRtaW4%3D&password=czNjcmV0")
	assert.NotContains(t, got, "czNjcmV0")
	assert.Contains(t, got, "password=xxx")
	assert.Equal(t, "http://ha/api/", redactURL("http://ha/api/"))
}
