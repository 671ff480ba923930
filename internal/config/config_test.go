package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("config.json")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"firefox", "chromium"}, cfg.Browser.Engines)
	assert.False(t, cfg.HomeAssistant.Insecure)
	assert.False(t, cfg.UsesHomeAssistant())
	assert.True(t, filepath.IsAbs(cfg.DownloadFolder))
	assert.True(t, filepath.IsAbs(cfg.LogsFolder))
	assert.NotEmpty(t, cfg.Browser.Firefox)
	assert.NotEmpty(t, cfg.Browser.Geckodriver)
}

func TestLoadFromJSON(t *testing.T) {
	dir := chdirTemp(t)

	doc := `{
  "type": "ha",
  "timeout": "45",
  "veolia_login": "me@example.com",
  "veolia_password": "secret",
  "veolia_contract": "123456",
  "grdf_pce": "GI000000",
  "2captcha_token": "two",
  "ha_server": "http://ha.local:8123",
  "ha_token": "tok",
  "download_folder": "dl"
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(doc), 0o644))

	cfg, err := Load(filepath.Join(dir, "config.json"))
	require.NoError(t, err)

	assert.Equal(t, "ha", cfg.Type)
	assert.True(t, cfg.UsesHomeAssistant())
	assert.Equal(t, 45, cfg.Timeout)
	assert.Equal(t, "me@example.com", cfg.Veolia.Login)
	assert.Equal(t, "123456", cfg.Veolia.Contract)
	assert.Equal(t, "GI000000", cfg.GRDF.PCE)
	assert.Equal(t, "two", cfg.Captcha.TwoCaptchaToken)
	assert.Equal(t, "http://ha.local:8123", cfg.HomeAssistant.Server)
	assert.Equal(t, filepath.Join(dir, "dl"), cfg.DownloadFolder)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	doc := `
type: domoticz
domoticz_server: http://domo:8080
domoticz_idx: "42"
log_level: debug
log_format: console
engines: [chromium]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(doc), 0o644))

	cfg, err := Load("config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "http://domo:8080", cfg.Domoticz.Server)
	assert.Equal(t, "42", cfg.Domoticz.IDX)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"chromium"}, cfg.Browser.Engines)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0o644))

	_, err := Load("config.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadEnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("METERS_HA_TOKEN", "from-env")
	t.Setenv("METERS_TIMEOUT", "12")
	t.Setenv("METERS_CAPMONSTER_TOKEN", "cm")

	cfg, err := Load("config.json")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.HomeAssistant.Token)
	assert.Equal(t, 12, cfg.Timeout)
	assert.Equal(t, "cm", cfg.Captcha.CapmonsterToken)
}

func validHA() *Config {
	return &Config{
		Type:    TypeHomeAssistant,
		Timeout: 30,
		Veolia:  VeoliaConfig{Login: "a", Password: "b", Contract: "c"},
		GRDF:    GRDFConfig{Login: "d", Password: "e", PCE: "f"},
		Browser: BrowserConfig{Engines: []string{"firefox", "chromium"}},
		HomeAssistant: HomeAssistantConfig{
			Server: "http://ha",
			Token:  "t",
		},
	}
}

func TestValidate(t *testing.T) {
	both := []model.Provider{model.ProviderGas, model.ProviderWater}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		prov    []model.Provider
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}, prov: both},
		{name: "no providers", mutate: func(*Config) {}, prov: nil, wantErr: "no provider configured"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, prov: both, wantErr: "timeout must be positive"},
		{name: "missing veolia password", mutate: func(c *Config) { c.Veolia.Password = "" }, prov: both, wantErr: "veolia_password is required"},
		{
			name:   "veolia password not needed for gas only",
			mutate: func(c *Config) { c.Veolia.Password = "" },
			prov:   []model.Provider{model.ProviderGas},
		},
		{name: "missing pce", mutate: func(c *Config) { c.GRDF.PCE = " " }, prov: both, wantErr: "grdf_pce is required"},
		{name: "missing ha token", mutate: func(c *Config) { c.HomeAssistant.Token = "" }, prov: both, wantErr: "ha_token is required"},
		{
			name:    "domoticz requires server and idx",
			mutate:  func(c *Config) { c.Type = "" },
			prov:    both,
			wantErr: "domoticz_server, domoticz_idx is required",
		},
		{name: "unknown engine", mutate: func(c *Config) { c.Browser.Engines = []string{"safari"} }, prov: both, wantErr: `unknown engine "safari"`},
		{name: "no engines", mutate: func(c *Config) { c.Browser.Engines = nil }, prov: both, wantErr: "engines is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validHA()
			tt.mutate(cfg)
			err := cfg.Validate(tt.prov)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProviders(t *testing.T) {
	cfg := validHA()

	assert.Equal(t, []model.Provider{model.ProviderWater}, cfg.Providers(true, false))
	assert.Equal(t, []model.Provider{model.ProviderGas}, cfg.Providers(false, true))
	assert.Equal(t, []model.Provider{model.ProviderGas, model.ProviderWater}, cfg.Providers(true, true))
	assert.Equal(t, []model.Provider{model.ProviderGas, model.ProviderWater}, cfg.Providers(false, false))

	cfg.GRDF.PCE = ""
	assert.Equal(t, []model.Provider{model.ProviderWater}, cfg.Providers(false, false))
}

func TestMasked(t *testing.T) {
	cfg := validHA()
	cfg.Captcha.TwoCaptchaToken = "2c"

	m := cfg.Masked()
	assert.Equal(t, maskedValue, m.Veolia.Password)
	assert.Equal(t, maskedValue, m.GRDF.Password)
	assert.Equal(t, maskedValue, m.HomeAssistant.Token)
	assert.Equal(t, maskedValue, m.Captcha.TwoCaptchaToken)
	assert.Empty(t, m.Captcha.CapmonsterToken)
	assert.Equal(t, "a", m.Veolia.Login)

	// original untouched
	assert.Equal(t, "b", cfg.Veolia.Password)
}

func TestWithLogsFolder(t *testing.T) {
	cfg := validHA()
	cfg.LogsFolder = "/var/log/meters"

	assert.Equal(t, "/var/log/meters", cfg.WithLogsFolder("").LogsFolder)
	assert.Equal(t, "/tmp/other", cfg.WithLogsFolder("/tmp/other").LogsFolder)
	assert.Equal(t, "/var/log/meters", cfg.LogsFolder)
}

func TestInitLoggerJSON(t *testing.T) {
	dir := t.TempDir()
	err := InitLogger(LogConfig{Level: "info", Format: "json"}, dir, false)
	require.NoError(t, err)

	zap.L().Info("hello")
	_ = zap.L().Sync()

	_, statErr := os.Stat(filepath.Join(dir, "service.log"))
	assert.NoError(t, statErr)
}

func TestInitLoggerDebug(t *testing.T) {
	err := InitLogger(LogConfig{Level: "warn", Format: "json"}, t.TempDir(), true)
	require.NoError(t, err)
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"}, t.TempDir(), false)
	assert.Error(t, err)
}
