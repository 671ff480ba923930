package config

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/meters-to-ha/internal/model"
)

// TypeHomeAssistant selects the Home Assistant injector. Any other value
// selects Domoticz.
const TypeHomeAssistant = "ha"

// Config holds the full application configuration. The on-disk document is
// flat (one key per setting) so the sub-structs are squashed.
type Config struct {
	Type           string `yaml:"type" mapstructure:"type"`
	Timeout        int    `yaml:"timeout" mapstructure:"timeout"`
	DownloadFolder string `yaml:"download_folder" mapstructure:"download_folder"`
	LogsFolder     string `yaml:"logs_folder" mapstructure:"logs_folder"`
	Screenshot     bool   `yaml:"screenshot" mapstructure:"screenshot"`

	Veolia        VeoliaConfig        `yaml:",inline" mapstructure:",squash"`
	GRDF          GRDFConfig          `yaml:",inline" mapstructure:",squash"`
	Browser       BrowserConfig       `yaml:",inline" mapstructure:",squash"`
	Captcha       CaptchaConfig       `yaml:",inline" mapstructure:",squash"`
	HomeAssistant HomeAssistantConfig `yaml:",inline" mapstructure:",squash"`
	Domoticz      DomoticzConfig      `yaml:",inline" mapstructure:",squash"`
	Log           LogConfig           `yaml:",inline" mapstructure:",squash"`
}

// VeoliaConfig holds the water portal credentials.
type VeoliaConfig struct {
	Login    string `yaml:"veolia_login" mapstructure:"veolia_login"`
	Password string `yaml:"veolia_password" mapstructure:"veolia_password"`
	Contract string `yaml:"veolia_contract" mapstructure:"veolia_contract"`
}

// GRDFConfig holds the gas portal credentials.
type GRDFConfig struct {
	Login    string `yaml:"grdf_login" mapstructure:"grdf_login"`
	Password string `yaml:"grdf_password" mapstructure:"grdf_password"`
	PCE      string `yaml:"grdf_pce" mapstructure:"grdf_pce"`
}

// BrowserConfig locates the browser executables.
type BrowserConfig struct {
	Firefox      string   `yaml:"firefox" mapstructure:"firefox"`
	Geckodriver  string   `yaml:"geckodriver" mapstructure:"geckodriver"`
	Chromium     string   `yaml:"chromium" mapstructure:"chromium"`
	Chromedriver string   `yaml:"chromedriver" mapstructure:"chromedriver"`
	Engines      []string `yaml:"engines" mapstructure:"engines"`
}

// CaptchaConfig holds the solver credentials. Both are optional.
type CaptchaConfig struct {
	TwoCaptchaToken string `yaml:"2captcha_token" mapstructure:"2captcha_token"`
	CapmonsterToken string `yaml:"capmonster_token" mapstructure:"capmonster_token"`
}

// HomeAssistantConfig configures the Home Assistant REST injector.
type HomeAssistantConfig struct {
	Server   string `yaml:"ha_server" mapstructure:"ha_server"`
	Token    string `yaml:"ha_token" mapstructure:"ha_token"`
	Insecure bool   `yaml:"ha_insecure" mapstructure:"ha_insecure"`
}

// DomoticzConfig configures the Domoticz json.htm injector.
type DomoticzConfig struct {
	Server   string `yaml:"domoticz_server" mapstructure:"domoticz_server"`
	IDX      string `yaml:"domoticz_idx" mapstructure:"domoticz_idx"`
	Login    string `yaml:"domoticz_login" mapstructure:"domoticz_login"`
	Password string `yaml:"domoticz_password" mapstructure:"domoticz_password"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"log_level" mapstructure:"log_level"`
	Format string `yaml:"log_format" mapstructure:"log_format"`
}

// Load reads configuration from path and the METERS_* environment. A missing
// file is not an error; every setting can come from the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("METERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	wd, _ := os.Getwd()

	// Every key gets a default so AutomaticEnv can resolve it on Unmarshal.
	v.SetDefault("type", "")
	v.SetDefault("timeout", 30)
	v.SetDefault("download_folder", wd)
	v.SetDefault("logs_folder", wd)
	v.SetDefault("screenshot", false)
	v.SetDefault("veolia_login", "")
	v.SetDefault("veolia_password", "")
	v.SetDefault("veolia_contract", "")
	v.SetDefault("grdf_login", "")
	v.SetDefault("grdf_password", "")
	v.SetDefault("grdf_pce", "")
	v.SetDefault("firefox", lookExecutable(wd, "firefox"))
	v.SetDefault("geckodriver", lookExecutable(wd, "geckodriver"))
	v.SetDefault("chromium", lookExecutable(wd, "chromium", "chromium-browser"))
	v.SetDefault("chromedriver", lookExecutable(wd, "chromedriver"))
	v.SetDefault("engines", []string{"firefox", "chromium"})
	v.SetDefault("2captcha_token", "")
	v.SetDefault("capmonster_token", "")
	v.SetDefault("ha_server", "")
	v.SetDefault("ha_token", "")
	v.SetDefault("ha_insecure", false)
	v.SetDefault("domoticz_server", "")
	v.SetDefault("domoticz_idx", "")
	v.SetDefault("domoticz_login", "")
	v.SetDefault("domoticz_password", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, eris.Wrapf(err, "config: read file %s", path)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	cfg.DownloadFolder = absFolder(cfg.DownloadFolder)
	cfg.LogsFolder = absFolder(cfg.LogsFolder)

	return &cfg, nil
}

// lookExecutable resolves the first name found on PATH, falling back to the
// first name inside dir.
func lookExecutable(dir string, names ...string) string {
	for _, name := range names {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return filepath.Join(dir, names[0])
}

func absFolder(p string) string {
	if p == "" {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// WithLogsFolder returns a copy of the config with the logs folder replaced.
// The command line flag wins over the file.
func (c Config) WithLogsFolder(folder string) *Config {
	if folder != "" {
		c.LogsFolder = absFolder(folder)
	}
	return &c
}

// TimeoutDuration is the configured wait timeout.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// UsesHomeAssistant reports whether the Home Assistant injector is selected.
func (c *Config) UsesHomeAssistant() bool {
	return c.Type == TypeHomeAssistant
}

// Providers returns the providers to crawl. When neither flag is set every
// provider with a contract (water) or delivery point (gas) configured is
// selected.
func (c *Config) Providers(water, gas bool) []model.Provider {
	explicit := water || gas
	var out []model.Provider
	for _, p := range model.AllProviders() {
		var selected bool
		switch p {
		case model.ProviderGas:
			selected = gas || (!explicit && c.GRDF.PCE != "")
		case model.ProviderWater:
			selected = water || (!explicit && c.Veolia.Contract != "")
		}
		if selected {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that every key needed by the selected providers and the
// selected injector is present.
func (c *Config) Validate(providers []model.Provider) error {
	if len(providers) == 0 {
		return eris.New("config: no provider configured (set veolia_contract or grdf_pce)")
	}
	if c.Timeout <= 0 {
		return eris.New("config: timeout must be positive")
	}

	var missing []string
	require := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}

	for _, p := range providers {
		switch p {
		case model.ProviderWater:
			require("veolia_login", c.Veolia.Login)
			require("veolia_password", c.Veolia.Password)
			require("veolia_contract", c.Veolia.Contract)
		case model.ProviderGas:
			require("grdf_login", c.GRDF.Login)
			require("grdf_password", c.GRDF.Password)
			require("grdf_pce", c.GRDF.PCE)
		}
	}

	if c.UsesHomeAssistant() {
		require("ha_server", c.HomeAssistant.Server)
		require("ha_token", c.HomeAssistant.Token)
	} else {
		require("domoticz_server", c.Domoticz.Server)
		require("domoticz_idx", c.Domoticz.IDX)
	}

	if len(c.Browser.Engines) == 0 {
		missing = append(missing, "engines")
	}
	for _, e := range c.Browser.Engines {
		if e != "firefox" && e != "chromium" {
			return eris.Errorf("config: unknown engine %q", e)
		}
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s is required", strings.Join(missing, ", "))
	}
	return nil
}

const maskedValue = "********"

// Masked returns a copy with every secret replaced, suitable for printing.
func (c Config) Masked() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = maskedValue
		}
	}
	mask(&c.Veolia.Password)
	mask(&c.GRDF.Password)
	mask(&c.Captcha.TwoCaptchaToken)
	mask(&c.Captcha.CapmonsterToken)
	mask(&c.HomeAssistant.Token)
	mask(&c.Domoticz.Password)
	c.Browser.Engines = append([]string(nil), c.Browser.Engines...)
	return c
}

// InitLogger initializes the global zap logger. Outside debug mode JSON lines
// go to <logsFolder>/service.log and errors are mirrored to stderr.
func InitLogger(cfg LogConfig, logsFolder string, debug bool) error {
	var zapCfg zap.Config
	if debug || cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	if debug {
		level = zapcore.DebugLevel
	}
	zapCfg.Level.SetLevel(level)

	if !debug && logsFolder != "" {
		if err := os.MkdirAll(logsFolder, 0o755); err != nil {
			return eris.Wrap(err, "config: create logs folder")
		}
		zapCfg.OutputPaths = []string{filepath.Join(logsFolder, "service.log")}
		zapCfg.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
