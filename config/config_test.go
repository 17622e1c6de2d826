// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "", cfg.Web.Config)

	assert.Equal(t, 10*time.Millisecond, cfg.PM.TickPeriod)
	assert.Equal(t, 24*time.Hour, cfg.PM.MaxCompensation)
	assert.Equal(t, 32, cfg.PM.MaxDomains)
	assert.Equal(t, []string{"IDLE", "DISPLAY"}, cfg.PM.InteractiveDomains)
	assert.Equal(t, uint64(1), cfg.PM.WakeTickCredit)
	assert.Equal(t, uint64(32768), cfg.Board.CounterHz)
	assert.True(t, *cfg.Exporter.Debugfs.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	yamlData := `
log:
  level: debug
  format: json
pm:
  tickPeriod: 1ms
  timeSlice: 50ms
  minSleep: 2ms
  maxDomains: 8
  interactiveDomains: [IDLE, LCD]
  cores: 2
  activity:
    memory: 4
    normalThreshold: 5
    foregroundThreshold: 50
board:
  counterHz: 1000000
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, time.Millisecond, cfg.PM.TickPeriod)
	assert.Equal(t, 50*time.Millisecond, cfg.PM.TimeSlice)
	assert.Equal(t, 2*time.Millisecond, cfg.PM.MinSleep)
	assert.Equal(t, 8, cfg.PM.MaxDomains)
	assert.Equal(t, []string{"IDLE", "LCD"}, cfg.PM.InteractiveDomains)
	assert.Equal(t, 2, cfg.PM.Cores)
	assert.Equal(t, Activity{Memory: 4, NormalThreshold: 5, ForegroundThreshold: 50}, cfg.PM.Activity)
	assert.Equal(t, uint64(1_000_000), cfg.Board.CounterHz)

	// untouched values keep their defaults
	assert.Equal(t, 31, cfg.PM.DomainNameLength)
	assert.Equal(t, 16, cfg.PM.TimerPoolSize)
}

func TestLoadEmptyFromYAML(t *testing.T) {
	cfg, err := Load(strings.NewReader(``))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().String(), cfg.String())
}

func TestLoadInvalidConfigFromYAML(t *testing.T) {
	yamlData := `
log:
  level: FATAL
  format: json
`
	cfg, err := Load(strings.NewReader(yamlData))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Nil(t, cfg)
}

func TestCommandLinePrecedence(t *testing.T) {
	yamlData := `
pm:
  tickPeriod: 1ms
  cores: 4
exporter:
  stdout:
    enabled: false
  prometheus:
    enabled: false
    debugCollectors:
      - go
debug:
  pprof:
    enabled: false
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	app := kingpin.New("test", "Test application")
	updateConfig := RegisterFlags(app)

	_, err = app.Parse([]string{
		"--exporter.stdout",
		"--debug.pprof",
		"--pm.tick-period=5ms",
		"--board.counter-hz=1000000",
	})
	require.NoError(t, err)
	require.NoError(t, updateConfig(cfg))

	assert.True(t, *cfg.Exporter.Stdout.Enabled, "stdout exporter should be enabled from flag")
	assert.False(t, *cfg.Exporter.Prometheus.Enabled, "prometheus exporter should remain disabled from yaml")
	assert.ElementsMatch(t, []string{"go"}, cfg.Exporter.Prometheus.DebugCollectors)
	assert.True(t, *cfg.Debug.Pprof.Enabled, "pprof should be enabled from flag")
	assert.Equal(t, 5*time.Millisecond, cfg.PM.TickPeriod, "flag overrides yaml")
	assert.Equal(t, 4, cfg.PM.Cores, "unset flag keeps the yaml value")
	assert.Equal(t, uint64(1_000_000), cfg.Board.CounterHz)
}

func TestWhitespaceHandling(t *testing.T) {
	yamlData := `
log:
  level: "  debug  "
  format: "  json  "
pm:
  interactiveDomains: ["  IDLE  ", " DISPLAY"]
exporter:
  prometheus:
    debugCollectors: ["  go  ", "  process  "]
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"IDLE", "DISPLAY"}, cfg.PM.InteractiveDomains)
	assert.ElementsMatch(t, []string{"go", "process"}, cfg.Exporter.Prometheus.DebugCollectors)
}

func TestFromRealFile(t *testing.T) {
	yamlData := `
log:
  level: debug
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	_, err = tmpfile.Write([]byte(yamlData))
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := FromFile(tmpfile.Name())
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestInvalidYAML(t *testing.T) {
	yamlData := `
log:
  level: FATAL
invalid yaml
`
	_, err := Load(strings.NewReader(yamlData))
	assert.Error(t, err, "Loading invalid YAML should return an error")
}

func TestInvalidFile(t *testing.T) {
	_, err := FromFile("non_existent_file.yaml")
	assert.Error(t, err, "Loading from non-existent file should return an error")
}

// ErrorReader is a mock io.Reader that always returns an error
type ErrorReader struct{}

func (r *ErrorReader) Read(p []byte) (n int, err error) {
	return 0, os.ErrInvalid
}

func TestReadError(t *testing.T) {
	_, err := Load(&ErrorReader{})
	assert.Error(t, err, "Read error should propagate")
}

func TestInvalidConfigurationValues(t *testing.T) {
	tt := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"zero tick period", func(c *Config) { c.PM.TickPeriod = 0 }, "invalid tick period"},
		{"slice shorter than a tick", func(c *Config) { c.PM.TimeSlice = time.Millisecond }, "invalid time slice"},
		{"negative min sleep", func(c *Config) { c.PM.MinSleep = -time.Second }, "invalid min sleep"},
		{"compensation shorter than a tick", func(c *Config) { c.PM.MaxCompensation = time.Millisecond }, "invalid max compensation"},
		{"no domains", func(c *Config) { c.PM.MaxDomains = 0 }, "invalid max domains"},
		{"zero name length", func(c *Config) { c.PM.DomainNameLength = 0 }, "invalid domain name length"},
		{"negative pool", func(c *Config) { c.PM.TimerPoolSize = -1 }, "invalid timer pool size"},
		{"empty interactive name", func(c *Config) { c.PM.InteractiveDomains = []string{""} }, "invalid interactive domain name"},
		{"long interactive name", func(c *Config) { c.PM.InteractiveDomains = []string{strings.Repeat("X", 32)} }, "invalid interactive domain name"},
		{"no cores", func(c *Config) { c.PM.Cores = 0 }, "invalid number of cores"},
		{"inverted thresholds", func(c *Config) { c.PM.Activity.NormalThreshold = 50 }, "invalid activity thresholds"},
		{"zero counter", func(c *Config) { c.Board.CounterHz = 0 }, "invalid board counter frequency"},
		{"no listen address", func(c *Config) { c.Web.ListenAddresses = nil }, "at least one web listen address"},
		{"bad port", func(c *Config) { c.Web.ListenAddresses = []string{":99999"} }, "invalid web listen address"},
		{"missing web config", func(c *Config) { c.Web.Config = "/does/not/exist.yaml" }, "invalid web config file"},
		{"stdout without interval", func(c *Config) {
			c.Exporter.Stdout.Enabled = ptr.To(true)
			c.Exporter.Stdout.Interval = 0
		}, "invalid stdout interval"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestInvalidFlagValues(t *testing.T) {
	tt := []struct {
		name string
		args []string
	}{
		{"unknown log level", []string{"--log.level=trace"}},
		{"unknown log format", []string{"--log.format=xml"}},
		{"bad duration", []string{"--pm.tick-period=fast"}},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			app := kingpin.New("test", "Test application")
			RegisterFlags(app)
			_, err := app.Parse(tc.args)
			assert.Error(t, err)
		})
	}

	t.Run("valid flags producing an invalid config", func(t *testing.T) {
		app := kingpin.New("test", "Test application")
		updateConfig := RegisterFlags(app)
		_, err := app.Parse([]string{"--pm.cores=0"})
		require.NoError(t, err)
		assert.ErrorContains(t, updateConfig(DefaultConfig()), "invalid number of cores")
	})
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	str := cfg.String()

	var parsed Config
	require.NoError(t, yaml.Unmarshal([]byte(str), &parsed))
	assert.Equal(t, cfg.PM, parsed.PM)
	assert.Equal(t, cfg.Exporter.Prometheus.MetricsLevel, parsed.Exporter.Prometheus.MetricsLevel)

	manual := cfg.manualString()
	for _, want := range []string{
		"log.level: info",
		"pm.tick-period: 10ms",
		"pm.max-compensation: 24h0m0s",
		"pm.interactive-domains: IDLE, DISPLAY",
		"board.counter-hz: 32768",
		"exporter.debugfs: true",
		"metrics: state,domain,wakeup,sleep",
	} {
		assert.Contains(t, manual, want)
	}
}

func TestWebConfig(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "web-config-*.yaml")
	require.NoError(t, err)
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()
	_, err = tmpfile.WriteString("tls_server_config: {}\n")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	app := kingpin.New("test", "Test application")
	updateConfig := RegisterFlags(app)
	_, err = app.Parse([]string{
		"--web.config-file=" + tmpfile.Name(),
		"--web.listen-address=127.0.0.1:9000",
		"--web.listen-address=:9001",
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	require.NoError(t, updateConfig(cfg))
	assert.Equal(t, tmpfile.Name(), cfg.Web.Config)
	assert.Equal(t, []string{"127.0.0.1:9000", ":9001"}, cfg.Web.ListenAddresses)
}

func TestExporterFlags(t *testing.T) {
	app := kingpin.New("test", "Test application")
	updateConfig := RegisterFlags(app)
	_, err := app.Parse([]string{
		"--exporter.stdout",
		"--exporter.stdout.interval=1s",
		"--no-exporter.prometheus",
		"--no-exporter.debugfs",
		"--metrics=state",
		"--metrics=sleep",
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	require.NoError(t, updateConfig(cfg))
	assert.True(t, *cfg.Exporter.Stdout.Enabled)
	assert.Equal(t, time.Second, cfg.Exporter.Stdout.Interval)
	assert.False(t, *cfg.Exporter.Prometheus.Enabled)
	assert.False(t, *cfg.Exporter.Debugfs.Enabled)
	assert.Equal(t, MetricsLevelState|MetricsLevelSleep, cfg.Exporter.Prometheus.MetricsLevel)
}

func TestBuilder(t *testing.T) {
	t.Run("Build", func(t *testing.T) {
		b := &Builder{}
		got, err := b.Build()
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().String(), got.String())
	})

	t.Run("Use", func(t *testing.T) {
		exp := DefaultConfig()
		exp.Log.Level = "warn"

		got, err := (&Builder{}).Use(exp).Build()
		require.NoError(t, err)
		assert.Equal(t, exp.String(), got.String())
	})

	t.Run("MergeWithInvalidYAML", func(t *testing.T) {
		cfg, err := (&Builder{}).Merge().
			Merge(`invalid yaml: [invalid`).
			Build()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse YAML")
		assert.Nil(t, cfg)
	})

	t.Run("MultipleMerges", func(t *testing.T) {
		cfg, err := (&Builder{}).
			Merge(`
log:
  level: debug
`,
				`
pm:
  tickPeriod: 1ms
  maxDomains: 4
`,
				`
log:
  level: info
`).
			Build()
		require.NoError(t, err)
		exp := DefaultConfig()
		exp.PM.TickPeriod = time.Millisecond
		exp.PM.MaxDomains = 4
		assert.Equal(t, exp.String(), cfg.String())
	})

	t.Run("MergeBoolFalse", func(t *testing.T) {
		cfg, err := (&Builder{}).
			Merge(`
exporter:
  debugfs:
    enabled: false
`).
			Build()
		require.NoError(t, err)
		exp := DefaultConfig()
		exp.Exporter.Debugfs.Enabled = ptr.To(false)
		assert.Equal(t, exp.String(), cfg.String())
	})

	t.Run("MergeArrays", func(t *testing.T) {
		cfg, err := (&Builder{}).
			Merge(`
pm:
  interactiveDomains: [IDLE]
`).
			Build()
		require.NoError(t, err)
		assert.Equal(t, []string{"IDLE"}, cfg.PM.InteractiveDomains)
	})

	t.Run("ErrorsNameTheirFragment", func(t *testing.T) {
		_, err := (&Builder{}).
			Merge(`log: {level: debug}`, `pm: [broken`).
			MergeProfile("artik").
			Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fragment 2: failed to parse YAML")
		assert.Contains(t, err.Error(), `unknown board profile "artik"`)
		assert.NotContains(t, err.Error(), "fragment 1")
	})

	t.Run("ProfileThenFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "board.yaml")
		require.NoError(t, os.WriteFile(file, []byte("pm:\n  cores: 1\n"), 0o600))

		cfg, err := (&Builder{}).MergeProfile("esp32").MergeFile(file).Build()
		require.NoError(t, err)
		assert.Equal(t, uint64(150000), cfg.Board.CounterHz)
		assert.Equal(t, 1, cfg.PM.Cores, "file overrides the profile")
	})

	t.Run("FileErrors", func(t *testing.T) {
		_, err := (&Builder{}).MergeFile(filepath.Join(t.TempDir(), "missing.yaml")).Build()
		assert.ErrorContains(t, err, "failed to read config file")

		file := filepath.Join(t.TempDir(), "broken.yaml")
		require.NoError(t, os.WriteFile(file, []byte("board: [\n"), 0o600))
		_, err = (&Builder{}).MergeFile(file).Build()
		assert.ErrorContains(t, err, file+": failed to parse YAML")
	})

	t.Run("EmptyProfileAndFile", func(t *testing.T) {
		cfg, err := (&Builder{}).MergeProfile("").MergeFile("").Build()
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().String(), cfg.String())
	})

	t.Run("InvalidResult", func(t *testing.T) {
		_, err := (&Builder{}).Merge(`
pm:
  cores: -1
`).Build()
		assert.ErrorContains(t, err, "invalid number of cores")
	})
}

func TestMetricsLevelValue(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		expectedLevel Level
		expectError   bool
	}{
		{
			name:          "Single flag value",
			args:          []string{"--metrics", "domain"},
			expectedLevel: MetricsLevelDomain,
		},
		{
			name:          "Multiple flag values accumulate",
			args:          []string{"--metrics", "state", "--metrics", "wakeup"},
			expectedLevel: MetricsLevelState | MetricsLevelWakeup,
		},
		{
			name:          "Invalid flag value",
			args:          []string{"--metrics", "invalid"},
			expectedLevel: MetricsLevelAll,
			expectError:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := kingpin.New("test", "test application")
			metricsLevel := MetricsLevelAll
			v := NewMetricsLevelValue(&metricsLevel)
			assert.True(t, v.IsCumulative())
			app.Flag("metrics", "Metrics levels to export").SetValue(v)

			_, err := app.Parse(tt.args)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedLevel, metricsLevel)
			assert.Equal(t, tt.expectedLevel.String(), v.String())
		})
	}
}
