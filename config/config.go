// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// DefaultListenAddress is where the API server listens unless configured
const DefaultListenAddress = ":28283"

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	// Activity tunes the moving average of driver activity
	Activity struct {
		Memory              uint32 `yaml:"memory"`
		NormalThreshold     uint32 `yaml:"normalThreshold"`
		ForegroundThreshold uint32 `yaml:"foregroundThreshold"`
	}

	// PM holds the build-time constants of the power management core
	PM struct {
		TickPeriod time.Duration `yaml:"tickPeriod"`
		TimeSlice  time.Duration `yaml:"timeSlice"`

		// MinSleep is the shortest sleep worth programming into the wake-up
		// hardware; shorter intervals abort the sleep
		MinSleep time.Duration `yaml:"minSleep"`

		// MaxCompensation bounds the sleep duration credited to the tick
		// counter; longer measurements are discarded as corrupt
		MaxCompensation time.Duration `yaml:"maxCompensation"`

		MaxDomains         int      `yaml:"maxDomains"`
		DomainNameLength   int      `yaml:"domainNameLength"`
		TimerPoolSize      int      `yaml:"timerPoolSize"`
		InteractiveDomains []string `yaml:"interactiveDomains"`
		Cores              int      `yaml:"cores"`

		// WakeTickCredit is the number of ticks the wake interrupt delivers
		// through the regular tick path. In pmsim that tick is the one the
		// idle loop's ticker buffered while the board slept, so the simulated
		// board is built without a wake tick of its own (sim.WithWakeTick).
		WakeTickCredit uint64 `yaml:"wakeTickCredit"`

		Activity Activity `yaml:"activity"`
	}

	// Board configures the simulated board
	Board struct {
		CounterHz uint64 `yaml:"counterHz"`
	}

	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	// Exporter configuration
	StdoutExporter struct {
		Enabled  *bool         `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
		MetricsLevel    Level    `yaml:"metricsLevel"`
	}

	// DebugfsExporter serves the plain text diagnostic view
	DebugfsExporter struct {
		Enabled *bool `yaml:"enabled"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
		Debugfs    DebugfsExporter    `yaml:"debugfs"`
	}

	// Debug configuration
	PprofDebug struct {
		Enabled *bool `yaml:"enabled"`
	}

	Debug struct {
		Pprof PprofDebug `yaml:"pprof"`
	}

	Config struct {
		Log      Log      `yaml:"log"`
		PM       PM       `yaml:"pm"`
		Board    Board    `yaml:"board"`
		Exporter Exporter `yaml:"exporter"`
		Web      Web      `yaml:"web"`
		Debug    Debug    `yaml:"debug"`
	}
)

// MetricsLevelValue is a custom kingpin.Value that parses metrics levels directly into metrics.Level
type MetricsLevelValue struct {
	level *Level
}

// NewMetricsLevelValue creates a new MetricsLevelValue with the given target
func NewMetricsLevelValue(target *Level) *MetricsLevelValue {
	return &MetricsLevelValue{level: target}
}

// Set implements kingpin.Value interface - parses and accumulates metrics levels
func (m *MetricsLevelValue) Set(value string) error {
	level, err := ParseLevel([]string{value})
	if err != nil {
		return err
	}

	// If this is the first value, initialize to 0 first to clear any default
	if *m.level == MetricsLevelAll {
		*m.level = 0
	}

	*m.level |= level
	return nil
}

// String implements kingpin.Value interface
func (m *MetricsLevelValue) String() string {
	return m.level.String()
}

// IsCumulative implements kingpin.Value interface to support multiple values
func (m *MetricsLevelValue) IsCumulative() bool {
	return true
}

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	PMTickPeriodFlag = "pm.tick-period"
	PMTimeSliceFlag  = "pm.time-slice"
	PMMinSleepFlag   = "pm.min-sleep"
	PMCoresFlag      = "pm.cores"

	// NOTE: not flags; fixed at build time on a real target
	PMMaxCompensation    = "pm.max-compensation"
	PMMaxDomains         = "pm.max-domains"
	PMDomainNameLength   = "pm.domain-name-length"
	PMTimerPoolSize      = "pm.timer-pool-size"
	PMInteractiveDomains = "pm.interactive-domains"
	PMWakeTickCredit     = "pm.wake-tick-credit"

	BoardCounterHzFlag = "board.counter-hz"

	pprofEnabledFlag = "debug.pprof"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	// Exporters
	ExporterStdoutEnabledFlag  = "exporter.stdout"
	ExporterStdoutIntervalFlag = "exporter.stdout.interval"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"
	ExporterPrometheusMetricsFlag     = "metrics"

	ExporterDebugfsEnabledFlag = "exporter.debugfs"
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		PM: PM{
			TickPeriod:         10 * time.Millisecond,
			TimeSlice:          100 * time.Millisecond,
			MinSleep:           10 * time.Millisecond,
			MaxCompensation:    24 * time.Hour,
			MaxDomains:         32,
			DomainNameLength:   31,
			TimerPoolSize:      16,
			InteractiveDomains: []string{"IDLE", "DISPLAY"},
			Cores:              1,
			WakeTickCredit:     1,
			Activity: Activity{
				Memory:              2,
				NormalThreshold:     10,
				ForegroundThreshold: 30,
			},
		},
		Board: Board{
			CounterHz: 32768,
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled:  ptr.To(false),
				Interval: 5 * time.Second,
			},
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(true),
				DebugCollectors: []string{"go"},
				MetricsLevel:    MetricsLevelAll,
			},
			Debugfs: DebugfsExporter{
				Enabled: ptr.To(true),
			},
		},
		Debug: Debug{
			Pprof: PprofDebug{
				Enabled: ptr.To(false),
			},
		},
		Web: Web{
			ListenAddresses: []string{DefaultListenAddress},
		},
	}

	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	var errRet error
	defer func() {
		err = file.Close()
		if err != nil && errRet == nil {
			errRet = err
		}
	}()

	cfg, errRet := Load(file)

	return cfg, errRet
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	// power management
	tickPeriod := app.Flag(PMTickPeriodFlag, "Length of one OS tick").Default("10ms").Duration()
	timeSlice := app.Flag(PMTimeSliceFlag, "Interval over which activity is accumulated").Default("100ms").Duration()
	minSleep := app.Flag(PMMinSleepFlag, "Shortest sleep worth entering; 0 to disable").Default("10ms").Duration()
	cores := app.Flag(PMCoresFlag, "Number of CPUs").Default("1").Int()

	counterHz := app.Flag(BoardCounterHzFlag, "Frequency of the real-time counter used to measure sleeps").Default("32768").Uint64()

	enablePprof := app.Flag(pprofEnabledFlag, "Enable pprof debug endpoints").Default("false").Bool()
	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(DefaultListenAddress).Strings()

	// exporters
	stdoutExporterEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("false").Bool()
	stdoutInterval := app.Flag(ExporterStdoutIntervalFlag, "Interval between stdout reports").Default("5s").Duration()

	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("true").Bool()

	metricsLevel := MetricsLevelAll
	app.Flag(ExporterPrometheusMetricsFlag, "Metrics groups to export (state,domain,wakeup,sleep)").SetValue(NewMetricsLevelValue(&metricsLevel))

	debugfsEnabled := app.Flag(ExporterDebugfsEnabledFlag, "Enable the plain text /debug/pm endpoint").Default("true").Bool()

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		// power management settings
		if flagsSet[PMTickPeriodFlag] {
			cfg.PM.TickPeriod = *tickPeriod
		}
		if flagsSet[PMTimeSliceFlag] {
			cfg.PM.TimeSlice = *timeSlice
		}
		if flagsSet[PMMinSleepFlag] {
			cfg.PM.MinSleep = *minSleep
		}
		if flagsSet[PMCoresFlag] {
			cfg.PM.Cores = *cores
		}

		if flagsSet[BoardCounterHzFlag] {
			cfg.Board.CounterHz = *counterHz
		}

		if flagsSet[pprofEnabledFlag] {
			cfg.Debug.Pprof.Enabled = enablePprof
		}

		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}

		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutExporterEnabled
		}
		if flagsSet[ExporterStdoutIntervalFlag] {
			cfg.Exporter.Stdout.Interval = *stdoutInterval
		}

		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}

		if flagsSet[ExporterPrometheusMetricsFlag] {
			cfg.Exporter.Prometheus.MetricsLevel = metricsLevel
		}

		if flagsSet[ExporterDebugfsEnabledFlag] {
			cfg.Exporter.Debugfs.Enabled = debugfsEnabled
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}

	for i := range c.PM.InteractiveDomains {
		c.PM.InteractiveDomains[i] = strings.TrimSpace(c.PM.InteractiveDomains[i])
	}

	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
}

// Validate checks for configuration errors
func (c *Config) Validate() error {
	var errs []string
	{ // log level

		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}

		// Validate logging settings
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}
	errs = append(errs, c.PM.validate()...)
	{ // Board
		if c.Board.CounterHz == 0 {
			errs = append(errs, "invalid board counter frequency: must be positive")
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
	}
	{ // Web listen addresses
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if addr == "" {
				errs = append(errs, "web listen address cannot be empty")
				continue
			}
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}
	{ // Exporters
		if ptr.Deref(c.Exporter.Stdout.Enabled, false) && c.Exporter.Stdout.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid stdout interval: %s must be positive", c.Exporter.Stdout.Interval))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func (pm *PM) validate() []string {
	var errs []string
	if pm.TickPeriod <= 0 {
		errs = append(errs, fmt.Sprintf("invalid tick period: %s must be positive", pm.TickPeriod))
		// everything below is expressed in ticks
		return errs
	}
	if pm.TimeSlice < pm.TickPeriod {
		errs = append(errs, fmt.Sprintf("invalid time slice: %s is shorter than a tick", pm.TimeSlice))
	}
	if pm.MinSleep < 0 {
		errs = append(errs, fmt.Sprintf("invalid min sleep: %s can't be negative", pm.MinSleep))
	}
	if pm.MaxCompensation < pm.TickPeriod {
		errs = append(errs, fmt.Sprintf("invalid max compensation: %s is shorter than a tick", pm.MaxCompensation))
	}
	if pm.MaxDomains <= 0 {
		errs = append(errs, fmt.Sprintf("invalid max domains: %d must be positive", pm.MaxDomains))
	}
	if pm.DomainNameLength <= 0 {
		errs = append(errs, fmt.Sprintf("invalid domain name length: %d must be positive", pm.DomainNameLength))
	}
	if pm.TimerPoolSize < 0 {
		errs = append(errs, fmt.Sprintf("invalid timer pool size: %d can't be negative", pm.TimerPoolSize))
	}
	for _, name := range pm.InteractiveDomains {
		if name == "" || len(name) > pm.DomainNameLength {
			errs = append(errs, fmt.Sprintf("invalid interactive domain name: %q", name))
		}
	}
	if pm.Cores < 1 {
		errs = append(errs, fmt.Sprintf("invalid number of cores: %d", pm.Cores))
	}
	if pm.Activity.NormalThreshold > pm.Activity.ForegroundThreshold {
		errs = append(errs, fmt.Sprintf("invalid activity thresholds: normal %d above foreground %d",
			pm.Activity.NormalThreshold, pm.Activity.ForegroundThreshold))
	}
	return errs
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()
	buf := make([]byte, 8)
	_, err = f.Read(buf)
	if err != nil {
		return err
	}

	return nil
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	// Use Go's standard library to parse host:port
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	// Validate port (host can be empty for listening on all interfaces)
	if err := validatePort(port); err != nil {
		return err
	}

	return nil
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{PMTickPeriodFlag, c.PM.TickPeriod.String()},
		{PMTimeSliceFlag, c.PM.TimeSlice.String()},
		{PMMinSleepFlag, c.PM.MinSleep.String()},
		{PMMaxCompensation, c.PM.MaxCompensation.String()},
		{PMMaxDomains, strconv.Itoa(c.PM.MaxDomains)},
		{PMDomainNameLength, strconv.Itoa(c.PM.DomainNameLength)},
		{PMTimerPoolSize, strconv.Itoa(c.PM.TimerPoolSize)},
		{PMInteractiveDomains, strings.Join(c.PM.InteractiveDomains, ", ")},
		{PMCoresFlag, strconv.Itoa(c.PM.Cores)},
		{PMWakeTickCredit, strconv.FormatUint(c.PM.WakeTickCredit, 10)},
		{BoardCounterHzFlag, strconv.FormatUint(c.Board.CounterHz, 10)},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Stdout.Enabled, false))},
		{ExporterStdoutIntervalFlag, c.Exporter.Stdout.Interval.String()},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Prometheus.Enabled, false))},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
		{ExporterPrometheusMetricsFlag, c.Exporter.Prometheus.MetricsLevel.String()},
		{ExporterDebugfsEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Debugfs.Enabled, false))},
		{pprofEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Debug.Pprof.Enabled, false))},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
