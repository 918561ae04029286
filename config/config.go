package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Prescription PrescriptionConfig `yaml:"prescription"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Sensor       SensorConfig       `yaml:"sensor"`
	Alarm        AlarmConfig        `yaml:"alarm"`
	Notify       NotifyConfig       `yaml:"notify"`
	WorkerPool   WorkerPoolConfig   `yaml:"worker_pool"`
}

// ServerConfig holds the status API server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
// Driver selects "sqlite" (default, on-device file) or "postgres".
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// PrescriptionConfig holds validation bounds and the default drip factor.
type PrescriptionConfig struct {
	MinVolumeML       int `yaml:"min_volume_ml"`
	MaxVolumeML       int `yaml:"max_volume_ml"`
	MinDurationMin    int `yaml:"min_duration_min"`
	MaxDurationMin    int `yaml:"max_duration_min"`
	DefaultDripFactor int `yaml:"default_drip_factor"`
}

// MonitorConfig holds the timing parameters of the monitoring loop.
type MonitorConfig struct {
	LoopIntervalMS    int `yaml:"loop_interval_ms"`
	DisplayIntervalMS int `yaml:"display_interval_ms"`
	NoFlowTimeoutSec  int `yaml:"no_flow_timeout_sec"`
	FlowResumeGraceMS int `yaml:"flow_resume_grace_ms"`

	LoopInterval    time.Duration `yaml:"-"`
	DisplayInterval time.Duration `yaml:"-"`
	NoFlowTimeout   time.Duration `yaml:"-"`
	FlowResumeGrace time.Duration `yaml:"-"`
}

// SensorConfig holds sensing and calibration parameters.
// Source selects the volume estimation strategy: "drop" or "weight".
type SensorConfig struct {
	Source                string  `yaml:"source"`
	DropDebounceMS        int     `yaml:"drop_debounce_ms"`
	BubbleConfirmWindowMS int     `yaml:"bubble_confirm_window_ms"`
	TareSamples           int     `yaml:"tare_samples"`
	ReferenceMassGrams    float64 `yaml:"reference_mass_grams"`
	WeightToleranceGrams  float64 `yaml:"weight_tolerance_grams"`
	CalibrationTimeoutSec int     `yaml:"calibration_timeout_sec"`

	DropDebounce        time.Duration `yaml:"-"`
	BubbleConfirmWindow time.Duration `yaml:"-"`
	CalibrationTimeout  time.Duration `yaml:"-"`
}

// AlarmConfig holds volume thresholds and buzzer pattern intervals.
type AlarmConfig struct {
	LowVolumeThresholdML     float64 `yaml:"low_volume_threshold_ml"`
	WarningVolumeThresholdML float64 `yaml:"warning_volume_threshold_ml"`
	LowIntervalMS            int     `yaml:"low_interval_ms"`
	BubbleIntervalMS         int     `yaml:"bubble_interval_ms"`
	NoFlowIntervalMS         int     `yaml:"no_flow_interval_ms"`
}

// NotifyConfig holds the SMS gateway endpoint, connectivity probing, and web
// push delivery options. Credentials live in the secrets file.
type NotifyConfig struct {
	SMSEndpoint       string `yaml:"sms_endpoint"`
	SendTimeoutSec    int    `yaml:"send_timeout_sec"`
	ProbeTimeoutSec   int    `yaml:"probe_timeout_sec"`
	NetworkRecheckSec int    `yaml:"network_recheck_sec"`
	PushSubject       string `yaml:"push_subject"`
	PushTTL           int    `yaml:"push_ttl"`

	SendTimeout    time.Duration `yaml:"-"`
	ProbeTimeout   time.Duration `yaml:"-"`
	NetworkRecheck time.Duration `yaml:"-"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Secrets holds the credentials and recipient list loaded once at startup.
// A missing or unreadable secrets file is not an error; the monitor then
// runs in local-only mode.
type Secrets struct {
	SMSUsername   string   `yaml:"sms_username"`
	SMSAPIKey     string   `yaml:"sms_api_key"`
	SMSRecipients []string `yaml:"sms_recipients"`
	VAPIDPublic   string   `yaml:"vapid_public_key"`
	VAPIDPrivate  string   `yaml:"vapid_private_key"`
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadSecrets reads the secrets file. The boolean reports whether the file
// was present and parseable; callers treat false as local-only mode.
func LoadSecrets(path string) (*Secrets, bool) {
	f, err := os.Open(path)
	if err != nil {
		log.Printf("secrets file %s not available: %v", path, err)
		return &Secrets{}, false
	}
	defer f.Close()

	var s Secrets
	if err := yaml.NewDecoder(f).Decode(&s); err != nil {
		log.Printf("secrets file %s unreadable: %v", path, err)
		return &Secrets{}, false
	}
	return &s, true
}

// ApplyDefaults fills every unset or invalid field with its default value.
func (cfg *Config) ApplyDefaults() {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "ivmonitor.db"
	}

	if cfg.Prescription.MinVolumeML <= 0 {
		cfg.Prescription.MinVolumeML = 1
	}
	if cfg.Prescription.MaxVolumeML <= 0 {
		cfg.Prescription.MaxVolumeML = 1500
	}
	if cfg.Prescription.MinDurationMin <= 0 {
		cfg.Prescription.MinDurationMin = 1
	}
	if cfg.Prescription.MaxDurationMin <= 0 {
		cfg.Prescription.MaxDurationMin = 1440
	}
	if cfg.Prescription.DefaultDripFactor <= 0 {
		cfg.Prescription.DefaultDripFactor = 20
	}

	if cfg.Monitor.LoopIntervalMS <= 0 {
		cfg.Monitor.LoopIntervalMS = 100
	}
	if cfg.Monitor.DisplayIntervalMS <= 0 {
		cfg.Monitor.DisplayIntervalMS = 500
	}
	if cfg.Monitor.NoFlowTimeoutSec <= 0 {
		cfg.Monitor.NoFlowTimeoutSec = 30
	}
	if cfg.Monitor.FlowResumeGraceMS <= 0 {
		cfg.Monitor.FlowResumeGraceMS = 5000
	}
	cfg.Monitor.LoopInterval = time.Duration(cfg.Monitor.LoopIntervalMS) * time.Millisecond
	cfg.Monitor.DisplayInterval = time.Duration(cfg.Monitor.DisplayIntervalMS) * time.Millisecond
	cfg.Monitor.NoFlowTimeout = time.Duration(cfg.Monitor.NoFlowTimeoutSec) * time.Second
	cfg.Monitor.FlowResumeGrace = time.Duration(cfg.Monitor.FlowResumeGraceMS) * time.Millisecond

	if cfg.Sensor.Source == "" {
		cfg.Sensor.Source = "drop"
	}
	if cfg.Sensor.DropDebounceMS <= 0 {
		cfg.Sensor.DropDebounceMS = 80
	}
	if cfg.Sensor.BubbleConfirmWindowMS <= 0 {
		cfg.Sensor.BubbleConfirmWindowMS = 400
	}
	if cfg.Sensor.TareSamples <= 0 {
		cfg.Sensor.TareSamples = 5
	}
	if cfg.Sensor.ReferenceMassGrams <= 0 {
		cfg.Sensor.ReferenceMassGrams = 500
	}
	if cfg.Sensor.WeightToleranceGrams <= 0 {
		cfg.Sensor.WeightToleranceGrams = 50
	}
	if cfg.Sensor.CalibrationTimeoutSec <= 0 {
		cfg.Sensor.CalibrationTimeoutSec = 30
	}
	cfg.Sensor.DropDebounce = time.Duration(cfg.Sensor.DropDebounceMS) * time.Millisecond
	cfg.Sensor.BubbleConfirmWindow = time.Duration(cfg.Sensor.BubbleConfirmWindowMS) * time.Millisecond
	cfg.Sensor.CalibrationTimeout = time.Duration(cfg.Sensor.CalibrationTimeoutSec) * time.Second

	if cfg.Alarm.LowVolumeThresholdML <= 0 {
		cfg.Alarm.LowVolumeThresholdML = 200
	}
	if cfg.Alarm.WarningVolumeThresholdML <= 0 {
		cfg.Alarm.WarningVolumeThresholdML = 300
	}
	if cfg.Alarm.LowIntervalMS <= 0 {
		cfg.Alarm.LowIntervalMS = 150
	}
	if cfg.Alarm.BubbleIntervalMS <= 0 {
		cfg.Alarm.BubbleIntervalMS = 100
	}
	if cfg.Alarm.NoFlowIntervalMS <= 0 {
		cfg.Alarm.NoFlowIntervalMS = 200
	}

	if cfg.Notify.SMSEndpoint == "" {
		cfg.Notify.SMSEndpoint = "https://api.africastalking.com/version1/messaging"
	}
	if cfg.Notify.SendTimeoutSec <= 0 {
		cfg.Notify.SendTimeoutSec = 5
	}
	if cfg.Notify.ProbeTimeoutSec <= 0 {
		cfg.Notify.ProbeTimeoutSec = 5
	}
	if cfg.Notify.NetworkRecheckSec <= 0 {
		cfg.Notify.NetworkRecheckSec = 60
	}
	if cfg.Notify.PushTTL <= 0 {
		cfg.Notify.PushTTL = 3600
	}
	cfg.Notify.SendTimeout = time.Duration(cfg.Notify.SendTimeoutSec) * time.Second
	cfg.Notify.ProbeTimeout = time.Duration(cfg.Notify.ProbeTimeoutSec) * time.Second
	cfg.Notify.NetworkRecheck = time.Duration(cfg.Notify.NetworkRecheckSec) * time.Second

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}
