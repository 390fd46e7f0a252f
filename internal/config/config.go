// Package config loads the flat options struct that drives every other
// component. It centralizes viper wiring behind a typed struct instead
// of scattering viper.Get* calls through the codebase.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Options is the flat configuration surface for the daemon. Every field
// has a documented default, applied by setDefaults before the config
// file/env/flags are merged in. Fields are populated by explicit
// v.Get* calls in Load rather than a single v.Unmarshal: viper stores
// each default/file/env value under its own dotted key
// ("process.enabled", "network.suspicious_ports", ...), and
// mapstructure does not split a struct tag on "." to walk into the
// nested map Unmarshal would otherwise need -- binding each key by hand
// sidesteps that mismatch entirely.
type Options struct {
	LearningMode         bool
	LearningDurationDays int

	ProcessEnabled  bool
	ProcessInterval int

	FileEnabled             bool
	FileWatchedFolders      []string
	FileSensitiveExtensions []string

	NetworkEnabled         bool
	NetworkInterval        int
	NetworkSuspiciousPorts []int
	NetworkMaxUploadMiBMin int

	RegistryEnabled     bool
	RegistryInterval    int
	RegistryWatchedKeys []string

	NotificationsEnabled bool

	MLEnabled               bool
	MLMinSamplesForTraining int

	WebEnabled bool
	WebHost    string
	WebPort    int

	ScoringLowThreshold      int
	ScoringMediumThreshold   int
	ScoringHighThreshold     int
	ScoringCriticalThreshold int

	// StorePath and ModelPath are not part of the original options table
	// but must live somewhere; they default to paths under ConfigDir.
	StorePath string
	ModelPath string
	LogDir    string

	// ConfigDir is set from --config-dir, not from the file itself.
	ConfigDir string
	Verbose   bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("learning_mode", true)
	v.SetDefault("learning_duration_days", 7)

	v.SetDefault("process.enabled", true)
	v.SetDefault("process.interval_s", 5)

	v.SetDefault("file.enabled", true)
	v.SetDefault("file.watched_folders", []string{"~/Documents", "~/Downloads", "~/Desktop"})
	v.SetDefault("file.sensitive_extensions", []string{
		".key", ".pem", ".env", ".p12", ".pfx", ".ovpn", ".kdbx",
		".sqlite", ".db", ".accdb", ".mdb",
	})

	v.SetDefault("network.enabled", true)
	v.SetDefault("network.interval_s", 3)
	v.SetDefault("network.suspicious_ports", []int{4444, 1337, 31337, 6666, 6667})
	v.SetDefault("network.max_upload_mib_per_min", 50)

	v.SetDefault("registry.enabled", true)
	v.SetDefault("registry.interval_s", 10)
	v.SetDefault("registry.watched_keys", []string{
		`HKCU\Software\Microsoft\Windows\CurrentVersion\Run`,
		`HKLM\Software\Microsoft\Windows\CurrentVersion\Run`,
		`HKCU\Software\Microsoft\Windows\CurrentVersion\RunOnce`,
	})

	v.SetDefault("notifications_enabled", true)

	v.SetDefault("ml.enabled", false)
	v.SetDefault("ml.min_samples_for_training", 1000)

	v.SetDefault("web.enabled", false)
	v.SetDefault("web.host", "127.0.0.1")
	v.SetDefault("web.port", 8080)

	v.SetDefault("scoring.low_threshold", 30)
	v.SetDefault("scoring.medium_threshold", 60)
	v.SetDefault("scoring.high_threshold", 80)
	v.SetDefault("scoring.critical_threshold", 95)

	v.SetDefault("store_path", "sentineld.db")
	v.SetDefault("model_path", "anomaly_model.bin")
	v.SetDefault("log_dir", "logs")
}

// bindOptions reads every recognized key off v by name and assembles an
// Options struct. Each call binds one dotted key explicitly -- see the
// comment on Options for why a single v.Unmarshal(opts) cannot do this.
func bindOptions(v *viper.Viper) *Options {
	return &Options{
		LearningMode:         v.GetBool("learning_mode"),
		LearningDurationDays: v.GetInt("learning_duration_days"),

		ProcessEnabled:  v.GetBool("process.enabled"),
		ProcessInterval: v.GetInt("process.interval_s"),

		FileEnabled:             v.GetBool("file.enabled"),
		FileWatchedFolders:      v.GetStringSlice("file.watched_folders"),
		FileSensitiveExtensions: v.GetStringSlice("file.sensitive_extensions"),

		NetworkEnabled:         v.GetBool("network.enabled"),
		NetworkInterval:        v.GetInt("network.interval_s"),
		NetworkSuspiciousPorts: v.GetIntSlice("network.suspicious_ports"),
		NetworkMaxUploadMiBMin: v.GetInt("network.max_upload_mib_per_min"),

		RegistryEnabled:     v.GetBool("registry.enabled"),
		RegistryInterval:    v.GetInt("registry.interval_s"),
		RegistryWatchedKeys: v.GetStringSlice("registry.watched_keys"),

		NotificationsEnabled: v.GetBool("notifications_enabled"),

		MLEnabled:               v.GetBool("ml.enabled"),
		MLMinSamplesForTraining: v.GetInt("ml.min_samples_for_training"),

		WebEnabled: v.GetBool("web.enabled"),
		WebHost:    v.GetString("web.host"),
		WebPort:    v.GetInt("web.port"),

		ScoringLowThreshold:      v.GetInt("scoring.low_threshold"),
		ScoringMediumThreshold:   v.GetInt("scoring.medium_threshold"),
		ScoringHighThreshold:     v.GetInt("scoring.high_threshold"),
		ScoringCriticalThreshold: v.GetInt("scoring.critical_threshold"),

		StorePath: v.GetString("store_path"),
		ModelPath: v.GetString("model_path"),
		LogDir:    v.GetString("log_dir"),
	}
}

// Load reads config.yaml from configDir (falling back to defaults when the
// file does not exist), applies environment overrides, and validates the
// result. A load/validation failure is a fatal initialization error.
func Load(configDir string, verbose bool) (*Options, error) {
	v := viper.New()
	setDefaults(v)

	if configDir == "" {
		configDir = "."
	}
	v.AddConfigPath(configDir)
	v.AddConfigPath("$HOME/.sentineld")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SENTINELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	opts := bindOptions(v)
	opts.ConfigDir = configDir
	opts.Verbose = verbose

	opts.StorePath = resolvePath(configDir, opts.StorePath)
	opts.ModelPath = resolvePath(configDir, opts.ModelPath)
	opts.LogDir = resolvePath(configDir, opts.LogDir)

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func resolvePath(configDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(configDir, p)
}

// Validate enforces the fatal-initialization invariants: at least one
// of the process/file collectors must be enabled, and interval/limit
// values must be positive.
func (o *Options) Validate() error {
	if !o.ProcessEnabled && !o.FileEnabled {
		return fmt.Errorf("config: both process and file collectors are disabled; nothing to monitor")
	}
	if o.ProcessInterval <= 0 {
		return fmt.Errorf("config: process.interval_s must be positive")
	}
	if o.NetworkInterval <= 0 {
		return fmt.Errorf("config: network.interval_s must be positive")
	}
	if o.RegistryInterval <= 0 {
		return fmt.Errorf("config: registry.interval_s must be positive")
	}
	if o.NetworkMaxUploadMiBMin <= 0 {
		return fmt.Errorf("config: network.max_upload_mib_per_min must be positive")
	}
	if o.LearningDurationDays <= 0 {
		return fmt.Errorf("config: learning_duration_days must be positive")
	}
	return nil
}
