package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EstimatesConfig holds the static per-operation duration defaults (in
// seconds) used when no historical sample exists. Values are hand-tuned
// per operation type and may be overridden from estimates.yml at runtime.
type EstimatesConfig struct {
	Defaults map[string]int64 `mapstructure:"defaults"`
}

func DefaultEstimatesConfig() EstimatesConfig {
	return EstimatesConfig{
		Defaults: map[string]int64{
			"main_build":          180,
			"metadata_generation": 30,
			"update":              90,
			"plan_consultation":   60,
			"plan_question":       30,
			"plan_feature":        60,
			"plan_fix":            45,
			"plan_analysis":       60,
			"website_migration":   1200,
		},
	}
}

// EstimatesHolder exposes the current estimate defaults with hot reload.
type EstimatesHolder struct {
	current atomic.Value // holds EstimatesConfig
}

func NewEstimatesHolder() (*EstimatesHolder, error) {
	v := viper.New()

	v.SetConfigName("estimates")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/aitime/config") // Volume-mounted config
	v.AddConfigPath("/etc/aitime")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("AITIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultEstimatesConfig()
		v.SetDefault("estimates.defaults", defaults.Defaults)
	}

	var cfg EstimatesConfig
	if err := v.UnmarshalKey("estimates", &cfg); err != nil {
		return nil, err
	}
	cfg = mergeEstimateDefaults(cfg)
	if err := validateEstimatesConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EstimatesHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EstimatesConfig
		if err := v.UnmarshalKey("estimates", &updated); err != nil {
			log.Printf("[estimates-config] reload failed: %v", err)
			return
		}
		updated = mergeEstimateDefaults(updated)
		if err := validateEstimatesConfig(updated); err != nil {
			log.Printf("[estimates-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[estimates-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *EstimatesHolder) Get() EstimatesConfig {
	return h.current.Load().(EstimatesConfig)
}

// mergeEstimateDefaults keeps the built-in table as the floor so a partial
// estimates.yml never leaves an operation type without a fallback.
func mergeEstimateDefaults(cfg EstimatesConfig) EstimatesConfig {
	merged := DefaultEstimatesConfig()
	for opType, seconds := range cfg.Defaults {
		merged.Defaults[strings.TrimSpace(opType)] = seconds
	}
	return merged
}

func validateEstimatesConfig(cfg EstimatesConfig) error {
	if len(cfg.Defaults) == 0 {
		return errors.New("estimates.defaults cannot be empty")
	}
	for opType, seconds := range cfg.Defaults {
		if seconds <= 0 {
			return errors.New("estimates.defaults." + opType + " must be positive")
		}
	}
	return nil
}
