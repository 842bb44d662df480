package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries the billing tunables that operators adjust without a
// redeploy: fee percentage, sweep grace period and order timeouts.
type BillingConfig struct {
	DefaultPlatformFeePercent float64 `mapstructure:"defaultPlatformFeePercent"`
	GracePeriodSeconds        int     `mapstructure:"gracePeriodSeconds"`
	InitiatedTimeoutSeconds   int     `mapstructure:"initiatedTimeoutSeconds"`
	HeartbeatIntervalSeconds  int     `mapstructure:"heartbeatIntervalSeconds"`
	MinRechargeAmount         float64 `mapstructure:"minRechargeAmount"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		DefaultPlatformFeePercent: 10,
		GracePeriodSeconds:        60,
		InitiatedTimeoutSeconds:   300,
		HeartbeatIntervalSeconds:  15,
		MinRechargeAmount:         50,
	}
}

func (c BillingConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

func (c BillingConfig) InitiatedTimeout() time.Duration {
	return time.Duration(c.InitiatedTimeoutSeconds) * time.Second
}

// BillingConfigHolder exposes the current billing config and hot-reloads it
// when the underlying file changes.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/talktime/config")
	v.AddConfigPath("/etc/talktime")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TALKTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.defaultPlatformFeePercent", defaults.DefaultPlatformFeePercent)
	v.SetDefault("billing.gracePeriodSeconds", defaults.GracePeriodSeconds)
	v.SetDefault("billing.initiatedTimeoutSeconds", defaults.InitiatedTimeoutSeconds)
	v.SetDefault("billing.heartbeatIntervalSeconds", defaults.HeartbeatIntervalSeconds)
	v.SetDefault("billing.minRechargeAmount", defaults.MinRechargeAmount)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingConfigHolder returns a holder pinned to cfg, for tests.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.DefaultPlatformFeePercent < 0 || cfg.DefaultPlatformFeePercent > 100 {
		return errors.New("billing.defaultPlatformFeePercent must be within [0,100]")
	}
	if cfg.GracePeriodSeconds < 0 {
		return errors.New("billing.gracePeriodSeconds cannot be negative")
	}
	if cfg.InitiatedTimeoutSeconds <= 0 {
		return errors.New("billing.initiatedTimeoutSeconds must be positive")
	}
	return nil
}
