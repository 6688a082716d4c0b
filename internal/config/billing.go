package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig is operator-tunable billing policy, hot-reloadable from
// billing.yml without a restart.
type BillingConfig struct {
	// CreditPoolEnabled controls whether ledger credits extend plan limits
	// during entitlement checks. Credits are a general pool, not earmarked
	// per feature.
	CreditPoolEnabled bool `mapstructure:"creditPoolEnabled"`

	// PeriodCloseGraceDays delays overage computation after a period ends so
	// late usage events can land in their aggregate first.
	PeriodCloseGraceDays int `mapstructure:"periodCloseGraceDays"`

	// PeriodCloseBatchSize bounds how many tenants a single close pass
	// touches.
	PeriodCloseBatchSize int `mapstructure:"periodCloseBatchSize"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		CreditPoolEnabled:    true,
		PeriodCloseGraceDays: 1,
		PeriodCloseBatchSize: 500,
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/stratus/config")
	v.AddConfigPath("/etc/stratus")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STRATUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultBillingConfig()
		v.SetDefault("billing.creditPoolEnabled", defaults.CreditPoolEnabled)
		v.SetDefault("billing.periodCloseGraceDays", defaults.PeriodCloseGraceDays)
		v.SetDefault("billing.periodCloseBatchSize", defaults.PeriodCloseBatchSize)
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

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// NewStaticBillingConfigHolder pins the holder to cfg without file watching.
// Used by tests and one-shot tools.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.PeriodCloseGraceDays < 0 {
		return errors.New("billing.periodCloseGraceDays cannot be negative")
	}
	if cfg.PeriodCloseBatchSize <= 0 {
		return errors.New("billing.periodCloseBatchSize must be positive")
	}
	return nil
}
