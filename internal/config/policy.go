package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PayoutPolicy holds money-movement knobs that operators may change without a restart.
type PayoutPolicy struct {
	PlatformFeeBps      int64 `mapstructure:"platformFeeBps"`
	AutoApprove         bool  `mapstructure:"autoApprove"`
	SettlementDelayDays int   `mapstructure:"settlementDelayDays"`
	MaxBatchSize        int   `mapstructure:"maxBatchSize"`
}

func DefaultPayoutPolicy() PayoutPolicy {
	return PayoutPolicy{
		PlatformFeeBps:      1000,
		AutoApprove:         false,
		SettlementDelayDays: 2,
		MaxBatchSize:        500,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds PayoutPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy PayoutPolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	if cfg.PolicyPath != "" {
		v.SetConfigFile(cfg.PolicyPath)
	} else {
		v.SetConfigName("policy")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/escrowd/config") // Volume-mounted config
		v.AddConfigPath("/etc/escrowd")            // System config
		v.AddConfigPath(".")                       // Current directory (dev mode)
	}

	v.SetEnvPrefix("ESCROWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPayoutPolicy()
	v.SetDefault("policy.platformFeeBps", defaults.PlatformFeeBps)
	v.SetDefault("policy.autoApprove", defaults.AutoApprove)
	v.SetDefault("policy.settlementDelayDays", defaults.SettlementDelayDays)
	v.SetDefault("policy.maxBatchSize", defaults.MaxBatchSize)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var policy PayoutPolicy
	if err := v.UnmarshalKey("policy", &policy); err != nil {
		return nil, err
	}
	if err := ValidatePayoutPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileFound {
		log.Info("policy file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PayoutPolicy
		if err := v.UnmarshalKey("policy", &updated); err != nil {
			log.Warn("policy reload failed", zap.Error(err))
			return
		}
		if err := ValidatePayoutPolicy(updated); err != nil {
			log.Warn("invalid policy ignored", zap.Error(err))
			return
		}
		holder.Store(updated)
		log.Info("policy reloaded",
			zap.String("file", e.Name),
			zap.Bool("auto_approve", updated.AutoApprove),
			zap.Int64("platform_fee_bps", updated.PlatformFeeBps),
		)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() PayoutPolicy {
	if h == nil {
		return DefaultPayoutPolicy()
	}
	policy, ok := h.current.Load().(PayoutPolicy)
	if !ok {
		return DefaultPayoutPolicy()
	}
	return policy
}

func (h *PolicyHolder) Store(policy PayoutPolicy) {
	h.current.Store(policy)
}

func ValidatePayoutPolicy(policy PayoutPolicy) error {
	if policy.PlatformFeeBps < 0 || policy.PlatformFeeBps >= 10000 {
		return errors.New("policy.platformFeeBps must be within [0, 10000)")
	}
	if policy.SettlementDelayDays < 0 || policy.SettlementDelayDays > 30 {
		return errors.New("policy.settlementDelayDays must be within [0, 30]")
	}
	if policy.MaxBatchSize <= 0 {
		return errors.New("policy.maxBatchSize must be positive")
	}
	return nil
}
