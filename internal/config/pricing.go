package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Plan prices one billing plan. Rates are unit prices keyed by usage metric.
type Plan struct {
	Name             string
	Currency         string
	BaseFee          decimal.Decimal
	Rates            map[string]decimal.Decimal
	PaymentTermsDays int
}

type PricingConfig struct {
	DefaultPlan string
	Plans       map[string]Plan
}

// Plan resolves name, falling back to the default plan.
func (c PricingConfig) Plan(name string) (Plan, bool) {
	if p, ok := c.Plans[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p, true
	}
	p, ok := c.Plans[c.DefaultPlan]
	return p, ok
}

type planDocument struct {
	Currency         string            `mapstructure:"currency"`
	BaseFee          string            `mapstructure:"baseFee"`
	PaymentTermsDays int               `mapstructure:"paymentTermsDays"`
	Rates            map[string]string `mapstructure:"rates"`
}

type pricingDocument struct {
	DefaultPlan string                  `mapstructure:"defaultPlan"`
	Plans       map[string]planDocument `mapstructure:"plans"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		DefaultPlan: "standard",
		Plans: map[string]Plan{
			"standard": {
				Name:     "standard",
				Currency: "KES",
				BaseFee:  decimal.Zero,
				Rates: map[string]decimal.Decimal{
					"orders":    decimal.RequireFromString("25"),
					"km":        decimal.RequireFromString("5"),
					"api_calls": decimal.RequireFromString("0.01"),
					"drivers":   decimal.RequireFromString("100"),
				},
				PaymentTermsDays: 14,
			},
		},
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingHolder returns a holder that never reloads.
func NewStaticPricingHolder(cfg PricingConfig) *PricingConfigHolder {
	h := &PricingConfigHolder{}
	h.current.Store(cfg)
	return h
}

func NewPricingConfigHolder(cfg Config, log *zap.Logger) (*PricingConfigHolder, error) {
	log = log.Named("pricing.config")
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	for _, path := range cfg.PricingConfigPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("VALKYRIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("pricing file not found, using defaults")
		return NewStaticPricingHolder(DefaultPricingConfig()), nil
	}

	parsed, err := decodePricing(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPricingHolder(parsed)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePricing(v)
		if err != nil {
			log.Warn("invalid pricing config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func decodePricing(v *viper.Viper) (PricingConfig, error) {
	var doc pricingDocument
	if err := v.UnmarshalKey("pricing", &doc); err != nil {
		return PricingConfig{}, err
	}
	return parsePricingDocument(doc)
}

func parsePricingDocument(doc pricingDocument) (PricingConfig, error) {
	if len(doc.Plans) == 0 {
		return PricingConfig{}, errors.New("pricing.plans cannot be empty")
	}

	out := PricingConfig{
		DefaultPlan: strings.ToLower(strings.TrimSpace(doc.DefaultPlan)),
		Plans:       make(map[string]Plan, len(doc.Plans)),
	}
	for name, raw := range doc.Plans {
		key := strings.ToLower(strings.TrimSpace(name))
		plan := Plan{
			Name:             key,
			Currency:         strings.ToUpper(strings.TrimSpace(raw.Currency)),
			BaseFee:          decimal.Zero,
			Rates:            make(map[string]decimal.Decimal, len(raw.Rates)),
			PaymentTermsDays: raw.PaymentTermsDays,
		}
		if plan.Currency == "" {
			return PricingConfig{}, fmt.Errorf("pricing.plans.%s.currency is required", key)
		}
		if plan.PaymentTermsDays <= 0 {
			plan.PaymentTermsDays = 14
		}
		if strings.TrimSpace(raw.BaseFee) != "" {
			fee, err := decimal.NewFromString(strings.TrimSpace(raw.BaseFee))
			if err != nil || fee.IsNegative() {
				return PricingConfig{}, fmt.Errorf("pricing.plans.%s.baseFee is invalid", key)
			}
			plan.BaseFee = fee
		}
		for metric, value := range raw.Rates {
			rate, err := decimal.NewFromString(strings.TrimSpace(value))
			if err != nil || rate.IsNegative() {
				return PricingConfig{}, fmt.Errorf("pricing.plans.%s.rates.%s is invalid", key, metric)
			}
			plan.Rates[strings.ToLower(metric)] = rate
		}
		out.Plans[key] = plan
	}

	if out.DefaultPlan == "" {
		out.DefaultPlan = "standard"
	}
	if _, ok := out.Plans[out.DefaultPlan]; !ok {
		return PricingConfig{}, fmt.Errorf("pricing.defaultPlan %q is not defined", out.DefaultPlan)
	}
	return out, nil
}
