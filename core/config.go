package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultCallbackPath         = "/app/hooks/github/"
	DefaultCheckInterval        = time.Hour
	DefaultCheckInitialDelay    = 3 * time.Minute
	DefaultUnusedAuthDataTTL    = 25 * time.Minute
	DefaultIncorrectReasonTTL   = 120 * time.Minute
	DefaultQuotaLowWaterMark    = 10
	DefaultMergePollConcurrency = 2
	DefaultPersistInterval      = 5 * time.Minute
	DefaultMaxPayloadSize       = 5 * 1024 * 1024
	DefaultPingWait             = 10 * time.Second
	DefaultDedupTTL             = 10 * time.Minute
)

// DefaultMergePollDelays is the wait before each merge commit lookup.
func DefaultMergePollDelays() []time.Duration {
	return []time.Duration{
		10 * time.Second,
		10 * time.Second,
		10 * time.Second,
		30 * time.Second,
		60 * time.Second,
		60 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
}

type CheckConfig struct {
	Interval             time.Duration `koanf:"interval" mapstructure:"interval"`
	InitialDelay         time.Duration `koanf:"initial_delay" mapstructure:"initial_delay"`
	RemoveCorruptedHooks *bool         `koanf:"remove_corrupted_hooks" mapstructure:"remove_corrupted_hooks"`
	UnusedAuthDataTTL    time.Duration `koanf:"unused_auth_data_ttl" mapstructure:"unused_auth_data_ttl"`
	IncorrectReasonTTL   time.Duration `koanf:"incorrect_reason_ttl" mapstructure:"incorrect_reason_ttl"`
}

// RemovesCorruptedHooks reports whether hooks without auth data are deleted
// remotely. Unset means true.
func (c CheckConfig) RemovesCorruptedHooks() bool {
	return c.RemoveCorruptedHooks == nil || *c.RemoveCorruptedHooks
}

func boolPtr(value bool) *bool {
	return &value
}

type QuotaConfig struct {
	LowWaterMark int `koanf:"low_water_mark" mapstructure:"low_water_mark"`
}

type MergePollConfig struct {
	Delays      []time.Duration `koanf:"delays" mapstructure:"delays"`
	Concurrency int             `koanf:"concurrency" mapstructure:"concurrency"`
}

type InboundConfig struct {
	MaxPayloadSize int64         `koanf:"max_payload_size" mapstructure:"max_payload_size"`
	PingWait       time.Duration `koanf:"ping_wait" mapstructure:"ping_wait"`
	DedupTTL       time.Duration `koanf:"dedup_ttl" mapstructure:"dedup_ttl"`
	// BurstWindow coalesces check requests per repository. Zero disables it.
	BurstWindow    time.Duration `koanf:"burst_window" mapstructure:"burst_window"`
}

type Config struct {
	ServiceName     string          `koanf:"service_name" mapstructure:"service_name"`
	ServerURL       string          `koanf:"server_url" mapstructure:"server_url"`
	CallbackPath    string          `koanf:"callback_path" mapstructure:"callback_path"`
	Check           CheckConfig     `koanf:"check" mapstructure:"check"`
	Quota           QuotaConfig     `koanf:"quota" mapstructure:"quota"`
	MergePoll       MergePollConfig `koanf:"merge_poll" mapstructure:"merge_poll"`
	PersistInterval time.Duration   `koanf:"persist_interval" mapstructure:"persist_interval"`
	Inbound         InboundConfig   `koanf:"inbound" mapstructure:"inbound"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:  "commithooks",
		CallbackPath: DefaultCallbackPath,
		Check: CheckConfig{
			Interval:             DefaultCheckInterval,
			InitialDelay:         DefaultCheckInitialDelay,
			RemoveCorruptedHooks: boolPtr(true),
			UnusedAuthDataTTL:    DefaultUnusedAuthDataTTL,
			IncorrectReasonTTL:   DefaultIncorrectReasonTTL,
		},
		Quota: QuotaConfig{LowWaterMark: DefaultQuotaLowWaterMark},
		MergePoll: MergePollConfig{
			Delays:      DefaultMergePollDelays(),
			Concurrency: DefaultMergePollConcurrency,
		},
		PersistInterval: DefaultPersistInterval,
		Inbound: InboundConfig{
			MaxPayloadSize: DefaultMaxPayloadSize,
			PingWait:       DefaultPingWait,
			DedupTTL:       DefaultDedupTTL,
		},
	}
}

// Validate checks shape only. server_url is checked when a callback url is built.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if !strings.HasPrefix(strings.TrimSpace(c.CallbackPath), "/") {
		return fmt.Errorf("core: callback_path must start with /")
	}
	if c.Check.Interval <= 0 || c.Check.InitialDelay < 0 {
		return fmt.Errorf("core: check.interval must be positive")
	}
	if c.Check.UnusedAuthDataTTL <= 0 || c.Check.IncorrectReasonTTL <= 0 {
		return fmt.Errorf("core: check ttl values must be positive")
	}
	if c.Quota.LowWaterMark < 0 {
		return fmt.Errorf("core: quota.low_water_mark must not be negative")
	}
	if len(c.MergePoll.Delays) == 0 {
		return fmt.Errorf("core: merge_poll.delays is required")
	}
	for _, delay := range c.MergePoll.Delays {
		if delay <= 0 {
			return fmt.Errorf("core: merge_poll.delays must be positive")
		}
	}
	if c.MergePoll.Concurrency < 1 {
		return fmt.Errorf("core: merge_poll.concurrency must be positive")
	}
	if c.PersistInterval <= 0 {
		return fmt.Errorf("core: persist_interval must be positive")
	}
	if c.Inbound.MaxPayloadSize <= 0 || c.Inbound.PingWait <= 0 || c.Inbound.DedupTTL <= 0 {
		return fmt.Errorf("core: inbound limits must be positive")
	}
	if c.Inbound.BurstWindow < 0 {
		return fmt.Errorf("core: inbound.burst_window must not be negative")
	}
	return nil
}

// CallbackBase returns server_url/callback_path, always ending in a slash.
func (c Config) CallbackBase() (string, error) {
	server := strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if server == "" {
		return "", ErrServerURLRequired
	}
	path := "/" + strings.Trim(strings.TrimSpace(c.CallbackPath), "/") + "/"
	return server + path, nil
}
