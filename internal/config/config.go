// Package config assembles replygate's typed configuration from layered YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	pkgconfig "replygate/pkg/config"
)

type CacheConfig struct {
	// Backend is "redis" or "memory". memory only works when server and scanner share a process.
	Backend      string `yaml:"backend"`
	MaxEntrySize int    `yaml:"max_entry_size"`
}

type GmailConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
}

type GeneratorConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	MaxInputChars int           `yaml:"max_input_chars"`
	Timeout       time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	MonitoredSenders []string      `yaml:"monitored_senders"`
	PrioritySender   string        `yaml:"priority_sender"`
	OperatorAddress  string        `yaml:"operator_address"`
	SearchLimit      int64         `yaml:"search_limit"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	LedgerTTL        time.Duration `yaml:"ledger_ttl"`
	LedgerSliding    bool          `yaml:"ledger_sliding"`
	PendingTTL       time.Duration `yaml:"pending_ttl"`
}

type ScheduleConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Hours    []int         `yaml:"hours"`
}

type ApprovalConfig struct {
	AtomicClaim bool `yaml:"atomic_claim"`
}

type Config struct {
	Server    pkgconfig.ServerConfig `yaml:"server"`
	Redis     pkgconfig.RedisConfig  `yaml:"redis"`
	Cache     CacheConfig            `yaml:"cache"`
	MQ        pkgconfig.MQConfig     `yaml:"mq"`
	Gmail     GmailConfig            `yaml:"gmail"`
	Generator GeneratorConfig        `yaml:"generator"`
	Pipeline  PipelineConfig         `yaml:"pipeline"`
	Schedule  ScheduleConfig         `yaml:"schedule"`
	Approval  ApprovalConfig         `yaml:"approval"`
	Log       pkgconfig.LogConfig    `yaml:"log"`
}

// Default returns the settings used for keys absent from every config layer.
func Default() Config {
	return Config{
		Server:    pkgconfig.ServerConfig{Port: "8080", PublicURL: "http://localhost:8080"},
		Redis:     pkgconfig.RedisConfig{Addr: "localhost:6379"},
		Cache:     CacheConfig{Backend: "redis", MaxEntrySize: 100 * 1024},
		Gmail:     GmailConfig{CredentialsFile: "credentials.json", TokenFile: "token.json"},
		Generator: GeneratorConfig{Model: "gpt-3.5-turbo", MaxInputChars: 8000, Timeout: 30 * time.Second},
		Pipeline: PipelineConfig{
			SearchLimit:   50,
			CallTimeout:   30 * time.Second,
			LedgerTTL:     6 * time.Hour,
			LedgerSliding: true,
			PendingTTL:    6 * time.Hour,
		},
		Schedule: ScheduleConfig{Enabled: true, Interval: time.Hour},
		Approval: ApprovalConfig{AtomicClaim: true},
		Log:      pkgconfig.LogConfig{Level: "info"},
	}
}

// Load reads config/base.yaml plus the CONFIG_ENV overlay, applies env overrides and validates.
func Load(configDir string) (*Config, error) {
	cfgMap, err := pkgconfig.LoadConfig(pkgconfig.GetConfigEnv(), configDir)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := pkgconfig.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	pkgconfig.OverrideServerFromEnv(&cfg.Server)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideLogFromEnv(&cfg.Log)
	overrideFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Generator.APIKey = key
	}
	if addr := os.Getenv("OPERATOR_ADDRESS"); addr != "" {
		cfg.Pipeline.OperatorAddress = addr
	}
	if senders := os.Getenv("MONITORED_SENDERS"); senders != "" {
		cfg.Pipeline.MonitoredSenders = splitList(senders)
	}
	if backend := os.Getenv("CACHE_BACKEND"); backend != "" {
		cfg.Cache.Backend = backend
	}
	if atomic := os.Getenv("APPROVAL_ATOMIC_CLAIM"); atomic != "" {
		if b, err := strconv.ParseBool(atomic); err == nil {
			cfg.Approval.AtomicClaim = b
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.Backend != "redis" && c.Cache.Backend != "memory" {
		errs = append(errs, fmt.Errorf("cache.backend must be redis or memory, got %q", c.Cache.Backend))
	}
	if c.Cache.Backend == "redis" && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required for the redis cache backend"))
	}
	if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.public_url must be an absolute URL, got %q", c.Server.PublicURL))
	}
	if len(c.Pipeline.MonitoredSenders) == 0 && c.Pipeline.PrioritySender == "" {
		errs = append(errs, errors.New("pipeline needs monitored_senders or priority_sender"))
	}
	if c.Pipeline.LedgerTTL <= 0 || c.Pipeline.PendingTTL <= 0 {
		errs = append(errs, errors.New("pipeline ledger_ttl and pending_ttl must be positive"))
	}
	if c.Schedule.Interval <= 0 && len(c.Schedule.Hours) == 0 {
		errs = append(errs, errors.New("schedule.interval must be positive"))
	}
	for _, h := range c.Schedule.Hours {
		if h < 0 || h > 23 {
			errs = append(errs, fmt.Errorf("schedule.hours entry %d out of range 0-23", h))
		}
	}
	return errors.Join(errs...)
}
