// Package config loads the supervisor's YAML file and carries it to worker
// processes as a base64 JSON blob in the environment.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"discord-guard-bot/internal/database"
	"discord-guard-bot/internal/redis"
)

// EnvVar holds the bootstrap blob of a worker process
const EnvVar = "GUARD_CONFIG"

// Worker names
const (
	WorkerChannel    = "channel"
	WorkerBan        = "ban"
	WorkerURL        = "url"
	WorkerEmoji      = "emoji"
	WorkerModeration = "moderation"
	WorkerManage     = "manage"
)

// WorkerNames lists every worker in start order
func WorkerNames() []string {
	return []string{WorkerChannel, WorkerBan, WorkerURL, WorkerEmoji, WorkerModeration, WorkerManage}
}

var (
	ErrMissingToken = errors.New("config: enabled worker has no token")
	ErrMissingOwner = errors.New("config: owner_id is required")
	ErrNoBootstrap  = errors.New("config: " + EnvVar + " is not set")
)

type Config struct {
	OwnerID    string                  `json:"owner_id" yaml:"owner_id"`
	TrustedIDs []string                `json:"trusted_ids" yaml:"trusted_ids"`
	Workers    map[string]WorkerConfig `json:"workers" yaml:"workers"`
	Postgres   database.PostgresConfig `json:"postgres" yaml:"postgres"`
	Redis      redis.Config            `json:"redis" yaml:"redis"`
	Guard      GuardConfig             `json:"guard" yaml:"guard"`
	Relay      RelayConfig             `json:"relay" yaml:"relay"`
	Log        LogConfig               `json:"log" yaml:"log"`

	// Worker is the name of the worker a blob was encoded for
	Worker string `json:"worker,omitempty" yaml:"-"`
}

type WorkerConfig struct {
	Token       string `json:"token" yaml:"token"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
}

type GuardConfig struct {
	LookupTimeout       time.Duration `json:"lookup_timeout" yaml:"lookup_timeout"`
	AttributionMaxAge   time.Duration `json:"attribution_max_age" yaml:"attribution_max_age"`
	Threshold           int           `json:"threshold" yaml:"threshold"`
	Window              time.Duration `json:"window" yaml:"window"`
	FloodThreshold      int           `json:"flood_threshold" yaml:"flood_threshold"`
	FloodWindow         time.Duration `json:"flood_window" yaml:"flood_window"`
	MassDeleteThreshold int           `json:"mass_delete_threshold" yaml:"mass_delete_threshold"`
	JoinWindow          time.Duration `json:"join_window" yaml:"join_window"`
	AuditLimit          int           `json:"audit_limit" yaml:"audit_limit"`
	AuditWindow         time.Duration `json:"audit_window" yaml:"audit_window"`
	AllowPattern        string        `json:"allow_pattern" yaml:"allow_pattern"`
	BansPerSecond       float64       `json:"bans_per_second" yaml:"bans_per_second"`
	SafeDomains         []string      `json:"safe_domains" yaml:"safe_domains"`
	CommandCooldown     time.Duration `json:"command_cooldown" yaml:"command_cooldown"`
	ProfileTTL          time.Duration `json:"profile_ttl" yaml:"profile_ttl"`
	ExpirySweep         time.Duration `json:"expiry_sweep" yaml:"expiry_sweep"`
	IncidentRetention   time.Duration `json:"incident_retention" yaml:"incident_retention"`
}

type RelayConfig struct {
	Path         string        `json:"path" yaml:"path"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	DeleteAfter  time.Duration `json:"delete_after" yaml:"delete_after"`
}

type LogConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

// DefaultSafeDomains are link hosts the url worker never treats as suspicious
func DefaultSafeDomains() []string {
	return []string{
		"giphy.com",
		"tenor.com",
		"imgur.com",
		"youtube.com",
		"youtu.be",
		"spotify.com",
		"soundcloud.com",
	}
}

// Load reads, defaults and validates a YAML config file
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) ApplyDefaults() {
	g := &c.Guard
	if g.LookupTimeout <= 0 {
		g.LookupTimeout = 5 * time.Second
	}
	if g.AttributionMaxAge <= 0 {
		g.AttributionMaxAge = 15 * time.Second
	}
	if g.Threshold <= 0 {
		g.Threshold = 3
	}
	if g.Window <= 0 {
		g.Window = 30 * time.Second
	}
	if g.FloodThreshold <= 0 {
		g.FloodThreshold = 5
	}
	if g.FloodWindow <= 0 {
		g.FloodWindow = 10 * time.Second
	}
	if g.MassDeleteThreshold <= 0 {
		g.MassDeleteThreshold = 5
	}
	if g.JoinWindow <= 0 {
		g.JoinWindow = 10 * time.Minute
	}
	if g.AuditLimit <= 0 {
		g.AuditLimit = 50
	}
	if g.AuditWindow <= 0 {
		g.AuditWindow = 5 * time.Minute
	}
	if g.AllowPattern == "" {
		g.AllowPattern = `(?i)henzy|guard`
	}
	if g.BansPerSecond <= 0 {
		g.BansPerSecond = 5
	}
	if g.SafeDomains == nil {
		g.SafeDomains = DefaultSafeDomains()
	}
	if g.CommandCooldown <= 0 {
		g.CommandCooldown = 3 * time.Second
	}
	if g.ProfileTTL <= 0 {
		g.ProfileTTL = 30 * time.Second
	}
	if g.ExpirySweep <= 0 {
		g.ExpirySweep = time.Minute
	}
	if g.IncidentRetention <= 0 {
		g.IncidentRetention = 30 * 24 * time.Hour
	}

	if c.Relay.Path == "" {
		c.Relay.Path = "data/voice_command.json"
	}
	if c.Relay.PollInterval <= 0 {
		c.Relay.PollInterval = 2 * time.Second
	}
	if c.Relay.DeleteAfter <= 0 {
		c.Relay.DeleteAfter = 10 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
}

func (c *Config) Validate() error {
	if c.OwnerID == "" {
		return ErrMissingOwner
	}
	known := make(map[string]bool, len(WorkerNames()))
	for _, n := range WorkerNames() {
		known[n] = true
	}
	for name, w := range c.Workers {
		if !known[name] {
			return fmt.Errorf("config: unknown worker %q", name)
		}
		if w.Enabled && strings.TrimSpace(w.Token) == "" {
			return fmt.Errorf("%w: %s", ErrMissingToken, name)
		}
	}
	if _, err := regexp.Compile(c.Guard.AllowPattern); err != nil {
		return fmt.Errorf("config: guard.allow_pattern: %w", err)
	}
	return nil
}

// EnabledWorkers returns enabled worker names in start order
func (c *Config) EnabledWorkers() []string {
	var out []string
	for _, n := range WorkerNames() {
		if w, ok := c.Workers[n]; ok && w.Enabled {
			out = append(out, n)
		}
	}
	return out
}

// Self returns the settings of the worker the blob was encoded for
func (c *Config) Self() (WorkerConfig, error) {
	w, ok := c.Workers[c.Worker]
	if !ok || !w.Enabled {
		return WorkerConfig{}, fmt.Errorf("config: worker %q is not enabled", c.Worker)
	}
	if w.Token == "" {
		return WorkerConfig{}, fmt.Errorf("%w: %s", ErrMissingToken, c.Worker)
	}
	return w, nil
}

// Trusted returns the engine's own account ids: the configured ones plus the
// id embedded in every worker token.
func (c *Config) Trusted() []string {
	seen := make(map[string]struct{})
	add := func(id string) {
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	for _, id := range c.TrustedIDs {
		add(id)
	}
	for _, w := range c.Workers {
		add(BotIDFromToken(w.Token))
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BotIDFromToken decodes the user id carried in the first segment of a bot
// token. It returns "" for anything that does not look like one.
func BotIDFromToken(token string) string {
	token = strings.TrimPrefix(strings.TrimSpace(token), "Bot ")
	first, _, ok := strings.Cut(token, ".")
	if !ok || first == "" {
		return ""
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(first, "="))
	if err != nil {
		return ""
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return string(raw)
}

// EncodeBlob serializes c for the named worker
func EncodeBlob(c *Config, worker string) (string, error) {
	cp := *c
	cp.Worker = worker
	raw, err := json.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("encode config blob: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func DecodeBlob(blob string) (*Config, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return nil, fmt.Errorf("decode config blob: %w", err)
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode config blob: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromEnv decodes the blob the supervisor placed in the environment
func FromEnv() (*Config, error) {
	blob, ok := os.LookupEnv(EnvVar)
	if !ok || blob == "" {
		return nil, ErrNoBootstrap
	}
	return DecodeBlob(blob)
}
