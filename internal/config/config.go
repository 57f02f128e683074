package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/zortexlab/zortexd/internal/engine"
)

type VaultConfig struct {
	Dir            string `yaml:"dir"`
	AreasFile      string `yaml:"areas_file"`
	ObjectivesFile string `yaml:"objectives_file"`
	QueueCapacity  int    `yaml:"queue_capacity"`
	DebounceMillis int    `yaml:"debounce_millis"`
	Watch          bool   `yaml:"watch"`
}

type StorageConfig struct {
	// Profile picks a stock backend wiring: memory, durable-local, or
	// production. DSN overrides the profile when set.
	Profile string `yaml:"profile"`
	DSN     string `yaml:"dsn"`
}

type HTTPConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	AuthSecret    string `yaml:"auth_secret"`
	RatePerMinute int    `yaml:"rate_per_minute"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
}

type NtfyConfig struct {
	ServerURL string `yaml:"server_url"`
	Topic     string `yaml:"topic"`
	Token     string `yaml:"token"`
}

type ScheduleConfig struct {
	DigestCron      string `yaml:"digest_cron"`
	SeasonCheckCron string `yaml:"season_check_cron"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	Quiet bool   `yaml:"quiet"`
}

// RewardsConfig exposes the engine curve knobs in the config file. Zero
// values mean "use the engine default".
type RewardsConfig struct {
	BaseTaskXP           int                    `yaml:"base_task_xp"`
	InitiationMultiplier float64                `yaml:"initiation_multiplier"`
	CompletionMultiplier float64                `yaml:"completion_multiplier"`
	CompletionBonus      int                    `yaml:"completion_bonus"`
	ExecutionXP          int                    `yaml:"execution_xp"`
	BubblePercentage     float64                `yaml:"bubble_percentage"`
	ProjectTransferRate  float64                `yaml:"project_transfer_rate"`
	AreaCurve            engine.LevelCurve      `yaml:"area_curve"`
	SeasonCurve          engine.LevelCurve      `yaml:"season_curve"`
	Tiers                []engine.TierThreshold `yaml:"tiers"`
	ObjectiveBaseXP      int                    `yaml:"objective_base_xp"`
}

type Config struct {
	Vault    VaultConfig    `yaml:"vault"`
	Storage  StorageConfig  `yaml:"storage"`
	HTTP     HTTPConfig     `yaml:"http"`
	Ntfy     NtfyConfig     `yaml:"ntfy"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Log      LogConfig      `yaml:"log"`
	Rewards  RewardsConfig  `yaml:"rewards"`
}

// HomeDir is where zortexd keeps its own files (config, local state).
func HomeDir() string {
	if override := os.Getenv("ZORTEXD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".zortexd")
}

// DefaultPath resolves the config file location: ZORTEXD_CONFIG wins,
// otherwise config.yaml under the home dir.
func DefaultPath() string {
	if override := os.Getenv("ZORTEXD_CONFIG"); override != "" {
		return override
	}
	return filepath.Join(HomeDir(), "config.yaml")
}

// Load builds the effective configuration: defaults, then the YAML file
// (missing file is fine), then env overrides, then normalization and
// validation. An empty path means defaults plus env only.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Vault: VaultConfig{
			AreasFile:      "areas.md",
			ObjectivesFile: "objectives.md",
			QueueCapacity:  256,
			DebounceMillis: 250,
			Watch:          true,
		},
		Storage: StorageConfig{
			Profile: "durable-local",
		},
		HTTP: HTTPConfig{
			ListenAddr:    "127.0.0.1:8787",
			RatePerMinute: 120,
			MaxBodyBytes:  1 << 20,
		},
		Ntfy: NtfyConfig{
			ServerURL: "https://ntfy.sh",
		},
		Schedule: ScheduleConfig{
			DigestCron:      "0 8 * * *",
			SeasonCheckCron: "*/10 * * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("ZORTEXD_VAULT_DIR"); raw != "" {
		cfg.Vault.Dir = raw
	}
	if raw := os.Getenv("ZORTEXD_LISTEN_ADDR"); raw != "" {
		cfg.HTTP.ListenAddr = raw
	}
	if raw := os.Getenv("ZORTEXD_AUTH_SECRET"); raw != "" {
		cfg.HTTP.AuthSecret = raw
	}
	if raw := os.Getenv("ZORTEXD_STORE_PROFILE"); raw != "" {
		cfg.Storage.Profile = raw
	}
	if raw := os.Getenv("ZORTEXD_STORAGE_DSN"); raw != "" {
		cfg.Storage.DSN = raw
	}
	if raw := os.Getenv("ZORTEXD_NTFY_TOPIC"); raw != "" {
		cfg.Ntfy.Topic = raw
	}
	if raw := os.Getenv("ZORTEXD_NTFY_TOKEN"); raw != "" {
		cfg.Ntfy.Token = raw
	}
	if raw := os.Getenv("ZORTEXD_LOG_LEVEL"); raw != "" {
		cfg.Log.Level = raw
	}
	if raw := os.Getenv("ZORTEXD_LOG_FILE"); raw != "" {
		cfg.Log.File = raw
	}
	if raw := os.Getenv("ZORTEXD_RATE_PER_MINUTE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.HTTP.RatePerMinute = v
		}
	}
}

func normalize(cfg *Config) {
	cfg.Vault.Dir = strings.TrimSpace(cfg.Vault.Dir)
	if strings.TrimSpace(cfg.Vault.AreasFile) == "" {
		cfg.Vault.AreasFile = "areas.md"
	}
	if strings.TrimSpace(cfg.Vault.ObjectivesFile) == "" {
		cfg.Vault.ObjectivesFile = "objectives.md"
	}
	if cfg.Vault.QueueCapacity <= 0 {
		cfg.Vault.QueueCapacity = 256
	}
	if cfg.Vault.DebounceMillis <= 0 {
		cfg.Vault.DebounceMillis = 250
	}
	if strings.TrimSpace(cfg.Storage.Profile) == "" && strings.TrimSpace(cfg.Storage.DSN) == "" {
		cfg.Storage.Profile = "durable-local"
	}
	if strings.TrimSpace(cfg.HTTP.ListenAddr) == "" {
		cfg.HTTP.ListenAddr = "127.0.0.1:8787"
	}
	if cfg.HTTP.RatePerMinute < 0 {
		cfg.HTTP.RatePerMinute = 0
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
	if strings.TrimSpace(cfg.Ntfy.ServerURL) == "" {
		cfg.Ntfy.ServerURL = "https://ntfy.sh"
	}
	if strings.TrimSpace(cfg.Schedule.DigestCron) == "" {
		cfg.Schedule.DigestCron = "0 8 * * *"
	}
	if strings.TrimSpace(cfg.Schedule.SeasonCheckCron) == "" {
		cfg.Schedule.SeasonCheckCron = "*/10 * * * *"
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.HTTP.ListenAddr); err != nil {
		return fmt.Errorf("http.listen_addr %q: %w", cfg.HTTP.ListenAddr, err)
	}
	if r := cfg.Rewards.BubblePercentage; r < 0 || r > 1 {
		return fmt.Errorf("rewards.bubble_percentage %v out of range [0,1]", r)
	}
	if r := cfg.Rewards.ProjectTransferRate; r < 0 || r > 1 {
		return fmt.Errorf("rewards.project_transfer_rate %v out of range [0,1]", r)
	}
	for _, tier := range cfg.Rewards.Tiers {
		if tier.Level < 1 || strings.TrimSpace(tier.Name) == "" {
			return fmt.Errorf("rewards.tiers entry %+v is invalid", tier)
		}
	}
	if _, err := cron.ParseStandard(cfg.Schedule.DigestCron); err != nil {
		return fmt.Errorf("schedule.digest_cron %q: %w", cfg.Schedule.DigestCron, err)
	}
	if _, err := cron.ParseStandard(cfg.Schedule.SeasonCheckCron); err != nil {
		return fmt.Errorf("schedule.season_check_cron %q: %w", cfg.Schedule.SeasonCheckCron, err)
	}
	return nil
}

// EngineConfig maps the rewards section onto the engine knobs, leaving
// engine defaults in place for unset values.
func (c Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	r := c.Rewards
	if r.BaseTaskXP > 0 {
		cfg.BaseTaskXP = r.BaseTaskXP
	}
	if r.InitiationMultiplier > 0 {
		cfg.InitiationMultiplier = r.InitiationMultiplier
	}
	if r.CompletionMultiplier > 0 {
		cfg.CompletionMultiplier = r.CompletionMultiplier
	}
	if r.CompletionBonus > 0 {
		cfg.CompletionBonus = r.CompletionBonus
	}
	if r.ExecutionXP > 0 {
		cfg.ExecutionXP = r.ExecutionXP
	}
	if r.BubblePercentage > 0 {
		cfg.BubblePercentage = r.BubblePercentage
	}
	if r.ProjectTransferRate > 0 {
		cfg.ProjectTransferRate = r.ProjectTransferRate
	}
	if r.AreaCurve.Base > 0 && r.AreaCurve.Exponent > 0 {
		cfg.AreaCurve = r.AreaCurve
	}
	if r.SeasonCurve.Base > 0 && r.SeasonCurve.Exponent > 0 {
		cfg.SeasonCurve = r.SeasonCurve
	}
	if len(r.Tiers) > 0 {
		cfg.Tiers = append([]engine.TierThreshold(nil), r.Tiers...)
	}
	if r.ObjectiveBaseXP > 0 {
		cfg.ObjectiveBaseXP = r.ObjectiveBaseXP
	}
	return cfg
}

// StorageDSN resolves the backend DSN: an explicit DSN wins, otherwise
// the profile picks the stock wiring.
func (c Config) StorageDSN() (string, error) {
	if dsn := strings.TrimSpace(c.Storage.DSN); dsn != "" {
		return dsn, nil
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Profile)) {
	case "", "durable-local":
		return "file://" + filepath.Join(HomeDir(), "state"), nil
	case "memory":
		return "memory://", nil
	case "production":
		return "", fmt.Errorf("storage profile %q needs an explicit dsn", c.Storage.Profile)
	default:
		return "", fmt.Errorf("unknown storage profile %q", c.Storage.Profile)
	}
}

// DebounceInterval is how long the watcher waits after the last edit
// before queueing a rescan.
func (c Config) DebounceInterval() time.Duration {
	return time.Duration(c.Vault.DebounceMillis) * time.Millisecond
}
