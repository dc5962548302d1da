package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SortTuning controls when and how the view switches to progressive sorting
type SortTuning struct {
	LargeQueueThreshold int `yaml:"large_queue_threshold" json:"large_queue_threshold"`
	ChunkSize           int `yaml:"chunk_size" json:"chunk_size"`
	InitialBatchSize    int `yaml:"initial_batch_size" json:"initial_batch_size"`
	YieldEveryItems     int `yaml:"yield_every_items" json:"yield_every_items"`
}

// Config is the resolved client configuration
type Config struct {
	MasterURL           string        `yaml:"master_url" json:"master_url"`
	APIKey              string        `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	LogLevel            string        `yaml:"log_level" json:"log_level"`
	LogJSON             bool          `yaml:"log_json" json:"log_json"`
	Language            string        `yaml:"language" json:"language"`
	Sort                SortTuning    `yaml:"sort" json:"sort"`
	RevisionWaitTimeout time.Duration `yaml:"revision_wait_timeout" json:"revision_wait_timeout"`
	RefreshRate         float64       `yaml:"refresh_rate" json:"refresh_rate"`
	RefreshBurst        int           `yaml:"refresh_burst" json:"refresh_burst"`
	RequestTimeout      time.Duration `yaml:"request_timeout" json:"request_timeout"`
	TracingEndpoint     string        `yaml:"tracing_endpoint,omitempty" json:"tracing_endpoint,omitempty"`
	CACert              string        `yaml:"ca_cert,omitempty" json:"ca_cert,omitempty"`
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("master_url", "http://localhost:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("language", "en")
	v.SetDefault("sort.large_queue_threshold", 500)
	v.SetDefault("sort.chunk_size", 250)
	v.SetDefault("sort.initial_batch_size", 100)
	v.SetDefault("sort.yield_every_items", 2000)
	v.SetDefault("revision_wait_timeout", 1500*time.Millisecond)
	v.SetDefault("refresh_rate", 4.0)
	v.SetDefault("refresh_burst", 1)
	v.SetDefault("request_timeout", 30*time.Second)
}

// Setup points v at the config file and environment. An empty cfgFile
// searches $HOME/.ffqueue/config.yaml.
func Setup(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to find home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, ".ffqueue"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FFQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("api_key", "FFQUEUE_API_KEY", "MASTER_API_KEY")
	v.BindEnv("master_url", "FFQUEUE_MASTER_URL", "MASTER_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// Load resolves the configuration from v
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		MasterURL: strings.TrimRight(v.GetString("master_url"), "/"),
		APIKey:    v.GetString("api_key"),
		LogLevel:  v.GetString("log_level"),
		LogJSON:   v.GetBool("log_json"),
		Language:  v.GetString("language"),
		Sort: SortTuning{
			LargeQueueThreshold: v.GetInt("sort.large_queue_threshold"),
			ChunkSize:           v.GetInt("sort.chunk_size"),
			InitialBatchSize:    v.GetInt("sort.initial_batch_size"),
			YieldEveryItems:     v.GetInt("sort.yield_every_items"),
		},
		RevisionWaitTimeout: v.GetDuration("revision_wait_timeout"),
		RefreshRate:         v.GetFloat64("refresh_rate"),
		RefreshBurst:        v.GetInt("refresh_burst"),
		RequestTimeout:      v.GetDuration("request_timeout"),
		TracingEndpoint:     v.GetString("tracing_endpoint"),
		CACert:              v.GetString("ca_cert"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the view cannot run with
func (c Config) Validate() error {
	if c.MasterURL == "" {
		return fmt.Errorf("master_url is required")
	}
	if c.Sort.ChunkSize <= 0 {
		return fmt.Errorf("sort.chunk_size must be positive, got %d", c.Sort.ChunkSize)
	}
	if c.Sort.LargeQueueThreshold < 0 {
		return fmt.Errorf("sort.large_queue_threshold must not be negative, got %d", c.Sort.LargeQueueThreshold)
	}
	if c.RefreshRate <= 0 {
		return fmt.Errorf("refresh_rate must be positive, got %v", c.RefreshRate)
	}
	if c.RefreshBurst < 1 {
		return fmt.Errorf("refresh_burst must be at least 1, got %d", c.RefreshBurst)
	}
	return nil
}
