package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sort.LargeQueueThreshold != 500 || cfg.Sort.ChunkSize != 250 {
		t.Errorf("unexpected sort defaults: %+v", cfg.Sort)
	}
	if cfg.RevisionWaitTimeout != 1500*time.Millisecond {
		t.Errorf("revision wait timeout = %v", cfg.RevisionWaitTimeout)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("request timeout = %v", cfg.RequestTimeout)
	}
}

func TestSetup_ReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("master_url: http://master:9000/\nsort:\n  chunk_size: 64\nlanguage: zh-CN\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MASTER_API_KEY", "secret")

	v := viper.New()
	if err := Setup(v, path); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MasterURL != "http://master:9000" {
		t.Errorf("master url = %q", cfg.MasterURL)
	}
	if cfg.Sort.ChunkSize != 64 || cfg.Sort.InitialBatchSize != 100 {
		t.Errorf("sort = %+v", cfg.Sort)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("api key = %q", cfg.APIKey)
	}
	if cfg.Language != "zh-CN" {
		t.Errorf("language = %q", cfg.Language)
	}
}

func TestSetup_MissingExplicitFile(t *testing.T) {
	v := viper.New()
	if err := Setup(v, filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("sort.chunk_size", 0)
	if _, err := Load(v); err == nil {
		t.Error("expected chunk size validation error")
	}
}
