package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nalgeon/be"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoadConfigMergesEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "redis:\n  addr: localhost:6379\n  db: 0\nserver:\n  port: \":8080\"\n")
	writeFile(t, dir, "production.yaml", "redis:\n  addr: redis:6379\n")

	cfg, err := LoadConfig("production", dir)
	be.Err(t, err, nil)

	var out struct {
		Redis  RedisConfig  `yaml:"redis"`
		Server ServerConfig `yaml:"server"`
	}
	be.Err(t, Decode(cfg, &out), nil)
	be.Equal(t, out.Redis.Addr, "redis:6379")
	be.Equal(t, out.Redis.DB, 0)
	be.Equal(t, out.Server.Port, ":8080")
}

func TestLoadConfigSubstitutesSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "generator:\n  api_key: ${REPLYGATE_TEST_KEY}\nsenders:\n  - ${REPLYGATE_TEST_SENDER}\n")
	writeFile(t, dir, "secrets.env", "# comment\nREPLYGATE_TEST_KEY=\"sk-secret\"\nREPLYGATE_TEST_SENDER=ops@example.com\n")

	cfg, err := LoadConfig("local", dir)
	be.Err(t, err, nil)

	var out struct {
		Generator struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"generator"`
		Senders []string `yaml:"senders"`
	}
	be.Err(t, Decode(cfg, &out), nil)
	be.Equal(t, out.Generator.APIKey, "sk-secret")
	be.Equal(t, out.Senders, []string{"ops@example.com"})
}

func TestLoadConfigProcessEnvWinsOverSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "key: ${REPLYGATE_TEST_OVERRIDE}\n")
	writeFile(t, dir, "secrets.env", "REPLYGATE_TEST_OVERRIDE=from-file\n")
	t.Setenv("REPLYGATE_TEST_OVERRIDE", "from-env")

	cfg, err := LoadConfig("", dir)
	be.Err(t, err, nil)
	be.Equal(t, cfg["key"], "from-env")
}

func TestLoadConfigMissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	be.True(t, err != nil)
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "10.0.0.1:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PUBLIC_URL", "https://replies.example.com")

	redisCfg := RedisConfig{Addr: "localhost:6379"}
	OverrideRedisFromEnv(&redisCfg)
	be.Equal(t, redisCfg.Addr, "10.0.0.1:6379")
	be.Equal(t, redisCfg.DB, 3)

	serverCfg := ServerConfig{Port: ":8080"}
	OverrideServerFromEnv(&serverCfg)
	be.Equal(t, serverCfg.PublicURL, "https://replies.example.com")
	be.Equal(t, serverCfg.Port, ":8080")
}
