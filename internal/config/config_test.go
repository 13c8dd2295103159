package config

import (
	"strings"
	"testing"
)

// mapBackend is an in-memory Backend for tests.
type mapBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strings: make(map[string]string), ints: make(map[string]int)}
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mapBackend) SetString(key, val string) error { m.strings[key] = val; return nil }
func (m *mapBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *mapBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BRAINDUMP_CLASSIFIER_API_KEY", "test-key")

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Cache.TTL != "24h" || cfg.Cache.SchemaVersion != 1 {
		t.Errorf("cache defaults = %+v", cfg.Cache)
	}
	if cfg.Owner.ID != "default" {
		t.Errorf("Owner.ID = %q", cfg.Owner.ID)
	}
	if cfg.Classifier.APIKey != "test-key" {
		t.Errorf("Classifier.APIKey = %q", cfg.Classifier.APIKey)
	}
}

func TestLoadBackendValues(t *testing.T) {
	t.Setenv("BRAINDUMP_CLASSIFIER_API_KEY", "test-key")

	b := newMapBackend()
	b.ints["server.port"] = 9999
	b.strings["classifier.base_url"] = "http://classify.internal:9000"
	b.strings["cache.ttl"] = "1h"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want backend value", cfg.Server.Port)
	}
	if cfg.Classifier.BaseURL != "http://classify.internal:9000" {
		t.Errorf("Classifier.BaseURL = %q", cfg.Classifier.BaseURL)
	}
	if got := cfg.CacheTTL().String(); got != "1h0m0s" {
		t.Errorf("CacheTTL = %s", got)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("BRAINDUMP_CLASSIFIER_API_KEY", "test-key")
	t.Setenv("BRAINDUMP_SERVER_PORT", "7000")
	t.Setenv("BRAINDUMP_OWNER_ID", "pedro")

	b := newMapBackend()
	b.ints["server.port"] = 9999

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, env should win over backend", cfg.Server.Port)
	}
	if cfg.Owner.ID != "pedro" {
		t.Errorf("Owner.ID = %q", cfg.Owner.ID)
	}
}

func TestLoadMissingAPIKey(t *testing.T) {
	t.Setenv("BRAINDUMP_CLASSIFIER_API_KEY", "")

	_, err := loadWith(newMapBackend())
	if err == nil {
		t.Fatal("loadWith succeeded without classifier API key")
	}
	if !strings.Contains(err.Error(), "BRAINDUMP_CLASSIFIER_API_KEY") {
		t.Errorf("error does not name the env var: %v", err)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("BRAINDUMP_CLASSIFIER_API_KEY", "test-key")
	t.Setenv("BRAINDUMP_CACHE_TTL", "one day")

	if _, err := loadWith(newMapBackend()); err == nil {
		t.Fatal("loadWith accepted unparseable cache.ttl")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Classifier.APIKey = "sekrit"
	cfg.Auth.Token = "also-sekrit"

	for _, info := range ShowAll(cfg) {
		if strings.Contains(info.Value, "sekrit") {
			t.Errorf("secret leaked via %s", info.Key)
		}
	}
}

func TestSetKeyRejectsSecrets(t *testing.T) {
	if err := SetKey("classifier.api_key", "x"); err == nil {
		t.Error("SetKey allowed writing a secret to the config file")
	}
	if err := SetKey("no.such.key", "x"); err == nil {
		t.Error("SetKey accepted an unknown key")
	}
}
