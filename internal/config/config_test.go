package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"agents":[{"id":"Jarvis"}]}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.Mailbox.Driver != "redis" || cfg.Mailbox.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected mailbox defaults: %+v", cfg.Mailbox)
	}
	if cfg.Invoicing.ReferenceStrategy != "network" {
		t.Fatalf("unexpected reference strategy: %s", cfg.Invoicing.ReferenceStrategy)
	}
	if cfg.Ledger.Currency != "ETH-sepolia" {
		t.Fatalf("unexpected currency: %s", cfg.Ledger.Currency)
	}
	if cfg.Scheduler.IntervalSeconds != 3 {
		t.Fatalf("unexpected interval: %d", cfg.Scheduler.IntervalSeconds)
	}
	if cfg.Oracle.APIKeyEnv != "OPENAI_API_KEY" {
		t.Fatalf("unexpected oracle key env: %s", cfg.Oracle.APIKeyEnv)
	}
}

func TestLoadRejectsDuplicateAgents(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"agents":[{"id":"Jarvis"},{"id":"Jarvis"}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate agent IDs")
	}
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"mailbox":{"driver":"carrier-pigeon"},"agents":[{"id":"Jarvis"}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown mailbox driver")
	}

	path = writeConfig(t, `{"storage":{"trade_store":{"driver":"papyrus"}},"agents":[{"id":"Jarvis"}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown trade store driver")
	}
}

func TestResolvePersonaPrefersFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	personaPath := filepath.Join(dir, "persona.txt")
	if err := os.WriteFile(personaPath, []byte("You are Jarvis."), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}

	agent := AgentConfig{Persona: "inline", PersonaFile: personaPath}
	persona, err := agent.ResolvePersona()
	if err != nil {
		t.Fatalf("resolve persona: %v", err)
	}
	if persona != "You are Jarvis." {
		t.Fatalf("unexpected persona: %q", persona)
	}

	inline := AgentConfig{Persona: "inline"}
	persona, err = inline.ResolvePersona()
	if err != nil || persona != "inline" {
		t.Fatalf("unexpected inline persona: %q, %v", persona, err)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"ledger":{"currency_file":"currencies.yaml"},"agents":[{"id":"Jarvis","persona_file":"persona.txt"}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ledger.CurrencyFile != filepath.Join(dir, "currencies.yaml") {
		t.Fatalf("currency file not resolved: %s", cfg.Ledger.CurrencyFile)
	}
	if cfg.Agents[0].PersonaFile != filepath.Join(dir, "persona.txt") {
		t.Fatalf("persona file not resolved: %s", cfg.Agents[0].PersonaFile)
	}
}
