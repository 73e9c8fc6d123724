package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/permaskills/skills/internal/apperr"
)

func TestLoadFile_MissingUsesDefaults(t *testing.T) {
	c, err := LoadFile(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := c.Int(KeyFreeTierBytes); got != 100*1024 {
		t.Errorf("free tier = %d, want %d", got, 100*1024)
	}
	if got := c.Int(KeyInstallParallel); got != 4 {
		t.Errorf("parallel = %d, want 4", got)
	}
	if got := c.Get(KeyGatewayURL); got == "" {
		t.Error("gateway default is empty")
	}
}

func TestSetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home", "config.yaml")
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Set(KeyRegistryProcess, "proc-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	again, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := again.Get(KeyRegistryProcess); got != "proc-123" {
		t.Errorf("process id = %q, want proc-123", got)
	}
}

func TestSetUnknownKey(t *testing.T) {
	c, err := LoadFile(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	err = c.Set("nope.key", "x")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("err = %v, want Validation", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("gateway:\n  url: https://file.example\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PERMASKILLS_GATEWAY_URL", "https://env.example")

	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Get(KeyGatewayURL); got != "https://env.example" {
		t.Errorf("gateway = %q, want env value", got)
	}
}

func TestRequire(t *testing.T) {
	t.Setenv("PERMASKILLS_REGISTRY_PROCESS_ID", "")
	c, err := LoadFile(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Require(KeyRegistryProcess)
	if !apperr.HasCode(err, apperr.CodeMissingSetting) {
		t.Fatalf("err = %v, want missing_setting", err)
	}
	if hint := apperr.HintOf(err); !strings.Contains(hint, "PERMASKILLS_REGISTRY_PROCESS_ID") {
		t.Errorf("hint = %q, want env var name", hint)
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("gateway: [unterminated\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); apperr.KindOf(err) != apperr.KindConfiguration {
		t.Errorf("err = %v, want Configuration", err)
	}
}

func TestWalletPathDefault(t *testing.T) {
	t.Setenv("PERMASKILLS_HOME", t.TempDir())
	t.Setenv("PERMASKILLS_WALLET_PATH", "")
	c, err := LoadFile(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.WalletPath(); filepath.Base(got) != "wallet.json" {
		t.Errorf("WalletPath = %q", got)
	}
}
