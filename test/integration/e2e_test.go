//go:build integration

package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/dataitem"
	"github.com/permaskills/skills/internal/install"
	"github.com/permaskills/skills/internal/lockfile"
	"github.com/permaskills/skills/internal/logging"
	"github.com/permaskills/skills/internal/publish"
	"github.com/permaskills/skills/internal/testnet"
	"github.com/permaskills/skills/internal/transport"
)

func TestFullFlowPublishThenInstall(t *testing.T) {
	env := setupTestEnv(t)
	dir := env.writeSkill(t, "hello", "1.0.0")

	pub := env.publish(t, dir)
	if !dataitem.ValidID(pub.ContentID) {
		t.Fatalf("ContentID = %q, want a valid content id", pub.ContentID)
	}
	if !pub.Free {
		t.Errorf("small bundle should use the free tier")
	}
	if pub.Updated {
		t.Errorf("first publish should register, not update")
	}
	if paid, free := env.Net.Uploads(); paid != 0 || free != 1 {
		t.Errorf("uploads = %d paid, %d free, want 0 paid, 1 free", paid, free)
	}

	res := env.install(t, "hello")
	if len(res.Installed) != 1 {
		t.Fatalf("Installed = %d packages, want 1", len(res.Installed))
	}

	installed := filepath.Join(env.Root, "hello")
	assertFileExists(t, filepath.Join(installed, "SKILL.md"))
	assertFileContains(t, filepath.Join(installed, "scripts", "run.sh"), "echo hello")

	rec, ok, err := lockfile.ForRoot(env.Root).Get("hello")
	if err != nil || !ok {
		t.Fatalf("ledger Get(hello) = %v, %v", ok, err)
	}
	if rec.ContentID != pub.ContentID {
		t.Errorf("ledger content id = %q, want %q", rec.ContentID, pub.ContentID)
	}
	if !rec.Direct {
		t.Errorf("root package should be recorded as direct")
	}
	data, err := env.Storage.Download(context.Background(), pub.ContentID, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !rec.Verify(data) {
		t.Errorf("ledger checksum %q does not match the stored bundle", rec.Checksum)
	}
}

func TestFullFlowDuplicateVersionRefused(t *testing.T) {
	env := setupTestEnv(t)
	dir := env.writeSkill(t, "hello", "1.0.0")
	env.publish(t, dir)

	_, err := publish.New(env.Registry, env.Storage, logging.Discard()).Publish(context.Background(), dir, publish.Options{
		Wallet: env.Wallet,
	})
	if !apperr.HasCode(err, apperr.CodeAlreadyPublished) {
		t.Fatalf("second publish error = %v, want %s", err, apperr.CodeAlreadyPublished)
	}
	if _, free := env.Net.Uploads(); free != 1 {
		t.Errorf("free uploads = %d, want 1 (nothing uploaded for the refused version)", free)
	}
}

func TestFullFlowUpdateThenUpgrade(t *testing.T) {
	env := setupTestEnv(t)
	env.publish(t, env.writeSkill(t, "hello", "1.0.0"))
	env.install(t, "hello")

	pub := env.publish(t, env.writeSkill(t, "hello", "1.1.0"))
	if !pub.Updated {
		t.Errorf("second version should be published as an update")
	}

	// Replacing an existing directory needs consent.
	_, err := env.installer().Install(context.Background(), "hello", install.Options{Root: env.Root})
	if !apperr.HasCode(err, apperr.CodeTargetExists) {
		t.Fatalf("upgrade without consent error = %v, want %s", err, apperr.CodeTargetExists)
	}

	var asked []string
	res, err := env.installer().Install(context.Background(), "hello", install.Options{
		Root: env.Root,
		Confirm: func(target string) bool {
			asked = append(asked, target)
			return true
		},
	})
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if len(asked) != 1 || asked[0] != filepath.Join(env.Root, "hello") {
		t.Errorf("confirm asked for %v, want [%s]", asked, filepath.Join(env.Root, "hello"))
	}
	if len(res.Installed) != 1 || res.Installed[0].Version != "1.1.0" {
		t.Fatalf("Installed = %+v, want hello@1.1.0", res.Installed)
	}
	if !res.Installed[0].Replaced {
		t.Errorf("upgrade should replace the existing directory")
	}
	assertFileContains(t, filepath.Join(env.Root, "hello", "SKILL.md"), "Version 1.1.0.")

	rec, _, err := lockfile.ForRoot(env.Root).Get("hello")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version != "1.1.0" || rec.ContentID != pub.ContentID {
		t.Errorf("ledger = %s %s, want 1.1.0 %s", rec.Version, rec.ContentID, pub.ContentID)
	}

	// The old version stays installable by pin.
	res, err = env.installer().Install(context.Background(), "hello@1.0.0", install.Options{Root: env.Root, Force: true})
	if err != nil {
		t.Fatalf("install pinned: %v", err)
	}
	if res.Installed[0].Version != "1.0.0" {
		t.Errorf("pinned install = %s, want 1.0.0", res.Installed[0].Version)
	}
}

func TestFullFlowPaidUpload(t *testing.T) {
	env := setupTestEnv(t, transport.WithFreeTier(1))
	dir := env.writeSkill(t, "paid", "1.0.0")

	_, err := publish.New(env.Registry, env.Storage, logging.Discard()).Publish(context.Background(), dir, publish.Options{
		Wallet: env.Wallet,
	})
	if !apperr.HasCode(err, apperr.CodeInsufficientFunds) {
		t.Fatalf("unfunded publish error = %v, want %s", err, apperr.CodeInsufficientFunds)
	}
	if apperr.ExitCode(err) != 3 {
		t.Errorf("ExitCode = %d, want 3", apperr.ExitCode(err))
	}
	if paid, free := env.Net.Uploads(); paid+free != 0 {
		t.Fatalf("uploads after refusal = %d paid, %d free, want none", paid, free)
	}

	env.Net.Fund(env.Wallet.Address(), 1_000_000_000_000)
	pub := env.publish(t, dir)
	if pub.Free {
		t.Errorf("bundle above the free tier should be paid")
	}
	if pub.Cost <= 0 || pub.Cost%testnet.PricePerByte != 0 {
		t.Errorf("Cost = %d, want a positive multiple of %d", pub.Cost, testnet.PricePerByte)
	}
	if paid, _ := env.Net.Uploads(); paid != 1 {
		t.Errorf("paid uploads = %d, want 1", paid)
	}
}

func TestFullFlowWaitForDurability(t *testing.T) {
	env := setupTestEnv(t)
	res, err := publish.New(env.Registry, env.Storage, logging.Discard()).Publish(context.Background(),
		env.writeSkill(t, "durable", "1.0.0"), publish.Options{Wallet: env.Wallet, Wait: true})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Durability == nil || !res.Durability.Confirmed() {
		t.Fatalf("Durability = %+v, want confirmed", res.Durability)
	}
}

func TestFullFlowReinstallOverwrites(t *testing.T) {
	env := setupTestEnv(t)
	env.publish(t, env.writeSkill(t, "hello", "1.0.0"))
	env.install(t, "hello")

	script := filepath.Join(env.Root, "hello", "scripts", "run.sh")
	if err := os.WriteFile(script, []byte("tampered\n"), 0644); err != nil {
		t.Fatal(err)
	}
	stray := filepath.Join(env.Root, "hello", "stray.txt")
	writeFile(t, stray, "left behind")

	// Without force the locked version is skipped.
	res := env.install(t, "hello")
	if res.Skipped != 1 || len(res.Installed) != 0 {
		t.Fatalf("reinstall without force: skipped=%d installed=%d, want 1/0", res.Skipped, len(res.Installed))
	}
	assertFileContains(t, script, "tampered")

	res, err := env.installer().Install(context.Background(), "hello", install.Options{Root: env.Root, Force: true})
	if err != nil {
		t.Fatalf("forced reinstall: %v", err)
	}
	if len(res.Installed) != 1 {
		t.Fatalf("forced reinstall installed %d packages, want 1", len(res.Installed))
	}
	assertFileContains(t, script, "echo hello")
	assertFileNotExists(t, stray)
}
