//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/permaskills/skills/internal/install"
	"github.com/permaskills/skills/internal/logging"
	"github.com/permaskills/skills/internal/publish"
	"github.com/permaskills/skills/internal/registry"
	"github.com/permaskills/skills/internal/testnet"
	"github.com/permaskills/skills/internal/transport"
	"github.com/permaskills/skills/internal/wallet"
)

// testEnv is one isolated publisher/installer pair talking to a fake
// registry and gateway.
type testEnv struct {
	Net      *testnet.Network
	Root     string // install root
	SkillDir string // where skill sources are written
	Wallet   *wallet.Wallet

	Registry *registry.Client
	Storage  *transport.Client
}

// setupTestEnv starts a network and builds clients wired to it.
func setupTestEnv(t *testing.T, storageOpts ...transport.Option) *testEnv {
	t.Helper()

	net := testnet.New(t)
	w, err := wallet.FromSeed([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}

	reg, err := registry.New(net.CUURL(), net.MUURL(), testnet.ProcessID,
		registry.WithSigner(w),
		registry.WithLogger(logging.Discard()),
		registry.WithResultPolling(10*time.Millisecond, 2*time.Second),
		registry.WithCacheTTL(0),
	)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	opts := append([]transport.Option{
		transport.WithLogger(logging.Discard()),
		transport.WithRetry(1, time.Millisecond),
		transport.WithDurability(10*time.Millisecond, 10),
	}, storageOpts...)
	storage, err := transport.New(net.GatewayURL(), net.BundlerURL(), opts...)
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}

	return &testEnv{
		Net:      net,
		Root:     t.TempDir(),
		SkillDir: t.TempDir(),
		Wallet:   w,
		Registry: reg,
		Storage:  storage,
	}
}

// publish uploads and registers the skill in dir.
func (e *testEnv) publish(t *testing.T, dir string) *publish.Result {
	t.Helper()
	res, err := publish.New(e.Registry, e.Storage, logging.Discard()).Publish(context.Background(), dir, publish.Options{
		Wallet: e.Wallet,
	})
	if err != nil {
		t.Fatalf("publish %s: %v", dir, err)
	}
	return res
}

// installer returns an installer reading from the env's network.
func (e *testEnv) installer(opts ...install.Option) *install.Installer {
	opts = append([]install.Option{install.WithLogger(logging.Discard())}, opts...)
	return install.New(e.Registry, e.Storage, opts...)
}

// install runs a default install of ref into the env's root.
func (e *testEnv) install(t *testing.T, ref string) *install.Result {
	t.Helper()
	res, err := e.installer().Install(context.Background(), ref, install.Options{Root: e.Root})
	if err != nil {
		t.Fatalf("install %s: %v", ref, err)
	}
	return res
}

// writeSkill writes a skill source directory and returns its path.
func (e *testEnv) writeSkill(t *testing.T, name, version string, deps ...string) string {
	t.Helper()
	dir := filepath.Join(e.SkillDir, name+"-"+version)

	var b strings.Builder
	fmt.Fprintf(&b, "---\nname: %s\nversion: %s\ndescription: %s test skill\n", name, version, name)
	if len(deps) > 0 {
		b.WriteString("dependencies:\n")
		for _, d := range deps {
			fmt.Fprintf(&b, "  - %q\n", d)
		}
	}
	fmt.Fprintf(&b, "---\n\n# %s\n\nVersion %s.\n", name, version)

	writeFile(t, filepath.Join(dir, "SKILL.md"), b.String())
	writeFile(t, filepath.Join(dir, "scripts", "run.sh"), "#!/bin/sh\necho "+name+"\n")
	return dir
}

// writeFile creates a file at the given path with the given content.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating dir %s: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// assertFileExists fails the test if the file does not exist.
func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist: %s (error: %v)", path, err)
	}
}

// assertFileNotExists fails the test if the file exists.
func assertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected file NOT to exist: %s", path)
	}
}

// assertFileContains fails if the file doesn't exist or doesn't contain substr.
func assertFileContains(t *testing.T, path, substr string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("reading %s: %v", path, err)
		return
	}
	if !strings.Contains(string(data), substr) {
		t.Errorf("file %s does not contain %q.\nContents:\n%s", path, substr, string(data))
	}
}
