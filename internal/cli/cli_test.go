package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/lockfile"
	"github.com/permaskills/skills/internal/manifest"
	"github.com/permaskills/skills/internal/publish"
	"github.com/permaskills/skills/internal/testnet"
)

type cliEnv struct {
	net        *testnet.Network
	home       string
	globalRoot string
	work       string
}

// setupCLI points every setting at a fresh fake network and temp dirs.
func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	env := &cliEnv{
		net:        testnet.New(t),
		home:       t.TempDir(),
		globalRoot: t.TempDir(),
		work:       t.TempDir(),
	}
	t.Setenv("PERMASKILLS_HOME", env.home)
	t.Setenv("PERMASKILLS_GLOBAL_ROOT", env.globalRoot)
	t.Setenv("PERMASKILLS_REGISTRY_CU_URL", env.net.CUURL())
	t.Setenv("PERMASKILLS_REGISTRY_MU_URL", env.net.MUURL())
	t.Setenv("PERMASKILLS_REGISTRY_PROCESS_ID", testnet.ProcessID)
	t.Setenv("PERMASKILLS_GATEWAY_URL", env.net.GatewayURL())
	t.Setenv("PERMASKILLS_BUNDLER_URL", env.net.BundlerURL())
	t.Setenv("PERMASKILLS_INSTALL_CACHE", "false")
	return env
}

// runCLI executes the root command with args and returns combined output.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores every flag to its default so runs do not leak state
// through the package-level flag variables.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, "", args...)
	require.NoError(t, err, "skills %s\n%s", strings.Join(args, " "), out)
	return out
}

func TestPublishInstallListUninstall(t *testing.T) {
	env := setupCLI(t)
	skillDir := filepath.Join(env.work, "demo")

	out := mustRun(t, "wallet", "create")
	assert.Contains(t, out, "Created wallet")
	assert.FileExists(t, filepath.Join(env.home, "wallet.json"))

	mustRun(t, "init", skillDir, "--description", "Demo skill for tests", "--tag", "demo")
	assert.FileExists(t, filepath.Join(skillDir, "SKILL.md"))

	out = mustRun(t, "publish", skillDir, "--skip-confirmation")
	assert.Contains(t, out, "Published demo@0.1.0")
	assert.Contains(t, out, "Cost:       free")

	out = mustRun(t, "search", "demo", "--json")
	var hits []searchEntry
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "demo", hits[0].Name)
	assert.NotEmpty(t, hits[0].ContentID)

	out = mustRun(t, "search", "demo", "--tag", "unrelated")
	assert.Contains(t, out, "No skills found")

	out = mustRun(t, "info", "demo")
	assert.Contains(t, out, "demo@0.1.0")
	assert.Contains(t, out, hits[0].ContentID)

	out = mustRun(t, "install", "demo")
	assert.Contains(t, out, "✓ demo@0.1.0")
	assert.FileExists(t, filepath.Join(env.globalRoot, "demo", "SKILL.md"))

	out = mustRun(t, "list", "--json")
	var records []lockfile.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "demo", records[0].Name)
	assert.Equal(t, hits[0].ContentID, records[0].ContentID)

	out = mustRun(t, "install", "demo")
	assert.Contains(t, out, "already installed")

	mustRun(t, "uninstall", "demo")
	assert.NoDirExists(t, filepath.Join(env.globalRoot, "demo"))
	out = mustRun(t, "list")
	assert.Contains(t, out, "No skills installed")
}

func TestPublishDeclined(t *testing.T) {
	env := setupCLI(t)
	skillDir := filepath.Join(env.work, "declined")
	mustRun(t, "wallet", "create")
	mustRun(t, "init", skillDir)

	out, err := runCLI(t, "n\n", "publish", skillDir)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeCancelled), "error = %v", err)
	assert.Contains(t, out, "Publish?")

	paid, free := env.net.Uploads()
	assert.Zero(t, paid+free, "nothing should be uploaded")
}

func TestPublishWithoutWallet(t *testing.T) {
	env := setupCLI(t)
	skillDir := filepath.Join(env.work, "nowallet")
	mustRun(t, "init", skillDir)

	_, err := runCLI(t, "", "publish", skillDir, "-y")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
	assert.Equal(t, 1, apperr.ExitCode(err))
}

func TestInstallDryRunWritesNothing(t *testing.T) {
	env := setupCLI(t)
	skillDir := filepath.Join(env.work, "planned")
	mustRun(t, "wallet", "create")
	mustRun(t, "init", skillDir)
	mustRun(t, "publish", skillDir, "-y")

	out := mustRun(t, "install", "planned", "--dry-run")
	assert.Contains(t, out, "Dependency tree:")
	assert.Contains(t, out, "1. planned@0.1.0")
	assert.NoDirExists(t, filepath.Join(env.globalRoot, "planned"))
}

func TestInstallUnknownPackage(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "", "install", "does-not-exist")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound), "error = %v", err)
	assert.Equal(t, 2, apperr.ExitCode(err))
}

func TestStatusAfterPublish(t *testing.T) {
	env := setupCLI(t)
	skillDir := filepath.Join(env.work, "tracked")
	mustRun(t, "wallet", "create")
	mustRun(t, "init", skillDir)
	mustRun(t, "publish", skillDir, "-y")

	out := mustRun(t, "search", "tracked", "--json")
	var hits []searchEntry
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 1)

	out = mustRun(t, "status", hits[0].ContentID)
	assert.Contains(t, out, "State:         confirmed")
	assert.Contains(t, out, "Confirmations: 25")
}

func TestArgumentErrorsAreValidation(t *testing.T) {
	setupCLI(t)

	tests := [][]string{
		{"install"},
		{"publish"},
		{"install", "a", "--global", "--local"},
		{"config", "get", "no.such.key"},
		{"uninstall", "../escape"},
		{"uninstall", "Bad Name"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := runCLI(t, "", args...)
			require.Error(t, err)
			assert.Equal(t, 1, apperr.ExitCode(err), "error = %v", err)
		})
	}
}

func TestUninstallRefusesLedgerFiles(t *testing.T) {
	env := setupCLI(t)
	ledger := lockfile.ResolveLedgerPath(env.globalRoot)
	require.NoError(t, os.WriteFile(ledger, []byte(`{"lockfileVersion":1,"skills":{}}`), 0o644))
	require.NoError(t, os.WriteFile(ledger+".lock", nil, 0o644))

	for _, name := range []string{lockfile.FileName, lockfile.FileName + ".lock"} {
		_, err := runCLI(t, "", "uninstall", name)
		require.Error(t, err)
		assert.True(t, apperr.HasCode(err, apperr.CodeInvalidInput), "error = %v", err)
	}
	assert.FileExists(t, ledger)
	assert.FileExists(t, ledger+".lock")
}

func TestConfigSetGet(t *testing.T) {
	setupCLI(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	mustRun(t, "--config", path, "config", "set", "install.parallel", "8")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "parallel")

	out := mustRun(t, "--config", path, "config", "get", "install.parallel")
	assert.Equal(t, "8\n", out)

	out = mustRun(t, "--config", path, "config", "list")
	assert.Contains(t, out, "install.parallel")
	assert.Contains(t, out, path)
}

func TestPublishCostLines(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, publish.Summary{Name: "big", Version: "1.0.0", EstimatedCost: 1234}, "owner")
	assert.Contains(t, out.String(), "Cost:    ~0.000000001234 AR\n")

	out.Reset()
	printSummary(&out, publish.Summary{Name: "small", Version: "1.0.0", Free: true}, "owner")
	assert.Contains(t, out.String(), "Cost:    free")

	out.Reset()
	printPublishResult(&out, &publish.Result{
		Skill: &manifest.Skill{Name: "big", Version: "1.0.0"},
		Cost:  1234,
	})
	assert.Contains(t, out.String(), "Cost:       0.000000001234 AR\n")
	assert.NotContains(t, out.String(), "AR AR")
}

func TestVersionShort(t *testing.T) {
	setupCLI(t)
	buildVersion = "1.2.3"
	t.Cleanup(func() { buildVersion = "" })

	out := mustRun(t, "version", "--short")
	assert.Equal(t, "1.2.3\n", out)
}
