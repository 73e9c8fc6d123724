package userdata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/permaskills/skills/internal/branding"
)

// Directory and file name constants.
const (
	AgentDir   = ".claude"
	SkillsDir  = "skills"
	ConfigFile = "config.yaml"
	WalletFile = "wallet.json"
	CacheDir   = "bundles"
)

// Permission constants.
const (
	DirPermSecure  os.FileMode = 0700
	FilePermSecure os.FileMode = 0600
	DirPermNormal  os.FileMode = 0755
)

// Scope selects where packages are installed.
type Scope int

const (
	// ScopeGlobal installs into the user's home.
	ScopeGlobal Scope = iota
	// ScopeLocal installs into the current project.
	ScopeLocal
)

// String returns "global" or "local".
func (s Scope) String() string {
	if s == ScopeLocal {
		return "local"
	}
	return "global"
}

// GlobalRootFrom returns the global install root under home. This is the
// injectable form of GlobalRoot.
func GlobalRootFrom(home string) string {
	return filepath.Join(home, AgentDir, SkillsDir)
}

// GlobalRoot returns ~/.claude/skills. The PERMASKILLS_GLOBAL_ROOT
// environment variable overrides it.
func GlobalRoot() string {
	if v := os.Getenv(branding.EnvVar("GLOBAL_ROOT")); v != "" {
		return v
	}
	return GlobalRootFrom(xdg.Home)
}

// LocalRoot returns <cwd>/.claude/skills.
func LocalRoot(cwd string) string {
	return filepath.Join(cwd, AgentDir, SkillsDir)
}

// InstallRoot resolves the root for scope. An empty cwd means the process
// working directory.
func InstallRoot(scope Scope, cwd string) (string, error) {
	if scope == ScopeGlobal {
		return GlobalRoot(), nil
	}
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolving working directory: %w", err)
		}
		cwd = wd
	}
	return LocalRoot(cwd), nil
}

// HomeRoot returns ~/.permaskills. The PERMASKILLS_HOME environment
// variable overrides it.
func HomeRoot() string {
	if v := os.Getenv(branding.EnvVar("HOME")); v != "" {
		return v
	}
	return filepath.Join(xdg.Home, branding.HomeDir())
}

// ConfigPath returns the path to config.yaml inside HomeRoot.
func ConfigPath() string {
	return filepath.Join(HomeRoot(), ConfigFile)
}

// DefaultWalletPath returns the wallet location used when none is configured.
func DefaultWalletPath() string {
	return filepath.Join(HomeRoot(), WalletFile)
}

// BundleCacheRoot returns the directory downloaded archives are cached in,
// following the XDG cache convention.
func BundleCacheRoot() string {
	return filepath.Join(xdg.CacheHome, branding.CLIName(), CacheDir)
}
