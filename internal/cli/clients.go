package cli

import (
	"time"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/branding"
	"github.com/permaskills/skills/internal/config"
	"github.com/permaskills/skills/internal/install"
	"github.com/permaskills/skills/internal/registry"
	"github.com/permaskills/skills/internal/transport"
	"github.com/permaskills/skills/internal/userdata"
	"github.com/permaskills/skills/internal/wallet"
)

// newRegistry builds a registry client from config. A nil wallet gives a
// read-only client.
func newRegistry(w *wallet.Wallet) (*registry.Client, error) {
	opts := []registry.Option{registry.WithLogger(logger)}
	if w != nil {
		opts = append(opts, registry.WithSigner(w))
	}
	return registry.New(
		cfg.Get(config.KeyRegistryCU),
		cfg.Get(config.KeyRegistryMU),
		cfg.Get(config.KeyRegistryProcess),
		opts...,
	)
}

// newTransport builds a storage client. A non-empty gateway overrides the
// configured one.
func newTransport(gateway string) (*transport.Client, error) {
	if gateway == "" {
		gateway = cfg.Get(config.KeyGatewayURL)
	}
	opts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithApp(branding.AppName(), buildVersion),
	}
	if n := cfg.Int(config.KeyFreeTierBytes); n > 0 {
		opts = append(opts, transport.WithFreeTier(int64(n)))
	}
	return transport.New(gateway, cfg.Get(config.KeyBundlerURL), opts...)
}

// newInstaller wires the registry and storage clients into an installer.
func newInstaller(useCache bool) (*install.Installer, error) {
	reg, err := newRegistry(nil)
	if err != nil {
		return nil, err
	}
	storage, err := newTransport("")
	if err != nil {
		return nil, err
	}
	opts := []install.Option{install.WithLogger(logger)}
	if useCache && cfg.Bool(config.KeyBundleCache) {
		opts = append(opts, install.WithBundleCache(install.NewBundleCache(userdata.BundleCacheRoot())))
	}
	return install.New(reg, storage, opts...), nil
}

// loadWallet reads the wallet at path, or the configured wallet when path
// is empty.
func loadWallet(path string) (*wallet.Wallet, error) {
	if path == "" {
		path = cfg.WalletPath()
	}
	return wallet.Load(path)
}

// durabilityTimeout returns the configured publish.durability_timeout.
func durabilityTimeout() time.Duration {
	d, err := time.ParseDuration(cfg.Get(config.KeyDurabilityTimeout))
	if err != nil || d <= 0 {
		return transport.DefaultDurabilityTimeout
	}
	return d
}

// installRoot resolves the install root for the --global and --local flags.
func installRoot(global, local bool) (string, error) {
	if global && local {
		return "", apperr.New(apperr.KindValidation, apperr.CodeInvalidInput,
			"--global and --local cannot be used together", "")
	}
	scope := userdata.ScopeGlobal
	if local {
		scope = userdata.ScopeLocal
	}
	return userdata.InstallRoot(scope, "")
}
