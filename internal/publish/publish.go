package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/bundle"
	"github.com/permaskills/skills/internal/manifest"
	"github.com/permaskills/skills/internal/registry"
	"github.com/permaskills/skills/internal/transport"
)

// Registry is the subset of the registry client used for publishing.
type Registry interface {
	Get(ctx context.Context, name, version string) (*manifest.Skill, error)
	Register(ctx context.Context, skill *manifest.Skill) (string, error)
	Update(ctx context.Context, skill *manifest.Skill) (string, error)
	AwaitResult(ctx context.Context, messageID string) (*registry.Result, error)
}

// Storage is the subset of the transport client used for publishing.
type Storage interface {
	Quote(ctx context.Context, size int) (*transport.Quote, error)
	Upload(ctx context.Context, data []byte, meta transport.Metadata, w transport.Wallet) (*transport.UploadResult, error)
	PollDurability(ctx context.Context, id string, timeout time.Duration) (*transport.DurabilityStatus, error)
}

// Summary is shown to the user before anything is uploaded.
type Summary struct {
	Name          string
	Version       string
	FileCount     int
	Size          int
	SizeExceeded  bool
	Update        bool
	// Free is set when the bundle fits the free tier; otherwise
	// EstimatedCost holds the gateway's price in winston.
	Free          bool
	EstimatedCost int64
}

// Options configures one Publish call.
type Options struct {
	Wallet    transport.Wallet
	SoftLimit int64
	// Confirm is asked before uploading. Nil publishes without asking.
	Confirm  func(Summary) bool
	Progress bundle.ProgressFunc
	// Wait polls the storage network until the upload is durable.
	Wait              bool
	DurabilityTimeout time.Duration
}

// Result describes a finished publish.
type Result struct {
	Skill        *manifest.Skill
	ContentID    string
	MessageID    string
	Cost         int64
	Free         bool
	Size         int
	FileCount    int
	SizeExceeded bool
	Updated      bool
	Durability   *transport.DurabilityStatus
}

// Publisher runs publishes against one registry and one storage network.
type Publisher struct {
	registry Registry
	storage  Storage
	logger   *slog.Logger
}

// New creates a Publisher.
func New(reg Registry, storage Storage, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{registry: reg, storage: storage, logger: logger}
}

// Publish validates the SKILL.md in dir, packs the directory, uploads the
// bundle and registers it. A version that is already registered is refused
// before anything is uploaded.
func (p *Publisher) Publish(ctx context.Context, dir string, opts Options) (*Result, error) {
	if opts.Wallet == nil {
		return nil, apperr.New(apperr.KindConfiguration, apperr.CodeMissingSetting,
			"no wallet configured", "pass --wallet or set wallet.path")
	}

	skill, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}

	packed, err := bundle.Pack(dir, bundle.PackOptions{Progress: opts.Progress, SoftLimit: opts.SoftLimit})
	if err != nil {
		return nil, err
	}
	if packed.SizeExceeded {
		p.logger.Warn("bundle exceeds the recommended size", "bytes", len(packed.Data))
	}

	update, err := p.checkExisting(ctx, skill, opts.Wallet)
	if err != nil {
		return nil, err
	}

	summary := Summary{
		Name:         skill.Name,
		Version:      skill.Version,
		FileCount:    packed.FileCount,
		Size:         len(packed.Data),
		SizeExceeded: packed.SizeExceeded,
		Update:       update,
	}
	if opts.Confirm != nil {
		quote, err := p.storage.Quote(ctx, summary.Size)
		if err != nil {
			return nil, err
		}
		summary.Free, summary.EstimatedCost = quote.Free, quote.Cost
		if !opts.Confirm(summary) {
			return nil, apperr.New(apperr.KindValidation, apperr.CodeCancelled, "publish cancelled", "")
		}
	}

	uploaded, err := p.storage.Upload(ctx, packed.Data, transport.Metadata{Name: skill.Name, Version: skill.Version}, opts.Wallet)
	if err != nil {
		return nil, err
	}
	p.logger.Info("bundle uploaded", "id", uploaded.ID, "cost", uploaded.Cost, "free", uploaded.Free)

	skill.ContentID = uploaded.ID
	skill.Owner = opts.Wallet.Address()

	write := p.registry.Register
	if update {
		write = p.registry.Update
	}
	msgID, err := write(ctx, skill)
	if err != nil {
		return nil, fmt.Errorf("registering %s (bundle %s already uploaded): %w", skill.Ref(), uploaded.ID, err)
	}

	reply, err := p.registry.AwaitResult(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if !registry.Acknowledged(reply, skill.Name, skill.Version) {
		if ferr := reply.Err(); ferr != nil {
			return nil, ferr
		}
		return nil, apperr.New(apperr.KindNetwork, apperr.CodeRegistryError,
			fmt.Sprintf("unexpected registry reply %q", reply.Action()), "")
	}

	res := &Result{
		Skill:        skill,
		ContentID:    uploaded.ID,
		MessageID:    msgID,
		Cost:         uploaded.Cost,
		Free:         uploaded.Free,
		Size:         len(packed.Data),
		FileCount:    packed.FileCount,
		SizeExceeded: packed.SizeExceeded,
		Updated:      update,
	}

	if opts.Wait {
		status, err := p.storage.PollDurability(ctx, uploaded.ID, opts.DurabilityTimeout)
		res.Durability = status
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// checkExisting reports whether name is already registered, in which case
// the publish is an update. The same version, or a name held by another
// owner, is refused.
func (p *Publisher) checkExisting(ctx context.Context, skill *manifest.Skill, w transport.Wallet) (bool, error) {
	latest, err := p.registry.Get(ctx, skill.Name, "")
	if apperr.HasCode(err, apperr.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if latest.Version == skill.Version || slices.Contains(latest.Versions, skill.Version) {
		return false, apperr.New(apperr.KindValidation, apperr.CodeAlreadyPublished,
			fmt.Sprintf("%s is already published", skill.Ref()),
			"bump the version in SKILL.md")
	}
	if latest.Owner != "" && latest.Owner != w.Address() && latest.Owner != w.Owner() {
		return false, apperr.New(apperr.KindAuthorization, apperr.CodeSignatureRejected,
			fmt.Sprintf("%s is owned by %s", skill.Name, latest.Owner),
			"publish under a different name or use the owning wallet")
	}
	return true, nil
}

func loadManifest(dir string) (*manifest.Skill, error) {
	path := filepath.Join(dir, manifest.FileName)
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeManifestMissing,
			fmt.Sprintf("%s not found in %s", manifest.FileName, dir), "")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindFileSystem, apperr.CodeIO, "reading "+path, "")
	}

	skill, result, err := manifest.Load(content)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, apperr.CodeInvalidManifest,
			fmt.Sprintf("cannot parse %s", path), "")
	}
	if !result.Valid {
		lines := make([]string, 0, len(result.Issues))
		for _, issue := range result.Issues {
			lines = append(lines, "  "+issue.String())
		}
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidManifest,
			fmt.Sprintf("%s is invalid:\n%s", path, strings.Join(lines, "\n")), "")
	}
	return skill, nil
}
