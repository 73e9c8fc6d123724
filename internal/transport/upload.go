package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/dataitem"
)

// ContentType is the declared type of every uploaded bundle.
const ContentType = "application/gzip"

// Wallet signs uploads and identifies the balance to charge.
type Wallet interface {
	dataitem.Signer
	Address() string
}

// Metadata names the bundle being uploaded.
type Metadata struct {
	Name    string
	Version string
}

// UploadResult describes a stored bundle. Cost is in winston; zero for the
// free tier.
type UploadResult struct {
	ID   string
	Cost int64
	Size int
	Free bool
}

// Tags returns the descriptive tags attached to an upload.
func (c *Client) Tags(meta Metadata) dataitem.Tags {
	return dataitem.Tags{
		{Name: "Content-Type", Value: ContentType},
		{Name: "App-Name", Value: c.appName},
		{Name: "App-Version", Value: c.appVersion},
		{Name: "Skill-Name", Value: meta.Name},
		{Name: "Skill-Version", Value: meta.Version},
	}
}

// Upload signs data and stores it. Bundles smaller than the free tier go to
// the bundler at no cost. Larger bundles are priced first and rejected with
// insufficient_funds before any upload when the wallet cannot pay.
func (c *Client) Upload(ctx context.Context, data []byte, meta Metadata, w Wallet) (*UploadResult, error) {
	if w == nil {
		return nil, apperr.New(apperr.KindConfiguration, apperr.CodeMissingSetting,
			"no wallet configured for upload", "pass --wallet or set wallet.path")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	item, err := dataitem.New(data, "", c.Tags(meta)...)
	if err != nil {
		return nil, err
	}
	if err := item.Sign(w); err != nil {
		return nil, apperr.Wrap(err, apperr.KindAuthorization, apperr.CodeSignatureRejected, "signing bundle", "")
	}
	body, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encoding data item: %w", err)
	}

	free := c.bundlerURL != "" && int64(len(data)) < c.freeTierBytes
	result := &UploadResult{Size: len(data), Free: free}

	target := c.bundlerURL + "/tx"
	if !free {
		price, err := c.Price(ctx, len(body))
		if err != nil {
			return nil, err
		}
		balance, err := c.Balance(ctx, w.Address())
		if err != nil {
			return nil, err
		}
		if balance < price {
			return nil, apperr.New(apperr.KindAuthorization, apperr.CodeInsufficientFunds,
				fmt.Sprintf("upload costs %s, wallet %s holds %s", FormatWinston(price), w.Address(), FormatWinston(balance)),
				"fund the wallet, or shrink the bundle below the free tier")
		}
		result.Cost = price
		target = c.gatewayURL + "/tx"
	}

	c.logger.Debug("uploading bundle", "name", meta.Name, "version", meta.Version,
		"bytes", len(data), "free", free)

	var id string
	err = c.policy("upload").Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.send(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var out struct {
			ID string `json:"id"`
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			return classifyTransportError(ctx, err)
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &out)
		}
		id = out.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = item.ID
	}
	result.ID = id
	return result, nil
}

// Quote is the expected cost of uploading a bundle.
type Quote struct {
	Free bool
	Cost int64
}

// Quote estimates what uploading size bytes will cost. The final price is
// taken on the signed item, which is slightly larger.
func (c *Client) Quote(ctx context.Context, size int) (*Quote, error) {
	if c.bundlerURL != "" && int64(size) < c.freeTierBytes {
		return &Quote{Free: true}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	price, err := c.Price(ctx, size)
	if err != nil {
		return nil, err
	}
	return &Quote{Cost: price}, nil
}

// Price returns the gateway's cost in winston for storing n bytes.
func (c *Client) Price(ctx context.Context, n int) (int64, error) {
	return c.getInt(ctx, "price", c.gatewayURL+"/price/"+strconv.Itoa(n))
}

// Balance returns the wallet balance in winston.
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	return c.getInt(ctx, "balance", c.gatewayURL+"/wallet/"+address+"/balance")
}

func (c *Client) getInt(ctx context.Context, op, url string) (int64, error) {
	var v int64
	err := c.policy(op).Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		resp, err := c.send(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64))
		if err != nil {
			return classifyTransportError(ctx, err)
		}
		v, err = strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			return apperr.Wrap(err, apperr.KindNetwork, apperr.CodeBadRequest,
				fmt.Sprintf("gateway returned a non-numeric %s", op), "")
		}
		return nil
	})
	return v, err
}

// FormatWinston renders a winston amount in AR.
func FormatWinston(w int64) string {
	const perAR = 1_000_000_000_000
	whole, frac := w/perAR, w%perAR
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%012d AR", whole, frac)
}
