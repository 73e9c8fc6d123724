package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/dataitem"
	"github.com/permaskills/skills/internal/manifest"
)

// Write actions and the reply actions that acknowledge them.
const (
	ActionRegister   = "Register-Skill"
	ActionUpdate     = "Update-Skill"
	ActionRegistered = "Skill-Registered"
	ActionUpdated    = "Skill-Updated"
)

// Register sends a Register-Skill message and returns its message id.
func (c *Client) Register(ctx context.Context, skill *manifest.Skill) (string, error) {
	return c.write(ctx, ActionRegister, skill)
}

// Update sends an Update-Skill message for a new version of an existing
// name and returns its message id.
func (c *Client) Update(ctx context.Context, skill *manifest.Skill) (string, error) {
	return c.write(ctx, ActionUpdate, skill)
}

// skillTags builds the metadata tags every write carries.
func skillTags(actionName string, s *manifest.Skill) (dataitem.Tags, error) {
	tagsJSON, err := json.Marshal(orEmpty(s.Tags))
	if err != nil {
		return nil, err
	}
	depsJSON, err := json.Marshal(orEmpty(s.DependencyRefs()))
	if err != nil {
		return nil, err
	}
	return dataitem.Tags{
		{Name: "Action", Value: actionName},
		{Name: "Name", Value: s.Name},
		{Name: "Version", Value: s.Version},
		{Name: "Description", Value: s.Description},
		{Name: "Author", Value: s.Author},
		{Name: "Tags", Value: string(tagsJSON)},
		{Name: "Dependencies", Value: string(depsJSON)},
		{Name: "License", Value: s.License},
		{Name: "Arweave-TxId", Value: s.ContentID},
	}, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// write posts one signed message. Writes are never retried: a repeat could
// register twice.
func (c *Client) write(ctx context.Context, actionName string, skill *manifest.Skill) (string, error) {
	if c.signer == nil {
		return "", apperr.New(apperr.KindConfiguration, apperr.CodeMissingSetting,
			"no wallet configured for registry writes", "pass --wallet or set wallet.path")
	}
	if skill.ContentID == "" || !dataitem.ValidID(skill.ContentID) {
		return "", apperr.New(apperr.KindValidation, apperr.CodeInvalidInput,
			fmt.Sprintf("invalid content id %q", skill.ContentID), "")
	}

	tags, err := skillTags(actionName, skill)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	payload, err := json.Marshal(skill)
	if err != nil {
		return "", fmt.Errorf("encoding skill: %w", err)
	}
	item, err := dataitem.New(payload, c.processID, tags...)
	if err != nil {
		return "", err
	}
	if err := item.Sign(c.signer); err != nil {
		return "", apperr.Wrap(err, apperr.KindAuthorization, apperr.CodeSignatureRejected,
			"signing registry message", "")
	}
	body, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encoding data item: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.muURL+"/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		resp.ID = item.ID
	}
	c.logger.Info("registry message sent", "action", actionName, "name", skill.Name,
		"version", skill.Version, "message_id", resp.ID)
	return resp.ID, nil
}

// AwaitResult polls for the reply to a write until one arrives or the
// bounded wait elapses. A Failure reply is returned as a Result, not an
// error; the absence of any reply is a no_response error.
func (c *Client) AwaitResult(ctx context.Context, messageID string) (*Result, error) {
	deadline := c.clock.Now().Add(c.awaitTimeout)
	endpoint := c.cuURL + "/result/" + url.PathEscape(messageID) +
		"?process-id=" + url.QueryEscape(c.processID)

	for attempt := 1; ; attempt++ {
		r, err := c.fetchResult(ctx, endpoint)
		switch {
		case err == nil && r.Kind != ResultNotFound:
			return &r, nil
		case err != nil && !apperr.HasCode(err, apperr.CodeNotFound) && !isRetryable(err):
			return nil, err
		case err != nil:
			c.logger.Debug("registry result not ready", "message_id", messageID, "attempt", attempt, "error", err)
		}

		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			break
		}
		wait := c.pollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(ctx.Err(), apperr.KindNetwork, apperr.CodeNoResponse,
				"no response from registry", "")
		case <-c.clock.After(wait):
		}
	}

	return nil, apperr.New(apperr.KindNetwork, apperr.CodeNoResponse,
		fmt.Sprintf("no response from registry after %s", c.awaitTimeout),
		"the message may still be processed; check later with 'skills info'")
}

func (c *Client) fetchResult(ctx context.Context, endpoint string) (Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	var env envelope
	if err := c.do(req, &env); err != nil {
		return Result{}, err
	}
	return decodeEnvelope(env), nil
}

// Acknowledged reports whether r is the success reply for a write of
// name@version.
func Acknowledged(r *Result, name, version string) bool {
	if r == nil || r.Kind != ResultSuccess {
		return false
	}
	a := r.Action()
	if a != ActionRegistered && a != ActionUpdated {
		return false
	}
	if n := r.Tags.Value("Name"); n != "" && n != name {
		return false
	}
	if v := r.Tags.Value("Version"); v != "" && v != version {
		return false
	}
	return true
}

// formatTimestamp renders registry millisecond timestamps.
func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// PublishedAt renders the skill's publish time, or "" when unknown.
func PublishedAt(s *manifest.Skill) string {
	return formatTimestamp(s.PublishedAt)
}
