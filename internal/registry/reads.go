package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/dataitem"
	"github.com/permaskills/skills/internal/manifest"
)

// ListOptions filters and paginates List.
type ListOptions struct {
	Limit  int
	Offset int
	Author string
	Tags   []string
}

// ListPage is one page of List results.
type ListPage struct {
	Skills []manifest.Skill `json:"skills"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// Info describes the registry process.
type Info struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	SkillCount int      `json:"skillCount,omitempty"`
	Handlers   []string `json:"handlers,omitempty"`
}

func action(name string, extra ...dataitem.Tag) dataitem.Tags {
	return append(dataitem.Tags{{Name: "Action", Value: name}}, extra...)
}

// Search returns skills matching query. No matches is an empty slice.
func (c *Client) Search(ctx context.Context, query string) ([]manifest.Skill, error) {
	query = strings.TrimSpace(query)
	r, err := c.query(ctx, "search:"+query,
		action("Search-Skills", dataitem.Tag{Name: "Query", Value: query}))
	if err != nil {
		return nil, err
	}
	switch r.Kind {
	case ResultNotFound:
		return []manifest.Skill{}, nil
	case ResultFailure:
		return nil, r.Err()
	}

	skills, err := decodeSkills(r.Data)
	if err != nil {
		return nil, err
	}
	return skills, nil
}

// Get returns the manifest of name at version, or the latest version when
// version is empty. A missing package is a not_found Network error.
func (c *Client) Get(ctx context.Context, name, version string) (*manifest.Skill, error) {
	tags := action("Get-Skill", dataitem.Tag{Name: "Name", Value: name})
	if version != "" {
		tags = append(tags, dataitem.Tag{Name: "Version", Value: version})
	}
	ref := manifest.Ref{Name: name, Version: version}

	r, err := c.query(ctx, "get:"+ref.String(), tags)
	if err != nil {
		return nil, err
	}
	switch r.Kind {
	case ResultNotFound:
		return nil, apperr.New(apperr.KindNetwork, apperr.CodeNotFound,
			fmt.Sprintf("skill %s not found in registry", ref),
			"check the name with 'skills search'")
	case ResultFailure:
		return nil, r.Err()
	}

	var skill manifest.Skill
	if err := json.Unmarshal(r.Data, &skill); err != nil {
		return nil, apperr.Wrap(err, apperr.KindNetwork, apperr.CodeRegistryError,
			fmt.Sprintf("decoding manifest for %s", ref), "")
	}
	if skill.Name == "" {
		skill.Name = name
	}
	return &skill, nil
}

// GetSkill implements the resolver's package source.
func (c *Client) GetSkill(ctx context.Context, name, version string) (*manifest.Skill, error) {
	return c.Get(ctx, name, version)
}

// List returns one page of registered skills.
func (c *Client) List(ctx context.Context, opts ListOptions) (*ListPage, error) {
	tags := action("List-Skills")
	if opts.Limit > 0 {
		tags = append(tags, dataitem.Tag{Name: "Limit", Value: strconv.Itoa(opts.Limit)})
	}
	if opts.Offset > 0 {
		tags = append(tags, dataitem.Tag{Name: "Offset", Value: strconv.Itoa(opts.Offset)})
	}
	if opts.Author != "" {
		tags = append(tags, dataitem.Tag{Name: "Author", Value: opts.Author})
	}
	if len(opts.Tags) > 0 {
		b, _ := json.Marshal(opts.Tags)
		tags = append(tags, dataitem.Tag{Name: "Tags", Value: string(b)})
	}

	r, err := c.query(ctx, "", tags)
	if err != nil {
		return nil, err
	}
	page := &ListPage{Skills: []manifest.Skill{}, Limit: opts.Limit, Offset: opts.Offset}
	switch r.Kind {
	case ResultNotFound:
		return page, nil
	case ResultFailure:
		return nil, r.Err()
	}

	if len(r.Data) > 0 && r.Data[0] == '[' {
		skills, err := decodeSkills(r.Data)
		if err != nil {
			return nil, err
		}
		page.Skills = skills
		page.Total = len(skills)
		return page, nil
	}
	if err := json.Unmarshal(r.Data, page); err != nil {
		return nil, apperr.Wrap(err, apperr.KindNetwork, apperr.CodeRegistryError, "decoding skill list", "")
	}
	if page.Skills == nil {
		page.Skills = []manifest.Skill{}
	}
	return page, nil
}

// Info returns the registry's self-description.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	r, err := c.query(ctx, "", action("Info"))
	if err != nil {
		return nil, err
	}
	switch r.Kind {
	case ResultNotFound:
		return nil, apperr.New(apperr.KindNetwork, apperr.CodeNoResponse,
			"registry returned no info", "check registry.process_id")
	case ResultFailure:
		return nil, r.Err()
	}

	var info Info
	if err := json.Unmarshal(r.Data, &info); err != nil {
		return nil, apperr.Wrap(err, apperr.KindNetwork, apperr.CodeRegistryError, "decoding registry info", "")
	}
	return &info, nil
}

func decodeSkills(data json.RawMessage) ([]manifest.Skill, error) {
	if len(data) == 0 {
		return []manifest.Skill{}, nil
	}
	var skills []manifest.Skill
	if err := json.Unmarshal(data, &skills); err != nil {
		var wrapped struct {
			Skills []manifest.Skill `json:"skills"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, apperr.Wrap(err, apperr.KindNetwork, apperr.CodeRegistryError, "decoding skills", "")
		}
		skills = wrapped.Skills
	}
	if skills == nil {
		skills = []manifest.Skill{}
	}
	return skills, nil
}
