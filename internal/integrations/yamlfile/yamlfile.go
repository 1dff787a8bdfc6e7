// Package yamlfile reads a planning snapshot from a YAML or JSON document.
package yamlfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"siteplan/internal/model"
)

// Source loads a model.PlanRequest from Path. Files ending in .json use the
// API's camelCase keys; everything else is YAML with snake_case keys.
type Source struct {
	Path string
}

func New(path string) *Source { return &Source{Path: path} }

func (s *Source) Name() string { return "yaml-file" }

func (s *Source) Load(ctx context.Context) (model.PlanRequest, error) {
	var req model.PlanRequest
	if err := ctx.Err(); err != nil {
		return req, eris.Wrap(err, "yamlfile: context cancelled")
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return req, eris.Wrapf(err, "yamlfile: read %s", s.Path)
	}
	if strings.EqualFold(filepath.Ext(s.Path), ".json") {
		if err := json.Unmarshal(raw, &req); err != nil {
			return req, eris.Wrapf(err, "yamlfile: decode %s", s.Path)
		}
	} else if err := yaml.Unmarshal(raw, &req); err != nil {
		return req, eris.Wrapf(err, "yamlfile: decode %s", s.Path)
	}
	if req.Name == "" {
		req.Name = strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
	}
	return req, nil
}
