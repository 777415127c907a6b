// Package config loads the Workspace YAML document (spec.md §6) with
// gopkg.in/yaml.v3 and overlays environment variables afterward, per
// SPEC_FULL.md §4.9. No teacher file loads YAML config; the schema and
// load/overlay sequence are built directly from spec.md §6's field list,
// with yaml.v3 chosen as the ecosystem-idiomatic decoder.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chimefrb/workflow/internal/httpctx"
)

// ArchiveRule is one artifact kind's archive policy, e.g. config.archive.products.
type ArchiveRule struct {
	Methods []string `yaml:"methods"`
	Storage string   `yaml:"storage"`
}

// ArchiveConfig is the workspace-level archive policy block.
type ArchiveConfig struct {
	Products ArchiveRule `yaml:"products"`
	Plots    ArchiveRule `yaml:"plots"`
	Results  bool        `yaml:"results"`
}

// HTTP carries the baseurls for every collaborator service.
type HTTP struct {
	Buckets   string `yaml:"buckets"`
	Results   string `yaml:"results"`
	Pipelines string `yaml:"pipelines"`
	Loki      string `yaml:"loki"`
	Products  string `yaml:"products"`
}

// Archive carries the per-site storage mount table.
type Archive struct {
	Mounts map[string]string `yaml:"mounts"`
}

// Auth declares the collaborator auth scheme.
type Auth struct {
	Type     string `yaml:"type"`
	Provider string `yaml:"provider"`
}

// LokiLogging carries static tags attached to every log line when Loki
// shipping is configured.
type LokiLogging struct {
	Tags map[string]string `yaml:"tags"`
}

// Logging is the optional logging block of the workspace file.
type Logging struct {
	Loki LokiLogging `yaml:"loki"`
}

// Workspace is the decoded form of the YAML document described in spec.md §6.
type Workspace struct {
	Name    string        `yaml:"workspace"`
	Sites   []string      `yaml:"sites"`
	HTTP    HTTP          `yaml:"http"`
	Archive Archive       `yaml:"archive"`
	Config  struct {
		Archive ArchiveConfig `yaml:"archive"`
	} `yaml:"config"`
	Auth    Auth    `yaml:"auth"`
	Logging Logging `yaml:"logging"`
}

var validStorages = map[string]bool{"posix": true, "s3": true, "http": true}

// Load reads and decodes a Workspace YAML document from path, applies the
// environment overlay, and validates cross-field invariants.
func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workspace config %s: %w", path, err)
	}
	var ws Workspace
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("parse workspace config %s: %w", path, err)
	}
	Overlay(&ws)
	if err := ws.Validate(); err != nil {
		return nil, err
	}
	return &ws, nil
}

// Overlay applies the WORKFLOW_HTTP_BASEURL_{BUCKETS,RESULTS,PIPELINES}
// overrides on top of an already decoded Workspace, always after the YAML
// decode so the shell wins. Other environment variables (tokens,
// WORKFLOW_TAGS, WORKFLOW_S3_*) are read where they are used, not here.
func Overlay(ws *Workspace) {
	if v := os.Getenv("WORKFLOW_HTTP_BASEURL_BUCKETS"); v != "" {
		ws.HTTP.Buckets = v
	}
	if v := os.Getenv("WORKFLOW_HTTP_BASEURL_RESULTS"); v != "" {
		ws.HTTP.Results = v
	}
	if v := os.Getenv("WORKFLOW_HTTP_BASEURL_PIPELINES"); v != "" {
		ws.HTTP.Pipelines = v
	}
}

// Tags returns the WORKFLOW_TAGS environment variable split and trimmed,
// per spec.md §6: "comma-separated, merged into tags deduplicated".
func Tags() []string {
	raw := os.Getenv("WORKFLOW_TAGS")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// S3Credentials reads the optional s3 storage driver overrides, per
// spec.md §6.
type S3Credentials struct {
	Endpoint  string
	AccessKey string
	SecretKey string
}

// LoadS3Credentials reads WORKFLOW_S3_ENDPOINT/_ACCESS_KEY/_SECRET_KEY.
func LoadS3Credentials() S3Credentials {
	return S3Credentials{
		Endpoint:  os.Getenv("WORKFLOW_S3_ENDPOINT"),
		AccessKey: os.Getenv("WORKFLOW_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("WORKFLOW_S3_SECRET_KEY"),
	}
}

// Validate checks the cross-field invariants SPEC_FULL.md §4.9 calls out:
// archive storage names reference a real driver, posix mounts are present
// when used, and collaborator baseurls are non-empty.
func (ws *Workspace) Validate() error {
	if ws.HTTP.Buckets == "" {
		return fmt.Errorf("workspace config: http.baseurls.buckets is required")
	}
	if ws.HTTP.Results == "" {
		return fmt.Errorf("workspace config: http.baseurls.results is required")
	}
	for _, rule := range []struct {
		kind string
		r    ArchiveRule
	}{{"products", ws.Config.Archive.Products}, {"plots", ws.Config.Archive.Plots}} {
		if rule.r.Storage == "" {
			continue
		}
		if !validStorages[rule.r.Storage] {
			return fmt.Errorf("workspace config: archive.%s.storage %q is not a recognized driver", rule.kind, rule.r.Storage)
		}
		if rule.r.Storage == "posix" && len(ws.Archive.Mounts) == 0 {
			return fmt.Errorf("workspace config: archive.%s uses posix storage but archive.mounts is empty", rule.kind)
		}
	}
	return nil
}

// Mount returns the posix mount path configured for a site.
func (ws *Workspace) Mount(site string) (string, bool) {
	p, ok := ws.Archive.Mounts[site]
	return p, ok
}

// ResolveBaseURLs collapses any comma-separated alternates in the
// collaborator baseurls down to the first reachable one, via
// httpctx.Probe. This restores pipeline.py's multi-base_urls connectivity
// probe (SPEC_FULL.md supplemental features §1): a workspace is free to
// declare a single baseurl per service (the common case, left untouched)
// or a comma-separated list of candidates to probe at startup.
func (ws *Workspace) ResolveBaseURLs(ctx context.Context) error {
	for _, field := range []*string{&ws.HTTP.Buckets, &ws.HTTP.Results, &ws.HTTP.Pipelines} {
		candidates := strings.Split(*field, ",")
		if len(candidates) <= 1 {
			continue
		}
		for i := range candidates {
			candidates[i] = strings.TrimSpace(candidates[i])
		}
		resolved, err := httpctx.Probe(ctx, candidates)
		if err != nil {
			return fmt.Errorf("resolve base url: %w", err)
		}
		*field = resolved
	}
	return nil
}
