// Package downloads maps fulfilled products to downloadable asset links.
package downloads

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mihaimyh/gofulfill/pkg/catalog"
)

// Link is one downloadable asset.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Asset is a manifest entry, relative to the base URL.
type Asset struct {
	Label string `yaml:"label" validate:"required"`
	Path  string `yaml:"path" validate:"required"`
}

// Entry lists the assets of one download key.
type Entry struct {
	Bundle []Asset            `yaml:"bundle" validate:"omitempty,dive"`
	Tiers  map[string][]Asset `yaml:"tiers" validate:"omitempty,dive,keys,required,endkeys,dive"`
}

type manifest struct {
	Downloads map[string]Entry `yaml:"downloads" validate:"omitempty,dive"`
}

//go:embed downloads.yaml
var defaultManifest []byte

// Resolver resolves download keys. It performs no I/O.
type Resolver struct {
	base    string
	entries map[string]Entry
}

// New builds a resolver joining asset paths onto baseURL.
func New(entries map[string]Entry, baseURL string) (*Resolver, error) {
	if err := validator.New().Struct(manifest{Downloads: entries}); err != nil {
		return nil, fmt.Errorf("invalid downloads manifest: %w", err)
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		if _, err := url.Parse(baseURL); err != nil {
			return nil, fmt.Errorf("invalid downloads base url: %w", err)
		}
	}
	r := &Resolver{base: strings.TrimRight(baseURL, "/"), entries: make(map[string]Entry, len(entries))}
	for key, e := range entries {
		tiers := make(map[string][]Asset, len(e.Tiers))
		for tier, assets := range e.Tiers {
			tiers[catalog.NormalizeTier(tier)] = assets
		}
		e.Tiers = tiers
		r.entries[key] = e
	}
	return r, nil
}

// Parse decodes a YAML manifest.
func Parse(data []byte, baseURL string) (*Resolver, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse downloads manifest: %w", err)
	}
	return New(m.Downloads, baseURL)
}

// Default returns the resolver for the embedded manifest.
func Default(baseURL string) (*Resolver, error) {
	return Parse(defaultManifest, baseURL)
}

// Resolve returns the links for key. The tier's own list wins when present;
// otherwise the bundle list is used. Unknown keys resolve to nothing.
func (r *Resolver) Resolve(key, tier string) []Link {
	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	assets := e.Bundle
	if t := catalog.NormalizeTier(tier); t != "" {
		if override, ok := e.Tiers[t]; ok && len(override) > 0 {
			assets = override
		}
	}
	out := make([]Link, 0, len(assets))
	for _, a := range assets {
		out = append(out, Link{Label: a.Label, URL: r.join(a.Path)})
	}
	return out
}

// Request names one fulfilled download.
type Request struct {
	Key  string
	Tier string
}

// ResolveAll resolves every request, dropping links whose URL was already
// returned.
func (r *Resolver) ResolveAll(reqs []Request) []Link {
	var out []Link
	seen := make(map[string]bool)
	for _, req := range reqs {
		if req.Key == "" {
			continue
		}
		for _, l := range r.Resolve(req.Key, req.Tier) {
			if seen[l.URL] {
				continue
			}
			seen[l.URL] = true
			out = append(out, l)
		}
	}
	return out
}

func (r *Resolver) join(path string) string {
	path = strings.TrimLeft(path, "/")
	if r.base == "" {
		return "/" + path
	}
	return r.base + "/" + path
}
