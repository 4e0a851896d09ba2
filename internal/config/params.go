package config

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	SourceListKey = "LoaderSourceList"
	TemplateKey   = "Template"
	sourceDelim   = ";"
)

// SourcesFromParams splits the LoaderSourceList parameter into URIs. It
// returns nil when the parameter is absent. Empty entries are dropped.
func SourcesFromParams(params map[string]string) ([]*url.URL, error) {
	raw, ok := params[SourceListKey]
	if !ok {
		return nil, nil
	}
	return ParseSources(strings.Split(raw, sourceDelim))
}

func ParseSources(raw []string) ([]*url.URL, error) {
	var sources []*url.URL
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		u, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid package source %q: %w", entry, err)
		}
		sources = append(sources, u)
	}
	return sources, nil
}

func TemplateFromParams(params map[string]string) string {
	return params[TemplateKey]
}

// FixRelativeLinks resolves relative sources against the directory of
// documentURL, i.e. everything up to its last '/'. Absolute sources are
// returned untouched.
func FixRelativeLinks(documentURL string, sources []*url.URL) ([]*url.URL, error) {
	base, err := url.Parse(documentURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", documentURL, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q is not absolute", documentURL)
	}
	dir := base.Path
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i]
	}
	base.Path = dir + "/"
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""

	fixed := make([]*url.URL, len(sources))
	for i, src := range sources {
		if src.IsAbs() {
			fixed[i] = src
			continue
		}
		fixed[i] = base.ResolveReference(src)
	}
	return fixed, nil
}
