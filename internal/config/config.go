package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/tanq16/pkgloader/internal/transfer"
)

const DefaultPackageExt = ".xap"

var ErrNoSources = errors.New("no package sources configured")

type HTTPConfig struct {
	Timeout       time.Duration     `yaml:"timeout"`
	UserAgent     string            `yaml:"user_agent"`
	ProxyURL      string            `yaml:"proxy"`
	ProxyUsername string            `yaml:"proxy_username"`
	ProxyPassword string            `yaml:"proxy_password"`
	Headers       map[string]string `yaml:"headers"`
	Token         string            `yaml:"token"`
}

// Config is everything a load run needs. It can come from a YAML file and is
// then overlaid with command line flags.
type Config struct {
	Sources       []string          `yaml:"sources"`
	Params        map[string]string `yaml:"params"`
	BaseURL       string            `yaml:"base_url"`
	Template      string            `yaml:"template"`
	RateKBs       float64           `yaml:"rate_kbs"`
	TickInterval  time.Duration     `yaml:"tick_interval"`
	NamingService string            `yaml:"naming_service"`
	PackageExt    string            `yaml:"package_ext"`
	AWSProfile    string            `yaml:"aws_profile"`
	HTTP          HTTPConfig        `yaml:"http"`
}

func Default() Config {
	return Config{
		Params:       map[string]string{},
		TickInterval: transfer.DefaultTickInterval,
		PackageExt:   DefaultPackageExt,
		HTTP: HTTPConfig{
			Timeout: 3 * time.Minute,
			Headers: map[string]string{},
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file: %w", err)
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if cfg.HTTP.Headers == nil {
		cfg.HTTP.Headers = map[string]string{}
	}
	return cfg, nil
}

// EffectiveTemplate prefers the explicit template over the Template init
// parameter.
func (c *Config) EffectiveTemplate() string {
	if c.Template != "" {
		return c.Template
	}
	return TemplateFromParams(c.Params)
}

// ResolveSources picks the explicit source list, falling back to the
// LoaderSourceList parameter, and makes relative entries absolute against
// BaseURL.
func (c *Config) ResolveSources() ([]*url.URL, error) {
	var sources []*url.URL
	var err error
	if len(c.Sources) > 0 {
		sources, err = ParseSources(c.Sources)
	} else {
		sources, err = SourcesFromParams(c.Params)
	}
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	if c.BaseURL != "" {
		if sources, err = FixRelativeLinks(c.BaseURL, sources); err != nil {
			return nil, err
		}
	}
	for _, src := range sources {
		if !src.IsAbs() {
			return nil, fmt.Errorf("relative package source %q needs a base url", src)
		}
	}
	return sources, nil
}

// Validate reports every problem with the settings at once. Sources are
// checked separately by ResolveSources since not every command needs them.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.RateKBs < 0 {
		result = multierror.Append(result, fmt.Errorf("rate must not be negative, got %v", c.RateKBs))
	}
	if c.RateKBs > 0 && c.TickInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}
	if c.NamingService != "" {
		if u, err := url.Parse(c.NamingService); err != nil || !u.IsAbs() {
			result = multierror.Append(result, fmt.Errorf("naming service %q is not an absolute url", c.NamingService))
		}
	}
	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || !u.IsAbs() {
			result = multierror.Append(result, fmt.Errorf("base url %q is not an absolute url", c.BaseURL))
		}
	}
	if c.PackageExt != "" && !strings.HasPrefix(c.PackageExt, ".") {
		result = multierror.Append(result, fmt.Errorf("package extension %q must start with a dot", c.PackageExt))
	}
	if c.HTTP.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("http timeout must not be negative, got %s", c.HTTP.Timeout))
	}
	return result.ErrorOrNil()
}
