package analyzer

import (
	"fmt"
	"time"
)

// Config gathers the per-analyzer settings.
type Config struct {
	Liveness LivenessConfig `mapstructure:"liveness" yaml:"liveness"`
	Robots   RobotsConfig   `mapstructure:"robots" yaml:"robots"`
	Sitemap  SitemapConfig  `mapstructure:"sitemap" yaml:"sitemap"`
	Content  ContentConfig  `mapstructure:"content" yaml:"content"`
	USWDS    USWDSConfig    `mapstructure:"uswds" yaml:"uswds"`
}

type LivenessConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// ProbeTimeout bounds the not-found probe.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

type RobotsConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SitemapConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MaxChildSitemaps caps how many children of a sitemap index are fetched.
	// Children are never followed past one level.
	MaxChildSitemaps int `mapstructure:"max_child_sitemaps" yaml:"max_child_sitemaps"`
	// MaxBytes caps how much of each sitemap document is parsed.
	MaxBytes int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
}

type ContentConfig struct {
	// DAPPatterns are substrings identifying the analytics script reference.
	DAPPatterns []string `mapstructure:"dap_patterns" yaml:"dap_patterns"`
}

type USWDSConfig struct {
	MaxStylesheets    int           `mapstructure:"max_stylesheets" yaml:"max_stylesheets"`
	StylesheetTimeout time.Duration `mapstructure:"stylesheet_timeout" yaml:"stylesheet_timeout"`
	Scores            USWDSScores   `mapstructure:"scores" yaml:"scores"`
	Thresholds        []Threshold   `mapstructure:"thresholds" yaml:"thresholds"`
}

// USWDSScores are the values reported by the presence signals and the bonus
// added to uswdsCount when a semantic version is found. Count signals
// report their raw occurrence count.
type USWDSScores struct {
	StringInCSS     int `mapstructure:"string_in_css" yaml:"string_in_css"`
	UsFlag          int `mapstructure:"us_flag" yaml:"us_flag"`
	UsFlagInCSS     int `mapstructure:"us_flag_in_css" yaml:"us_flag_in_css"`
	PublicSans      int `mapstructure:"public_sans" yaml:"public_sans"`
	SourceSans      int `mapstructure:"source_sans" yaml:"source_sans"`
	Merriweather    int `mapstructure:"merriweather" yaml:"merriweather"`
	SemanticVersion int `mapstructure:"semantic_version" yaml:"semantic_version"`
}

// Threshold maps uswdsCount values of at least Min to Version.
type Threshold struct {
	Min     int `mapstructure:"min" yaml:"min"`
	Version int `mapstructure:"version" yaml:"version"`
}

func DefaultConfig() Config {
	return Config{
		Liveness: LivenessConfig{
			Timeout:      30 * time.Second,
			ProbeTimeout: 15 * time.Second,
		},
		Robots: RobotsConfig{Timeout: 15 * time.Second},
		Sitemap: SitemapConfig{
			Timeout:          30 * time.Second,
			MaxChildSitemaps: 25,
			MaxBytes:         50 << 20,
		},
		Content: ContentConfig{
			DAPPatterns: []string{"dap.digitalgov.gov", "Universal-Federated-Analytics"},
		},
		USWDS: USWDSConfig{
			MaxStylesheets:    10,
			StylesheetTimeout: 10 * time.Second,
			Scores: USWDSScores{
				StringInCSS:     20,
				UsFlag:          20,
				UsFlagInCSS:     20,
				PublicSans:      20,
				SourceSans:      5,
				Merriweather:    5,
				SemanticVersion: 20,
			},
			Thresholds: DefaultThresholds(),
		},
	}
}

// DefaultThresholds classifies 0 as no adoption, 1-99 as major version 1 and
// 100 or more as major version 2.
func DefaultThresholds() []Threshold {
	return []Threshold{{Min: 0, Version: 0}, {Min: 1, Version: 1}, {Min: 100, Version: 2}}
}

// ValidateThresholds checks that the table covers every non-negative count:
// it must start at 0 and strictly increase.
func ValidateThresholds(ts []Threshold) error {
	if len(ts) == 0 {
		return fmt.Errorf("threshold table is empty")
	}
	if ts[0].Min != 0 {
		return fmt.Errorf("threshold table must start at 0, starts at %d", ts[0].Min)
	}
	for i := 1; i < len(ts); i++ {
		if ts[i].Min <= ts[i-1].Min {
			return fmt.Errorf("threshold %d (min %d) does not increase over %d", i, ts[i].Min, ts[i-1].Min)
		}
	}
	return nil
}

// Validate rejects settings the analyzers cannot run with.
func (c Config) Validate() error {
	if c.Sitemap.MaxChildSitemaps < 0 {
		return fmt.Errorf("sitemap.max_child_sitemaps must be >= 0")
	}
	if c.USWDS.MaxStylesheets < 0 {
		return fmt.Errorf("uswds.max_stylesheets must be >= 0")
	}
	if err := ValidateThresholds(c.USWDS.Thresholds); err != nil {
		return fmt.Errorf("uswds.thresholds: %w", err)
	}
	return nil
}
