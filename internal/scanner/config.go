package scanner

import (
	"time"

	"github.com/danielnaab/site-scanning-engine/internal/analyzer"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

type Config struct {
	// Deadline bounds a whole scan. Zero derives it from the stage timeouts.
	Deadline time.Duration `mapstructure:"deadline" yaml:"deadline"`

	// RenderTimeout bounds the single render shared by the content and
	// USWDS analyzers, pool acquisition included.
	RenderTimeout time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
}

func DefaultConfig() Config {
	return Config{}
}

// deadlineMargin is added on top of the summed stage timeouts.
const deadlineMargin = 15 * time.Second

// DeriveDeadline sums the worst case of each stage: the liveness fetch and
// probe, then the longest of the robots plus sitemap chain and the render
// plus stylesheet chain.
func DeriveDeadline(a analyzer.Config, r webclient.RendererConfig) time.Duration {
	liveness := a.Liveness.Timeout + a.Liveness.ProbeTimeout
	robotsChain := a.Robots.Timeout + 2*a.Sitemap.Timeout
	renderChain := r.AcquireTimeout + r.RenderTimeout + a.USWDS.StylesheetTimeout
	return liveness + max(robotsChain, renderChain) + deadlineMargin
}
