package webclient

import "time"

type Backend string

const (
	BackendChromedp   Backend = "chromedp"
	BackendPlaywright Backend = "playwright"
	BackendStatic     Backend = "static"
)

// Config configures the fetch client and the renderer.
type Config struct {
	UserAgent    string        `mapstructure:"user_agent" yaml:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects" yaml:"max_redirects"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`

	// PerHostRPS paces requests to any one host. Zero disables pacing.
	PerHostRPS float64 `mapstructure:"per_host_rps" yaml:"per_host_rps"`

	Renderer RendererConfig `mapstructure:"renderer" yaml:"renderer"`
}

// RendererConfig configures the rendering backend and its context pool.
type RendererConfig struct {
	Backend Backend `mapstructure:"backend" yaml:"backend"`

	// PoolSize bounds concurrent browsing contexts across all scans.
	PoolSize       int           `mapstructure:"pool_size" yaml:"pool_size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	RenderTimeout  time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`

	// IdleAfter is how long the network must stay quiet before the DOM is
	// read. MaxIdleWait caps that wait.
	IdleAfter   time.Duration `mapstructure:"idle_after" yaml:"idle_after"`
	MaxIdleWait time.Duration `mapstructure:"max_idle_wait" yaml:"max_idle_wait"`

	Headless  bool   `mapstructure:"headless" yaml:"headless"`
	NoSandbox bool   `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	ExecPath  string `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
}

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRedirects = 10
	DefaultMaxBodyBytes = 10 << 20
	DefaultUserAgent    = "site-scanning-engine/1.0 (+https://digital.gov/site-scanning)"
)

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:    DefaultUserAgent,
		Timeout:      DefaultTimeout,
		MaxRedirects: DefaultMaxRedirects,
		MaxBodyBytes: DefaultMaxBodyBytes,
		Renderer: RendererConfig{
			Backend:        BackendChromedp,
			PoolSize:       4,
			AcquireTimeout: 30 * time.Second,
			RenderTimeout:  45 * time.Second,
			IdleAfter:      2 * time.Second,
			MaxIdleWait:    15 * time.Second,
			Headless:       true,
		},
	}
}
