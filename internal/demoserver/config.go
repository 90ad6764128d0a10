package demoserver

// Config holds configuration for the demo server.
type Config struct {
	// Port is the port on which the demo server listens.
	Port int

	// Profile is the site served at startup: "uswds" or "legacy".
	Profile string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:    9999,
		Profile: ProfileUSWDS,
	}
}
