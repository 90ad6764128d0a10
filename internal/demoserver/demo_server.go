package demoserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
)

// DemoServer serves a small fake agency website whose profile can be
// switched at runtime, so consecutive scans show drift.
type DemoServer struct {
	cfg     Config
	mu      sync.RWMutex
	profile string
}

// NewDemoServer creates a new demo server instance.
func NewDemoServer(cfg Config) (*DemoServer, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileUSWDS
	}
	if !slices.Contains(Profiles(), cfg.Profile) {
		return nil, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	return &DemoServer{cfg: cfg, profile: cfg.Profile}, nil
}

// Profile returns the profile currently served.
func (s *DemoServer) Profile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// SetProfile switches the site served for subsequent requests.
func (s *DemoServer) SetProfile(name string) error {
	if !slices.Contains(Profiles(), name) {
		return fmt.Errorf("unknown profile %q", name)
	}
	s.mu.Lock()
	s.profile = name
	s.mu.Unlock()
	return nil
}

// Handler returns the demo site plus its control endpoints.
func (s *DemoServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Control endpoints for profile switching
	mux.HandleFunc("/demo/profile", s.profileHandler)

	mux.HandleFunc("/", s.pageHandler)
	return mux
}

// Start starts the demo server.
func (s *DemoServer) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	fmt.Printf("Demo server starting on http://localhost%s (profile %s)\n", addr, s.Profile())
	fmt.Printf("Switch profiles with: curl -d profile=legacy http://localhost%s/demo/profile\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *DemoServer) pageHandler(w http.ResponseWriter, r *http.Request) {
	origin := "http://" + r.Host
	if r.TLS != nil {
		origin = "https://" + r.Host
	}

	p, ok := sites[s.Profile()].render(r.URL.Path, origin)
	if !ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(notFoundHTML))
		return
	}

	if p.location != "" {
		http.Redirect(w, r, p.location, p.status)
		return
	}
	w.Header().Set("Content-Type", p.contentType)
	w.WriteHeader(p.status)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(p.body))
	}
}

// profileHandler reports the current profile, and switches it on POST.
func (s *DemoServer) profileHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		if err := s.SetProfile(r.FormValue("profile")); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"profile":  s.Profile(),
		"profiles": Profiles(),
	})
}
