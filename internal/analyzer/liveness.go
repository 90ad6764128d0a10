package analyzer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"github.com/danielnaab/site-scanning-engine/internal/domains"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

// Liveness fetches the target, records redirect behaviour and domain
// relationships, and probes a synthetic path for a genuine not-found.
type Liveness struct {
	fetch  webclient.WebClient
	cfg    LivenessConfig
	logger logging.Logger
}

func NewLiveness(fetch webclient.WebClient, cfg LivenessConfig, logger logging.Logger) *Liveness {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Liveness{
		fetch:  fetch,
		cfg:    cfg,
		logger: logger.With(logging.Component("liveness")),
	}
}

// Check runs the liveness steps. A non-nil error means the primary fetch
// failed at the transport level; the returned CoreResult then carries only
// the website ID and the caller must not run the dependent analyzers.
func (l *Liveness) Check(ctx context.Context, req model.ScanRequest) (model.CoreResult, *Target, error) {
	core := model.CoreResult{WebsiteID: req.WebsiteID}

	targetURL, err := domains.NormalizeTarget(req.TargetURL)
	if err != nil {
		return core, nil, fmt.Errorf("normalize target %q: %w", req.TargetURL, err)
	}

	resp, err := l.fetch.Do(ctx, &webclient.Request{Method: http.MethodGet, URL: targetURL, Timeout: l.cfg.Timeout})
	if err != nil {
		l.logger.Warn("primary fetch failed",
			logging.Field{Key: "url", Value: targetURL},
			logging.Err(err))
		return core, nil, fmt.Errorf("fetch %s: %w", targetURL, err)
	}

	core.TargetURLBaseDomain = domains.RegistrableDomain(targetURL)
	core.TargetURLRedirects = resp.Redirected()
	core.FinalURL = resp.FinalURL
	core.FinalURLBaseDomain = domains.RegistrableDomain(resp.FinalURL)
	core.FinalURLStatusCode = resp.StatusCode
	core.FinalURLMIMEType = resp.MIMEType
	core.FinalURLIsLive = resp.IsLive()
	core.FinalURLSameDomain = domains.SameDomain(targetURL, resp.FinalURL)
	core.FinalURLSameWebsite = domains.SameHost(targetURL, resp.FinalURL)
	core.TargetURL404Test = l.probeNotFound(ctx, targetURL, resp)

	origin, err := domains.Origin(resp.FinalURL)
	if err != nil {
		// The final URL came from the transport, so this only happens for
		// exotic redirects; fall back to the target's origin.
		origin, _ = domains.Origin(targetURL)
	}

	target := &Target{
		Request:    req,
		URL:        targetURL,
		FinalURL:   resp.FinalURL,
		Origin:     origin,
		MIMEType:   resp.MIMEType,
		StatusCode: resp.StatusCode,
	}
	return core, target, nil
}

// probeNotFound requests a random path on the target's origin. The site
// passes when it answers 404 or 410 with a body that is not the live page
// served again under an error status.
func (l *Liveness) probeNotFound(ctx context.Context, targetURL string, live *webclient.Response) model.Field[bool] {
	origin, err := domains.Origin(targetURL)
	if err != nil {
		return model.NotEvaluated[bool]()
	}
	probeURL := origin + "/" + uuid.NewString()

	probe, err := l.fetch.Do(ctx, &webclient.Request{Method: http.MethodGet, URL: probeURL, Timeout: l.cfg.ProbeTimeout})
	if err != nil {
		l.logger.Warn("not-found probe failed",
			logging.Field{Key: "url", Value: probeURL},
			logging.Err(err))
		return model.NotEvaluated[bool]()
	}
	return model.Of(isGenuineNotFound(probe, live))
}

func isGenuineNotFound(probe, live *webclient.Response) bool {
	if probe.StatusCode != http.StatusNotFound && probe.StatusCode != http.StatusGone {
		return false
	}
	if live.IsLive() && len(probe.Body) > 0 && probe.Size == live.Size && xxh3.Hash(probe.Body) == xxh3.Hash(live.Body) {
		return false
	}
	return true
}
