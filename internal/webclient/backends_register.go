package webclient

import (
	"fmt"

	"github.com/danielnaab/site-scanning-engine/internal/logging"
)

func init() {
	RegisterDefaultRenderers()
}

// RegisterDefaultRenderers registers the chromedp, playwright and static
// backends.
func RegisterDefaultRenderers() {
	RegisterRenderer(string(BackendChromedp), func(cfg RendererConfig, _ WebClient, logger logging.Logger) (Renderer, error) {
		return NewChromedpRenderer(cfg, logger)
	})

	RegisterRenderer(string(BackendPlaywright), func(cfg RendererConfig, _ WebClient, logger logging.Logger) (Renderer, error) {
		return NewPlaywrightRenderer(cfg, logger)
	})

	RegisterRenderer(string(BackendStatic), func(cfg RendererConfig, fetch WebClient, logger logging.Logger) (Renderer, error) {
		if fetch == nil {
			return nil, fmt.Errorf("static renderer needs a fetch client")
		}
		return NewStaticRenderer(cfg, fetch, logger), nil
	})
}
