// Package analyzer holds the liveness check and the four analyzers that each
// fill one group of the solutions record. Analyzers never return errors past
// their own boundary: faults are logged and the affected fields stay
// NotEvaluated.
package analyzer

import (
	"strings"

	"github.com/danielnaab/site-scanning-engine/internal/model"
)

// Target is what the liveness check hands to the dependent analyzers.
type Target struct {
	Request model.ScanRequest

	// URL is the normalized target URL that was fetched.
	URL string

	FinalURL   string
	Origin     string
	MIMEType   string
	StatusCode int
}

// IsHTML reports whether the final URL served an HTML document.
func (t Target) IsHTML() bool {
	return isHTMLType(t.MIMEType)
}

func isHTMLType(mt string) bool {
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func isXMLOrTextType(mt string) bool {
	return strings.HasPrefix(mt, "text/") || strings.HasSuffix(mt, "/xml") || strings.HasSuffix(mt, "+xml")
}
