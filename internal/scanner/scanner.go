// Package scanner runs one scan: the liveness check, then the four
// analyzers concurrently, then the merge into the result pair.
package scanner

import (
	"context"
	"errors"

	"github.com/danielnaab/site-scanning-engine/internal/analyzer"
	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

var (
	// ErrLivenessFailed is returned with a failed result when the primary
	// fetch of the target fails at the transport level.
	ErrLivenessFailed = errors.New("liveness check failed")

	// ErrInternal is returned with a failed result when merging the
	// analyzer outputs panics.
	ErrInternal = errors.New("internal scan fault")
)

// Scanner is what the worker, the job manager and the CLI run scans through.
type Scanner interface {
	Scan(ctx context.Context, req model.ScanRequest) (*model.ScanResult, error)
}

type LivenessChecker interface {
	Check(ctx context.Context, req model.ScanRequest) (model.CoreResult, *analyzer.Target, error)
}

type RobotsAnalyzer interface {
	Analyze(ctx context.Context, t analyzer.Target) analyzer.RobotsReport
}

type SitemapAnalyzer interface {
	Analyze(ctx context.Context, t analyzer.Target, declared []string) model.SitemapFields
}

type ContentAnalyzer interface {
	Analyze(ctx context.Context, t analyzer.Target, page *webclient.Rendered) model.ContentFields
}

type USWDSAnalyzer interface {
	Analyze(ctx context.Context, t analyzer.Target, page *webclient.Rendered) model.USWDSFields
}

// Recorder receives scan measurements. The metrics package implements it.
type Recorder interface {
	ScanFinished(status model.ScanStatus, seconds float64)
	AnalyzerFinished(group string, seconds float64, degraded bool)
}

// StateObserver is called on every state transition of a scan.
type StateObserver func(req model.ScanRequest, state model.ScanState)

type nopRecorder struct{}

func (nopRecorder) ScanFinished(model.ScanStatus, float64) {}
func (nopRecorder) AnalyzerFinished(string, float64, bool) {}
