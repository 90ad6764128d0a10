package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/danielnaab/site-scanning-engine/internal/model"
	"github.com/danielnaab/site-scanning-engine/internal/registry"
)

const queueScansPage = 500

// QueueScans enqueues one scan, with a fresh scan id, for every website in
// the registry and returns how many were queued.
func QueueScans(ctx context.Context, q Queue, reg *registry.Registry) (int, error) {
	n := 0
	for offset := 0; ; offset += queueScansPage {
		page, err := reg.List(ctx, queueScansPage, offset)
		if err != nil {
			return n, err
		}
		for _, w := range page {
			job := Job{Request: model.ScanRequest{
				WebsiteID: w.ID,
				TargetURL: w.Website,
				ScanID:    uuid.NewString(),
			}}
			if err := q.Enqueue(ctx, job); err != nil {
				return n, fmt.Errorf("enqueue %s: %w", w.Website, err)
			}
			n++
		}
		if len(page) < queueScansPage {
			return n, nil
		}
	}
}

// ClearQueue drops every waiting and delayed job.
func ClearQueue(ctx context.Context, q Queue) error {
	return q.Clear(ctx)
}
