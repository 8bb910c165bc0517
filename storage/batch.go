package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/kartta/pkg/resource"
)

// BatchResult summarizes a batch upsert.
type BatchResult struct {
	Created int
	Updated int
	Failed  int
	Diffs   []resource.Diff
}

// UpsertResources upserts each resource independently. A failed row is
// logged and counted; it never aborts the batch or rolls back earlier rows.
func UpsertResources(ctx context.Context, w ResourceWriter, resources []resource.Resource, now time.Time) BatchResult {
	var res BatchResult

	for _, r := range resources {
		if err := ctx.Err(); err != nil {
			res.Failed++
			log.Warn().Err(err).Str("arn", r.ARN).Msg("upsert skipped")
			continue
		}

		out, err := w.UpsertResource(ctx, r, now)
		if err != nil {
			res.Failed++
			log.Error().
				Err(err).
				Str("arn", r.ARN).
				Str("resource_type", r.Type).
				Str("operation", "upsert").
				Msg("storage operation failed")
			continue
		}

		if out.Created {
			res.Created++
		} else {
			res.Updated++
		}
		if out.Diff != nil {
			res.Diffs = append(res.Diffs, *out.Diff)
		}
	}

	return res
}
