// Package services defines shared utilities consumed by the pipeline stages
// and the HTTP surface.
//
// Key responsibilities:
//   - Context helpers that stamp stage names, staging session keys, job ids,
//     and request correlation identifiers for logging.
//   - Condition markers (gate closed, lock held, payload too large, ...) plus
//     the Wrap helper that attaches stage context while keeping errors.Is
//     classification intact.
//   - HTTPStatus, the single mapping from condition to response code.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
