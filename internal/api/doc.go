// Package api exposes task ingestion, status, cancellation, confirmation
// replies and recurring job sync over HTTP using chi.
package api
