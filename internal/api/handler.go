// Package api exposes the read-only status HTTP interface and the push
// subscription endpoints. It only reads published snapshots and the store;
// clinical state is never mutated over HTTP.
package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"iv-monitor-backend/internal/engine"
	"iv-monitor-backend/internal/store"
)

// SnapshotSource provides the latest published monitor snapshot.
type SnapshotSource interface {
	Snapshot() *engine.Snapshot
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	webpush   *webpush.Options
	snapshots SnapshotSource
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, webpushOptions *webpush.Options, snapshots SnapshotSource) *Handler {
	return &Handler{
		store:     s,
		webpush:   webpushOptions,
		snapshots: snapshots,
	}
}
