package http

import (
	"context"
	"net/http"

	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/service"
)

// ---------------------------------------------------------------------------
// Generic handler factories
// ---------------------------------------------------------------------------

// handleList creates a handler that lists resources and returns JSON.
func handleList[T any](listFn func(ctx context.Context) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := listFn(r.Context())
		if err != nil {
			writeDomainError(w, r, err, "")
			return
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// handleGet creates a handler that retrieves a single resource by URL param
// "id" on behalf of the requesting triad.
func handleGet[T any](getFn func(ctx context.Context, triad, id string) (*T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := getFn(r.Context(), requester(r), urlParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, err, memoryNotFound)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// handleVisibleUpdate creates a handler that applies updateFn to the record
// named by URL param "id", after checking the requester may see it. Records
// the requester cannot see are reported as not found.
func handleVisibleUpdate(thermal *service.ThermalService, updateFn func(ctx context.Context, id string) (*memory.Record, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := urlParam(r, "id")
		if _, err := thermal.GetMemory(r.Context(), requester(r), id); err != nil {
			writeDomainError(w, r, err, memoryNotFound)
			return
		}
		rec, err := updateFn(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err, memoryNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}
