package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/port/messagequeue"
	"github.com/dereadi/thermal-memory/internal/service"
)

// Handlers holds the services the HTTP API serves.
type Handlers struct {
	Thermal *service.ThermalService
	// Queue reports federation connectivity on /health; nil when the node
	// runs without NATS.
	Queue messagequeue.Queue
	// PoolStats reports connection pool usage on /health; optional.
	PoolStats func() any
}

const memoryNotFound = "memory not found"

// WriteMemory handles POST /api/v1/memories
func (h *Handlers) WriteMemory(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[memory.WriteRequest](w, r, false)
	if !ok {
		return
	}
	if req.SourceTriad == "" {
		req.SourceTriad = requester(r)
	}
	id, err := h.Thermal.WriteMemory(r.Context(), &req)
	if err != nil {
		writeDomainError(w, r, err, memoryNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// QueryMemories handles GET /api/v1/memories
func (h *Handlers) QueryMemories(w http.ResponseWriter, r *http.Request) {
	q := memory.Query{
		RequestingTriad: requester(r),
		Tags:            r.URL.Query()["tag"],
		SourceTriad:     r.URL.Query().Get("source_triad"),
	}
	var err error
	if q.MinTemp, err = queryFloat(r, "min_temp"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.MaxTemp, err = queryOptionalFloat(r, "max_temp"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.Thermal.QueryMemories(r.Context(), q)
	if err != nil {
		writeDomainError(w, r, err, memoryNotFound)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetSacredMemories handles GET /api/v1/memories/sacred
func (h *Handlers) GetSacredMemories(w http.ResponseWriter, r *http.Request) {
	handleList(func(ctx context.Context) ([]memory.Record, error) {
		return h.Thermal.GetSacredMemories(ctx, requester(r))
	})(w, r)
}

// GetMemory handles GET /api/v1/memories/{id}
func (h *Handlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Thermal.GetMemory)(w, r)
}

// TouchMemory handles POST /api/v1/memories/{id}/touch
func (h *Handlers) TouchMemory(w http.ResponseWriter, r *http.Request) {
	handleVisibleUpdate(h.Thermal, h.Thermal.Touch)(w, r)
}

type promoteRequest struct {
	RationaleTags []string `json:"rationale_tags"`
}

// PromoteMemory handles POST /api/v1/memories/{id}/promote
func (h *Handlers) PromoteMemory(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[promoteRequest](w, r, true)
	if !ok {
		return
	}
	handleVisibleUpdate(h.Thermal, func(ctx context.Context, id string) (*memory.Record, error) {
		return h.Thermal.PromoteToSacred(ctx, id, req.RationaleTags)
	})(w, r)
}

// Stats handles GET /api/v1/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Thermal.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type healthStatus struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres"`
	NATS     string `json:"nats"`
	Pool     any    `json:"pool,omitempty"`
}

// Health handles GET /health. It answers 503 when the store is unreachable
// so load balancers stop routing to the node; a NATS outage only degrades
// federation and keeps the node healthy.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	st := healthStatus{Status: "ok", Postgres: "ok", NATS: "disabled"}
	if err := h.Thermal.Ping(ctx); err != nil {
		st.Status = "unavailable"
		st.Postgres = err.Error()
	}
	if h.Queue != nil {
		st.NATS = "connected"
		if !h.Queue.IsConnected() {
			st.NATS = "disconnected"
		}
	}
	if h.PoolStats != nil {
		st.Pool = h.PoolStats()
	}

	code := http.StatusOK
	if st.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}
