package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nmslite/docwriter/internal/coordinator"
)

type handler struct {
	coord *coordinator.Coordinator
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// health handles GET /health (liveness probe).
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now()})
}

// ready handles GET /ready (readiness probe).
func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	if len(h.coord.Roster()) == 0 {
		status = "degraded"
	}
	sendJSON(w, http.StatusOK, struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
		Hosts     int       `json:"hosts"`
	}{Status: status, Timestamp: time.Now(), Hosts: len(h.coord.Roster())})
}

type statusResponse struct {
	BatchSize   int        `json:"batch_size"`
	ThreadCount int        `json:"thread_count"`
	ItemsSoFar  uint64     `json:"items_so_far"`
	JobID       string     `json:"job_id"`
	JobName     string     `json:"job_name"`
	JobStart    *time.Time `json:"job_start,omitempty"`
	JobEnd      *time.Time `json:"job_end,omitempty"`
	Hosts       []string   `json:"hosts"`
}

// status handles GET /api/v1/status.
func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.RequireStarted("status"); err != nil {
		sendError(w, r, http.StatusConflict, "NOT_STARTED", err.Error())
		return
	}

	ticket := h.coord.JobTicket()
	resp := statusResponse{
		BatchSize:   h.coord.BatchSize(),
		ThreadCount: h.coord.ThreadCount(),
		ItemsSoFar:  h.coord.ItemsSoFar(),
		JobID:       ticket.JobID,
		JobName:     ticket.JobName,
	}
	if t := h.coord.JobStartTime(); !t.IsZero() {
		resp.JobStart = &t
	}
	if t := h.coord.JobEndTime(); !t.IsZero() {
		resp.JobEnd = &t
	}
	for _, entry := range h.coord.Roster() {
		resp.Hosts = append(resp.Hosts, entry.HostName)
	}
	sendJSON(w, http.StatusOK, resp)
}

type flushRequest struct {
	Wait bool `json:"wait"`
}

// flush handles POST /api/v1/flush.
func (h *handler) flush(w http.ResponseWriter, r *http.Request) {
	var req flushRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	var err error
	if req.Wait {
		err = h.coord.FlushAndWait(r.Context())
	} else {
		err = h.coord.FlushAsync()
	}
	if err != nil {
		sendError(w, r, http.StatusConflict, "FLUSH_FAILED", err.Error())
		return
	}
	sendJSON(w, http.StatusAccepted, struct {
		Flushed bool `json:"flushed"`
	}{Flushed: true})
}

type awaitRequest struct {
	TimeoutMS int `json:"timeout_ms"`
}

// await handles POST /api/v1/await.
func (h *handler) await(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.RequireStarted("await"); err != nil {
		sendError(w, r, http.StatusConflict, "NOT_STARTED", err.Error())
		return
	}

	var req awaitRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	drained := h.coord.AwaitCompletion(time.Duration(req.TimeoutMS) * time.Millisecond)
	sendJSON(w, http.StatusOK, struct {
		Drained bool `json:"drained"`
	}{Drained: drained})
}

// forests handles GET /api/v1/forests.
func (h *handler) forests(w http.ResponseWriter, r *http.Request) {
	entries := h.coord.Roster()
	hosts := make([]string, 0, len(entries))
	for _, e := range entries {
		hosts = append(hosts, e.HostName)
	}
	sendJSON(w, http.StatusOK, struct {
		Hosts []string `json:"hosts"`
	}{Hosts: hosts})
}
