package httpapi

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1percentsync/sakura-dispatch/internal/idempotency"
	"github.com/1percentsync/sakura-dispatch/internal/models"
	"github.com/1percentsync/sakura-dispatch/internal/observability"
)

const maxBodyBytes = 4 << 20 // 4 MiB: generous for a chat-completion payload, bounds abuse

// handleChatCompletions implements POST /{credential}[/{model}]/v1/chat/completions.
// The request body is opaque and passed through to the worker unmodified;
// the response is whatever the worker submitted via submit_result, written
// back verbatim.
func (a *API) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	cred, ok := credentialFromPath(r)
	if !ok {
		writeErrorEnvelope(w, http.StatusUnauthorized, "authentication_error", "malformed credential", "invalid_token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body", "missing_field")
		return
	}

	modelName := r.PathValue("model")

	payload, derr := a.dispatcher.SubmitCompletion(r.Context(), cred, modelName, body)
	if derr != nil {
		writeDispatchError(w, derr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

type fetchTaskRequest struct {
	ModelInfo models.Declared `json:"model_info"`
}

type fetchTaskResponse struct {
	Status      string          `json:"status,omitempty"`
	TaskID      string          `json:"task_id,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	IsUrgent    bool            `json:"is_urgent,omitempty"`
	TryCount    int             `json:"try_count,omitempty"`
}

// handleFetchTask implements POST /{credential}/fetch_task.
func (a *API) handleFetchTask(w http.ResponseWriter, r *http.Request) {
	cred, ok := credentialFromPath(r)
	if !ok {
		writeErrorEnvelope(w, http.StatusUnauthorized, "authentication_error", "malformed credential", "invalid_token")
		return
	}

	if allowed, retryAfter := a.fetchLimiter.Reserve(cred.String()); !allowed {
		writeRateLimited(w, "fetch_task", retryAfter)
		return
	}

	var req fetchTaskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, "invalid_request_error", "invalid model_info payload", "invalid_model")
		return
	}

	task, derr := a.dispatcher.FetchTask(r.Context(), cred, req.ModelInfo)
	if derr != nil {
		writeDispatchError(w, derr)
		return
	}
	if task == nil {
		writeJSON(w, http.StatusOK, fetchTaskResponse{Status: "empty"})
		return
	}

	snap := task.Snapshot()
	writeJSON(w, http.StatusOK, fetchTaskResponse{
		TaskID:      task.TaskID,
		RequestBody: json.RawMessage(task.RequestBody),
		IsUrgent:    task.IsUrgent,
		TryCount:    snap.TryCount,
	})
}

type submitResultRequest struct {
	TaskID   string          `json:"task_id"`
	Response json.RawMessage `json:"response"`
}

type submitResultResponse struct {
	Status string `json:"status"`
}

// handleSubmitResult implements POST /{credential}/submit_result. A worker
// retrying a flaky POST for the same task_id replays the cached outcome
// instead of re-running SubmitResult, whose second call would otherwise see
// "unknown task" (the first call already removed it).
func (a *API) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	cred, ok := credentialFromPath(r)
	if !ok {
		writeErrorEnvelope(w, http.StatusUnauthorized, "authentication_error", "malformed credential", "invalid_token")
		return
	}

	if allowed, retryAfter := a.submitLimiter.Reserve(cred.String()); !allowed {
		writeRateLimited(w, "submit_result", retryAfter)
		return
	}

	var req submitResultRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, "invalid_request_error", "invalid submit_result payload", "missing_field")
		return
	}

	if a.idempotency != nil && req.TaskID != "" {
		if cached, found := a.idempotency.Get(r.Context(), req.TaskID); found {
			observability.IdempotencyReplays.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cached.StatusCode)
			w.Write(cached.Body)
			return
		}
	}

	derr := a.dispatcher.SubmitResult(r.Context(), cred, req.TaskID, req.Response)
	status := http.StatusOK
	var body []byte
	if derr != nil {
		status = derr.Status()
		body, _ = json.Marshal(map[string]errorBody{
			"error": {Message: derr.Error(), Type: derr.Type(), Code: string(derr.Kind)},
		})
	} else {
		body, _ = json.Marshal(submitResultResponse{Status: "success"})
	}

	if a.idempotency != nil && req.TaskID != "" {
		a.idempotency.Set(r.Context(), req.TaskID, idempotency.Result{StatusCode: status, Body: body})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// handleListModels implements GET /{credential}/[{model}/]v1/models. The
// optional {model} path segment is accepted for symmetry with the
// completion endpoints but does not filter the listing; every worker and
// user sees the same process-static registry.
func (a *API) handleListModels(w http.ResponseWriter, r *http.Request) {
	cred, ok := credentialFromPath(r)
	if !ok {
		writeErrorEnvelope(w, http.StatusUnauthorized, "authentication_error", "malformed credential", "invalid_token")
		return
	}
	if valid, err := a.store.Validate(r.Context(), cred.UserID, cred.Secret); err != nil {
		writeInternalError(w, err)
		return
	} else if !valid {
		writeErrorEnvelope(w, http.StatusUnauthorized, "authentication_error", "invalid credential", "invalid_token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   a.registry.List(),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWorkerSocket upgrades an authenticated worker's connection into the
// optional "task available" push channel (internal/notify). Advisory only:
// a worker that never connects still finds work via fetch_task's long-poll.
func (a *API) handleWorkerSocket(w http.ResponseWriter, r *http.Request) {
	cred, ok := credentialFromPath(r)
	if !ok {
		writeErrorEnvelope(w, http.StatusUnauthorized, "authentication_error", "malformed credential", "invalid_token")
		return
	}
	if valid, err := a.store.Validate(r.Context(), cred.UserID, cred.Secret); err != nil || !valid {
		writeErrorEnvelope(w, http.StatusUnauthorized, "authentication_error", "invalid credential", "invalid_token")
		return
	}
	if a.hub == nil {
		writeErrorEnvelope(w, http.StatusNotFound, "not_found_error", "wake-up channel disabled", "not_found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket upgrade failed: %v", err)
		return
	}
	a.hub.Register(conn)

	// Drain and discard any client frames; the channel is server-to-worker
	// only. Exits (and unregisters) on read error/close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				a.hub.Unregister(conn)
				return
			}
		}
	}()
}

func writeRateLimited(w http.ResponseWriter, endpoint string, retryAfter time.Duration) {
	observability.RateLimited.WithLabelValues(endpoint).Inc()
	if retryAfter > 0 {
		w.Header().Set("Retry-After", formatSeconds(retryAfter))
	}
	writeErrorEnvelope(w, http.StatusTooManyRequests, "rate_limit_error", "too many requests", "rate_limited")
}

func formatSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
