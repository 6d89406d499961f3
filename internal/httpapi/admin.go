package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// Admin routes supplement the dispatch surface per SPEC_FULL.md's
// "Admin token/ban management" addition: the original prototype's
// /admin/token endpoints, generalized to the credit/ban/rotate fields the
// later database.py iteration added. Gated by adminAuth, never by a user's
// own credential.

func (a *API) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type createOrRotateUserRequest struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func (a *API) handleAdminCreateOrRotateUser(w http.ResponseWriter, r *http.Request) {
	var req createOrRotateUserRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, "invalid_request_error", "invalid request body", "missing_field")
		return
	}

	secret, err := a.store.CreateOrRotateUser(r.Context(), req.UserID, req.DisplayName)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "secret": secret})
}

func pathUserID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

type banRequest struct {
	Banned bool `json:"banned"`
}

func (a *API) handleAdminSetBanned(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeErrorEnvelope(w, http.StatusBadRequest, "invalid_request_error", "invalid user id", "missing_field")
		return
	}
	var req banRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, "invalid_request_error", "invalid request body", "missing_field")
		return
	}
	if err := a.store.SetBanned(r.Context(), userID, req.Banned); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type creditRequest struct {
	Delta int `json:"delta"`
}

func (a *API) handleAdminAdjustCredit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeErrorEnvelope(w, http.StatusBadRequest, "invalid_request_error", "invalid user id", "missing_field")
		return
	}
	var req creditRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, "invalid_request_error", "invalid request body", "missing_field")
		return
	}
	if err := a.store.AdjustCredit(r.Context(), userID, req.Delta); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (a *API) handleAdminRotateToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(r)
	if !ok {
		writeErrorEnvelope(w, http.StatusBadRequest, "invalid_request_error", "invalid user id", "missing_field")
		return
	}
	secret, err := a.store.RotateToken(r.Context(), userID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "secret": secret})
}

// StartDailyUsageReset runs once per day at cfg.DailyUsageResetAt (server
// local hour), mirroring database.py's init_db reset but recurring rather
// than startup-only, so a long-lived dispatcher process doesn't need a
// restart to roll daily counters over.
func (a *API) StartDailyUsageReset(stop <-chan struct{}) {
	for {
		next := nextResetAt(time.Now(), a.cfg.DailyUsageResetAt)
		select {
		case <-stop:
			return
		case <-time.After(time.Until(next)):
			if err := a.store.ResetDailyUsage(context.Background()); err != nil {
				log.Printf("httpapi: daily usage reset failed: %v", err)
			}
		}
	}
}

func nextResetAt(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
