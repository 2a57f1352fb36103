package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/twimagine/internal/api/response"
	"github.com/kiranshivaraju/twimagine/internal/coordinator"
	"github.com/kiranshivaraju/twimagine/internal/store"
	"github.com/kiranshivaraju/twimagine/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// RequestReader is the read side of the store the operator API uses.
type RequestReader interface {
	GetImageRequest(ctx context.Context, id uuid.UUID) (*models.ImageRequest, error)
	ListImageRequests(ctx context.Context, filter store.RequestFilter) ([]*models.ImageRequest, int, error)
}

// RequestFailer fails requests on an operator's behalf.
type RequestFailer interface {
	FailByOperator(ctx context.Context, id uuid.UUID, reason string, notify bool) (*models.ImageRequest, error)
}

// NewListRequestsHandler returns an http.HandlerFunc for GET /api/v1/requests.
func NewListRequestsHandler(reader RequestReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.RequestFilter{Page: 1, Limit: defaultPageLimit}

		if s := q.Get("status"); s != "" {
			status := models.RequestStatus(s)
			if !status.Valid() {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"status must be one of pending_payment, payment_confirmed, generating, completed, failed", nil)
				return
			}
			filter.Status = status
		}

		if s := q.Get("since"); s != "" {
			since, err := time.Parse(time.RFC3339, s)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "since must be a valid RFC3339 timestamp", nil)
				return
			}
			filter.Since = since
		}

		if s := q.Get("page"); s != "" {
			page, err := strconv.Atoi(s)
			if err != nil || page < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
				return
			}
			filter.Page = page
		}

		if s := q.Get("limit"); s != "" {
			limit, err := strconv.Atoi(s)
			if err != nil || limit < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			if limit > maxPageLimit {
				limit = maxPageLimit
			}
			filter.Limit = limit
		}

		requests, total, err := reader.ListImageRequests(r.Context(), filter)
		if err != nil {
			slog.Error("listing image requests failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		if requests == nil {
			requests = []*models.ImageRequest{}
		}
		response.Collection(w, requests, response.NewPaginationMeta(filter.Page, filter.Limit, total))
	}
}

// NewGetRequestHandler returns an http.HandlerFunc for GET /api/v1/requests/{requestID}.
func NewGetRequestHandler(reader RequestReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requestIDParam(w, r)
		if !ok {
			return
		}

		req, err := reader.GetImageRequest(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Image request not found", nil)
			return
		}
		if err != nil {
			slog.Error("loading image request failed", "request_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, req)
	}
}

// NewFailRequestHandler returns an http.HandlerFunc for POST /api/v1/requests/{requestID}/fail.
func NewFailRequestHandler(failer RequestFailer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requestIDParam(w, r)
		if !ok {
			return
		}

		var body struct {
			Reason string `json:"reason"`
			Notify bool   `json:"notify"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if body.Reason == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "reason is required", nil)
			return
		}

		req, err := failer.FailByOperator(r.Context(), id, body.Reason, body.Notify)
		switch {
		case err == nil:
			response.JSON(w, req)
		case errors.Is(err, coordinator.ErrRequestNotFound):
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Image request not found", nil)
		case errors.Is(err, coordinator.ErrTerminal):
			response.Error(w, http.StatusConflict, "ALREADY_TERMINAL", "Image request is already completed or failed", nil)
		default:
			slog.Error("failing image request failed", "request_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
	}
}

func requestIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "request id must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
