package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/geolookup/internal/lookup"
	"github.com/sells-group/geolookup/internal/metrics"
	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/normalize"
	"github.com/sells-group/geolookup/internal/review"
	"github.com/sells-group/geolookup/pkg/geocode"
)

// maxBatchItems caps one POST /v1/batch request.
const maxBatchItems = 1000

const requestIDHeader = "X-Request-ID"

type api struct {
	svc *lookup.Service
}

// buildRouter mounts the lookup API. A nil m serves an empty /metrics.
func buildRouter(svc *lookup.Service, m *metrics.Metrics) http.Handler {
	a := &api{svc: svc}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/resolve", a.resolve)
		r.Post("/batch", a.batch)
		r.Get("/stats", a.stats)
		r.Get("/review", a.listReview)
		r.Post("/review/{key}", a.resolveReview)
	})
	return r
}

// requestID tags each request with an id and logs its completion.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Debug("http request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type resolveRequest struct {
	Company string `json:"company"`
	Site    string `json:"site,omitempty"`
}

func (a *api) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Company == "" {
		writeError(w, http.StatusBadRequest, "company is required")
		return
	}

	rec, err := a.svc.Resolve(r.Context(), req.Company, req.Site)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSONStatus(w, http.StatusOK, rec)
}

type batchRequest struct {
	Requests []lookup.Request `json:"requests"`
}

func (a *api) batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Requests) > maxBatchItems {
		writeError(w, http.StatusBadRequest, "too many requests in batch")
		return
	}

	lines := make([]batchLine, 0, len(req.Requests))
	for res := range a.svc.BatchResolve(r.Context(), func(yield func(lookup.Request) bool) {
		for _, item := range req.Requests {
			if !yield(item) {
				return
			}
		}
	}) {
		lines = append(lines, toBatchLine(res))
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"results": lines})
}

func (a *api) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSONStatus(w, http.StatusOK, a.svc.Stats())
}

func (a *api) listReview(w http.ResponseWriter, _ *http.Request) {
	items := a.svc.ListReviewQueue()
	if items == nil {
		items = []model.ReviewItem{}
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"items": items})
}

func (a *api) resolveReview(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || raw == "" {
		writeError(w, http.StatusBadRequest, "invalid key")
		return
	}

	var corrected model.AddressRecord
	if err := json.NewDecoder(r.Body).Decode(&corrected); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := model.ParseKey(raw)
	if err := a.svc.ResolveReviewItem(r.Context(), key, corrected); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]string{"status": "resolved", "key": key.String()})
}

// statusFor maps lookup failures to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, normalize.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, review.ErrNotQueued):
		return http.StatusNotFound
	case errors.Is(err, review.ErrReopened):
		return http.StatusConflict
	case errors.Is(err, geocode.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, lookup.ErrResolutionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}
