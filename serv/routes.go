package serv

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qbloq/livesql/core"
)

const (
	healthRoute    = "/health"
	fetchRoute     = "/api/v1/fetch"
	executeRoute   = "/api/v1/execute"
	subscribeRoute = "/api/v1/subscribe"
)

func (s *Service) routes(r *chi.Mux) {
	r.Get(healthRoute, s.healthHandler)
	r.Post(fetchRoute, s.fetchHandler)
	r.Post(executeRoute, s.executeHandler)
	r.Get(subscribeRoute, s.subscribeHandler)
}

func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("OK")) //nolint:errcheck
}

// fetchHandler runs a one-off query and returns the response envelope.
func (s *Service) fetchHandler(w http.ResponseWriter, r *http.Request) {
	var q core.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		badRequest(w, err)
		return
	}

	res, err := s.engine.Fetch(r.Context(), &q)
	if err != nil {
		s.apiError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(res) //nolint:errcheck
}

// executeHandler runs a granular write operation. Matching subscribers are
// notified before the response is written.
func (s *Service) executeHandler(w http.ResponseWriter, r *http.Request) {
	var op core.GranularOperation
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		badRequest(w, err)
		return
	}

	if err := s.engine.Execute(r.Context(), &op); err != nil {
		s.apiError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Service) apiError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrUnknownTable),
		errors.Is(err, core.ErrIncompatibleValue),
		errors.Is(err, core.ErrIncompatibleMap):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Errorf("api: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
