package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/drip/model"
)

func (s *Server) HandleScheduleEmail(w http.ResponseWriter, r *http.Request) {
	var req model.ScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.schedulingService.ScheduleSequence(r.Context(), req.Sequence)
	if err != nil {
		respondWithServiceError(w, "error scheduling emails", err)
		return
	}
	respondOK(w, res)
}

func (s *Server) HandleScheduleFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := s.schedulingService.ScheduleFlow(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, "error scheduling flow", err)
		return
	}
	respondOK(w, res)
}

func (s *Server) HandleCancelFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, err := s.schedulingService.CancelFlow(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, "error cancelling flow", err)
		return
	}
	respondOK(w, map[string]any{"cancelled": n})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.schedulingService.Health(r.Context()); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	respondOK(w, map[string]any{"status": "ok"})
}
