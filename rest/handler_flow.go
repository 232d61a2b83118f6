package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/drip/model"
)

func (s *Server) HandleSaveFlow(w http.ResponseWriter, r *http.Request) {
	var fl model.Flow
	if !decodeBody(w, r, &fl) {
		return
	}
	saved, err := s.schedulingService.SaveFlow(r.Context(), &fl)
	if err != nil {
		respondWithServiceError(w, "error saving flow", err)
		return
	}
	respondOK(w, map[string]any{"id": saved.Id})
}

func (s *Server) HandleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.schedulingService.ListFlows(r.Context())
	if err != nil {
		respondWithServiceError(w, "error listing flows", err)
		return
	}
	respondOK(w, flows)
}

func (s *Server) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	fl, err := s.schedulingService.GetFlow(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, "error getting flow", err)
		return
	}
	respondOK(w, fl)
}

func (s *Server) HandleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.schedulingService.DeleteFlow(r.Context(), id); err != nil {
		respondWithServiceError(w, "error deleting flow", err)
		return
	}
	respondOK(w, map[string]any{"id": id})
}

func (s *Server) HandleListFlowJobs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	jobs, err := s.schedulingService.ListFlowJobs(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, "error listing flow jobs", err)
		return
	}
	respondOK(w, jobs)
}
