package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/drip/model"
)

const defaultJobListLimit = 100

func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.schedulingService.GetJob(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, "error getting job", err)
		return
	}
	respondOK(w, job)
}

func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := model.JobState(query.Get("state"))
	if state == "" {
		state = model.FAILED
	}
	limit := defaultJobListLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	jobs, err := s.schedulingService.ListJobsByState(r.Context(), state, limit)
	if err != nil {
		respondWithServiceError(w, "error listing jobs", err)
		return
	}
	respondOK(w, jobs)
}

func (s *Server) HandleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.schedulingService.RetryJob(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, "error retrying job", err)
		return
	}
	respondOK(w, job)
}
