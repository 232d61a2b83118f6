package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/mohitkumar/drip/flow"
	"github.com/mohitkumar/drip/logger"
	"github.com/mohitkumar/drip/persistence"
	"github.com/mohitkumar/drip/schedule"
	"github.com/mohitkumar/drip/service"
	"go.uber.org/zap"
)

const maxRequestBytes = 1 << 20

type Server struct {
	http.Server
	schedulingService *service.SchedulingService
}

// NewServer builds the API router. allowedOrigins lists the browser origins
// allowed to call it; empty or "*" allows any origin.
func NewServer(addr string, allowedOrigins []string, schedulingService *service.SchedulingService) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			IdleTimeout:       2 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		schedulingService: schedulingService,
	}

	router := mux.NewRouter()
	router.HandleFunc("/schedule-email", s.HandleScheduleEmail).Methods(http.MethodPost)

	router.HandleFunc("/flows", s.HandleSaveFlow).Methods(http.MethodPost)
	router.HandleFunc("/flows", s.HandleListFlows).Methods(http.MethodGet)
	router.HandleFunc("/flows/{id}", s.HandleGetFlow).Methods(http.MethodGet)
	router.HandleFunc("/flows/{id}", s.HandleDeleteFlow).Methods(http.MethodDelete)
	router.HandleFunc("/flows/{id}/schedule", s.HandleScheduleFlow).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}/cancel", s.HandleCancelFlow).Methods(http.MethodPost)
	router.HandleFunc("/flows/{id}/jobs", s.HandleListFlowJobs).Methods(http.MethodGet)

	router.HandleFunc("/jobs", s.HandleListJobs).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}", s.HandleGetJob).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}/retry", s.HandleRetryJob).Methods(http.MethodPost)

	router.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	// outside the router so preflight requests never reach the method matcher
	s.Handler = handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(router)
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.String("addr", s.Addr))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
		return err
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info(r.RequestURI, zap.String("method", r.Method), zap.Duration("took", time.Since(start)))
	})
}

// decodeBody reads at most maxRequestBytes of JSON into v and writes the
// error response itself when that fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes))
			return false
		}
		respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload interface{}) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError maps service errors onto status codes. Storage
// failures are logged and reported without their details.
func respondWithServiceError(w http.ResponseWriter, msg string, err error) {
	var vErr schedule.ValidationError
	var sErr flow.StructuralError
	var reqErr service.InvalidRequestError
	switch {
	case errors.As(err, &vErr), errors.As(err, &sErr), errors.As(err, &reqErr):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, persistence.ErrFlowNotFound), errors.Is(err, persistence.ErrJobNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, persistence.ErrInvalidTransition):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		logger.Error(msg, zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, msg)
	}
}
