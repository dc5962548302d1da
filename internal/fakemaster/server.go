package fakemaster

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/psantana5/ffqueue/pkg/auth"
	"github.com/psantana5/ffqueue/pkg/logging"
	"github.com/psantana5/ffqueue/pkg/middleware"
	"github.com/psantana5/ffqueue/pkg/models"
)

// Call records one API request
type Call struct {
	Method string
	Path   string
	IDs    []string
}

// Server serves a Queue over the master API
type Server struct {
	queue  *Queue
	logger *logging.Logger
	keys   *auth.APIKeyManager
	now    func() int64
	hub    *hub

	mu       sync.Mutex
	calls    []Call
	reject   bool
	failNext int
	deltaRev uint64
	deltaFor uint64
}

// Option configures a Server
type Option func(*Server)

// WithAPIKey requires key as bearer token
func WithAPIKey(key string) Option {
	return func(s *Server) {
		if key == "" {
			return
		}
		if err := s.keys.AddAPIKey("default", key); err != nil {
			s.logger.Error("failed to register API key", map[string]interface{}{"error": err.Error()})
		}
	}
}

// WithServerLogger sets the logger
func WithServerLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock replaces the millisecond clock used for new jobs
func WithClock(now func() int64) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a server for q
func NewServer(q *Queue, opts ...Option) *Server {
	s := &Server{
		queue:  q,
		logger: logging.Discard(),
		keys:   auth.NewAPIKeyManager(bcrypt.MinCost),
		now:    func() int64 { return time.Now().UnixMilli() },
		hub:    newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Queue returns the backing queue
func (s *Server) Queue() *Queue { return s.queue }

// Handler returns the full API with middleware
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter().UseEncodedPath()
	r.Use(middleware.RequestID, middleware.Logging(s.logger), s.keys.Middleware)
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.health).Methods("GET")

	r.HandleFunc("/queue", s.getQueue).Methods("GET")
	r.HandleFunc("/queue/events", s.events).Methods("GET")
	r.HandleFunc("/queue/reorder", s.reorder).Methods("POST")

	// Job routes (register specific routes before parameterized routes)
	r.HandleFunc("/jobs", s.createJob).Methods("POST")
	r.HandleFunc("/jobs/batch", s.createJobs).Methods("POST")
	r.HandleFunc("/jobs/bulk/{action}", s.bulkCommand).Methods("POST")
	r.HandleFunc("/jobs/{id}/{action}", s.command).Methods("POST")
	r.HandleFunc("/batches/{id}/delete", s.deleteBatch).Methods("POST")
}

// Calls returns the recorded requests
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// ResetCalls forgets the recorded requests
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Reject makes state transition commands answer ok=false
func (s *Server) Reject(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = on
}

// FailNext makes the next request fail with status
func (s *Server) FailNext(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = status
}

// record logs the call and reports a forced failure or rejection
func (s *Server) record(r *http.Request, ids []string) (failStatus int, reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, IDs: ids})
	failStatus, s.failNext = s.failNext, 0
	return failStatus, s.reject
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	if status, _ := s.record(r, nil); status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if status, _ := s.record(r, nil); status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if req.InputPath == "" {
		http.Error(w, "inputPath is required", http.StatusBadRequest)
		return
	}
	job := s.queue.Enqueue(req, s.now())
	s.notifyRevision()
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) createJobs(w http.ResponseWriter, r *http.Request) {
	var req models.BatchEnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if status, _ := s.record(r, nil); status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	for _, j := range req.Jobs {
		if j.InputPath == "" {
			http.Error(w, "inputPath is required", http.StatusBadRequest)
			return
		}
	}
	resp := models.BatchEnqueueResponse{Jobs: make([]*models.Job, 0, len(req.Jobs))}
	for _, j := range req.Jobs {
		resp.Jobs = append(resp.Jobs, s.queue.Enqueue(j, s.now()))
	}
	s.notifyRevision()
	writeJSON(w, http.StatusCreated, resp)
}

func validAction(a string) bool {
	switch a {
	case "wait", "resume", "restart", "cancel", "delete":
		return true
	}
	return false
}

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	action := vars["action"]
	id, err := url.PathUnescape(vars["id"])
	if err != nil {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}
	if !validAction(action) {
		http.Error(w, "Unknown action", http.StatusNotFound)
		return
	}
	status, reject := s.record(r, []string{id})
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if reject {
		writeJSON(w, http.StatusOK, models.CommandResponse{OK: false, Message: "rejected"})
		return
	}

	err = s.queue.Transition(action, id)
	switch {
	case errors.Is(err, ErrJobNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrIneligible):
		writeJSON(w, http.StatusConflict, models.CommandResponse{OK: false, Message: err.Error()})
		return
	}
	s.notifyRevision()
	writeJSON(w, http.StatusOK, models.CommandResponse{OK: true})
}

func (s *Server) bulkCommand(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	if !validAction(action) {
		http.Error(w, "Unknown action", http.StatusNotFound)
		return
	}
	var req models.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status, reject := s.record(r, req.IDs)
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if reject {
		writeJSON(w, http.StatusOK, models.CommandResponse{OK: false, Message: "rejected"})
		return
	}

	changed := s.queue.TransitionMany(action, req.IDs)
	s.logger.Debug("bulk command applied", map[string]interface{}{
		"action":    action,
		"requested": len(req.IDs),
		"changed":   len(changed),
	})
	s.notifyRevision()
	writeJSON(w, http.StatusOK, models.CommandResponse{OK: true})
}

func (s *Server) deleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := url.PathUnescape(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid batch id", http.StatusBadRequest)
		return
	}
	status, reject := s.record(r, []string{batchID})
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if reject {
		writeJSON(w, http.StatusOK, models.CommandResponse{OK: false, Message: "rejected"})
		return
	}

	removed, err := s.queue.DeleteBatch(batchID)
	switch {
	case errors.Is(err, ErrJobNotFound):
		http.Error(w, "Batch not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrIneligible):
		writeJSON(w, http.StatusConflict, models.CommandResponse{OK: false, Message: "batch has unfinished jobs"})
		return
	}
	s.logger.Debug("batch deleted", map[string]interface{}{"batch": batchID, "jobs": len(removed)})
	s.notifyRevision()
	writeJSON(w, http.StatusOK, models.CommandResponse{OK: true})
}

func (s *Server) reorder(w http.ResponseWriter, r *http.Request) {
	var req models.ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status, reject := s.record(r, req.OrderedIDs)
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if reject {
		writeJSON(w, http.StatusOK, models.CommandResponse{OK: false, Message: "rejected"})
		return
	}
	s.queue.Reorder(req.OrderedIDs)
	s.notifyRevision()
	writeJSON(w, http.StatusOK, models.CommandResponse{OK: true})
}

func (s *Server) notifyRevision() {
	s.hub.broadcast(models.QueueEvent{Type: models.QueueEventRevision, Revision: s.queue.Revision()})
}

// Publish pushes ev to every connected subscriber
func (s *Server) Publish(ev models.QueueEvent) {
	s.hub.broadcast(ev)
}

// SetStatus forces a job status and announces the new revision
func (s *Server) SetStatus(id string, st models.JobStatus) error {
	if err := s.queue.SetStatus(id, st); err != nil {
		return err
	}
	s.notifyRevision()
	return nil
}

// PublishProgress updates a running job and pushes the change as a delta
func (s *Server) PublishProgress(id string, progress float64, elapsedMs int64) error {
	patch, err := s.queue.SetProgress(id, progress, elapsedMs)
	if err != nil {
		return err
	}
	base := s.queue.Revision()

	s.mu.Lock()
	if s.deltaFor != base {
		s.deltaFor, s.deltaRev = base, 0
	}
	s.deltaRev++
	rev := s.deltaRev
	s.mu.Unlock()

	s.hub.broadcast(models.QueueEvent{
		Type: models.QueueEventDelta,
		Delta: &models.QueueDelta{
			BaseSnapshotRevision: base,
			DeltaRevision:        rev,
			Patches:              []models.JobPatch{patch},
		},
	})
	return nil
}

// Close disconnects every subscriber
func (s *Server) Close() {
	s.hub.closeAll()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c := s.hub.add(conn, models.QueueEvent{Type: models.QueueEventSnapshot, Snapshot: s.queue.Snapshot()})
	go c.writeLoop()

	// Drain until the peer goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.remove(c)
}

// Subscribers returns the number of connected event subscribers
func (s *Server) Subscribers() int {
	return s.hub.len()
}
