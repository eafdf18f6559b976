package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/fanout"
	"github.com/JakeFAU/topicstreams/internal/metrics"
	"github.com/JakeFAU/topicstreams/internal/news"
	"github.com/JakeFAU/topicstreams/internal/scheduler"
	"github.com/JakeFAU/topicstreams/internal/service"
)

const (
	defaultNewsLimit = 20
	defaultLogsLimit = 50
	readyTimeout     = 2 * time.Second
)

// Error codes used in error bodies.
const (
	CodeInvalidInput = "INVALID_INPUT"
	CodeStorage      = "STORAGE_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeUnavailable  = "UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
)

// Core is the service surface the handlers call.
type Core interface {
	ListTopics(ctx context.Context, includeInactive bool) ([]news.Topic, error)
	AddTopic(ctx context.Context, raw string) (news.Topic, error)
	RemoveTopic(ctx context.Context, raw string) error
	GetNews(ctx context.Context, raw string, limit, offset int) (service.NewsPage, error)
	GetLogs(ctx context.Context, limit int) ([]news.VisitLog, error)
	SubscribeLive(ctx context.Context, raw string) (*fanout.Subscription, error)
	Unsubscribe(sub *fanout.Subscription)
}

// StatusReporter exposes the scheduler's state.
type StatusReporter interface {
	Status() scheduler.Status
}

// Options carries the optional collaborators and timeouts of a Server.
type Options struct {
	// Ready is pinged by /readyz when set.
	Ready news.Pinger
	// Scheduler backs /api/v1/scheduler when set.
	Scheduler StatusReporter
	// RequestTimeout bounds every route except the live stream.
	RequestTimeout time.Duration
	// PingInterval is the keep-alive period of live connections.
	PingInterval time.Duration
	// WriteTimeout bounds one write to a live connection.
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Server wires HTTP handlers to the core service.
type Server struct {
	router chi.Router
	core   Core
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(core Core, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	s := &Server{core: core, opts: opts, logger: opts.Logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	// Streaming routes hijack the connection, which http.TimeoutHandler forbids.
	r.Get("/api/v1/ws/news/{topic}", s.liveNews)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))

		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/topics", func(r chi.Router) {
				r.Get("/", s.listTopics)
				r.Post("/", s.addTopic)
				r.Delete("/{name}", s.removeTopic)
			})
			r.Get("/news/{topic}", s.getNews)
			r.Get("/logs", s.getLogs)
			r.Get("/scheduler", s.schedulerStatus)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.opts.Ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	includeInactive := false
	if raw := r.URL.Query().Get("include_inactive"); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid include_inactive")
			return
		}
		includeInactive = val
	}
	topics, err := s.core.ListTopics(r.Context(), includeInactive)
	if err != nil {
		s.writeServiceError(w, "list topics", err)
		return
	}
	if topics == nil {
		topics = []news.Topic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

type addTopicRequest struct {
	Name string `json:"name"`
}

func (s *Server) addTopic(w http.ResponseWriter, r *http.Request) {
	var req addTopicRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid JSON")
		return
	}
	topic, err := s.core.AddTopic(r.Context(), req.Name)
	if err != nil {
		s.writeServiceError(w, "add topic", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"topic": topic})
}

func (s *Server) removeTopic(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "name")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}
	if err := s.core.RemoveTopic(r.Context(), name); err != nil {
		s.writeServiceError(w, "remove topic", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getNews(w http.ResponseWriter, r *http.Request) {
	topic, err := pathParam(r, "topic")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}
	limit, err := intParam(r, "limit", defaultNewsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}
	page, err := s.core.GetNews(r.Context(), topic, limit, offset)
	if err != nil {
		s.writeServiceError(w, "get news", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic":   page.Topic,
		"entries": page.Entries,
		"total":   page.Total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLogsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}
	logs, err := s.core.GetLogs(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, "get logs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "scheduler not running")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Scheduler.Status())
}

// writeServiceError maps core errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, news.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn(op+" timed out", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, CodeTimeout, "request timed out")
	case errors.Is(err, news.ErrStorage):
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeStorage, "storage failure")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

// pathParam returns a decoded route parameter. chi matches on RawPath when
// the request carries one, so only then is the value still escaped.
func pathParam(r *http.Request, key string) (string, error) {
	val := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return val, nil
	}
	decoded, err := url.PathUnescape(val)
	if err != nil {
		return "", fmt.Errorf("invalid %s", key)
	}
	return decoded, nil
}

func intParam(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return val, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the ID assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("panic", rec),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	body := `{"error":"` + CodeTimeout + `","message":"request timed out","status":"error"}`
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, body)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		rw.status = http.StatusSwitchingProtocols
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg, Status: "error"})
}
