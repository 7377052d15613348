package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"feedline/internal/database"
	"feedline/internal/engine"
	"feedline/internal/middleware"
	"feedline/internal/utils"
	"feedline/internal/websocket"

	ws "github.com/gorilla/websocket"
)

const maxBodyBytes = 1 << 20

// Server holds all server dependencies, including the actor engine
type Server struct {
	Engine      *engine.Engine
	DB          database.DBAdapter
	Metrics     *utils.MetricsCollector
	Hub         *websocket.Hub
	Tokens      *middleware.TokenIssuer
	RateLimiter *middleware.RateLimiter
	CORS        *middleware.CORSConfig
	Logger      *slog.Logger

	// MetricsEnabled exposes GET /metrics.
	MetricsEnabled bool

	upgrader ws.Upgrader
	calls    map[string]callFunc
}

// NewServer creates a new Server instance with the given components
func NewServer(
	eng *engine.Engine,
	db database.DBAdapter,
	metrics *utils.MetricsCollector,
	hub *websocket.Hub,
	tokens *middleware.TokenIssuer,
) *Server {
	s := &Server{
		Engine:  eng,
		DB:      db,
		Metrics: metrics,
		Hub:     hub,
		Tokens:  tokens,
		CORS:    middleware.DefaultCORSConfig(nil),
		Logger:  slog.Default(),
	}
	s.upgrader = ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.CORS.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	s.calls = s.callTable()
	return s
}

// Routes builds the mux and wraps it in the middleware chain:
// logging, CORS, authentication, rate limiting.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.HandleHealth())
	if s.MetricsEnabled && s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}

	mux.HandleFunc("POST /user/register", s.HandleUserRegistration())
	mux.HandleFunc("POST /user/login", s.HandleUserLogin())
	mux.HandleFunc("GET /users/{id}", s.HandleGetProfile())
	mux.HandleFunc("GET /users/{id}/posts", s.HandleUserPosts())
	mux.HandleFunc("GET /me/saved", s.HandleSavedPosts())

	mux.HandleFunc("GET /posts", s.HandleListPosts())
	mux.HandleFunc("GET /posts/{id}", s.HandleGetPost())
	mux.HandleFunc("GET /posts/{id}/comments", s.HandleGetComments())
	mux.HandleFunc("GET /posts/{id}/status", s.HandlePostStatus())

	mux.HandleFunc("GET /admin/verification-requests", s.HandleListVerificationRequests())
	mux.HandleFunc("GET /admin/membership-requests", s.HandleListMembershipRequests())

	mux.HandleFunc("POST /call/{name}", s.HandleCall())
	mux.HandleFunc("GET /ws", s.HandleWebSocket())

	var h http.Handler = mux
	if s.RateLimiter != nil {
		h = s.RateLimiter.Middleware(h)
	}
	h = s.countRequests(h)
	h = s.Tokens.Authenticate(h)
	h = middleware.CORSMiddleware(s.CORS)(h)
	h = middleware.RequestLogger(s.Logger)(h)
	return h
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics != nil {
			s.Metrics.IncrementRequests()
		}
		next.ServeHTTP(w, r)
	})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v zero.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return utils.NewInvalidInputError("invalid request body: " + err.Error())
	}
	return nil
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return 0, 0, utils.NewInvalidInputError("limit must be a non-negative integer")
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, utils.NewInvalidInputError("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func viewer(r *http.Request) string {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	return userID
}

func writeResult(w http.ResponseWriter, status int, v any) {
	middleware.WriteJSON(w, status, v)
}

func writeError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err)
}
