package status

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"ChatRelay/internal/app/dispatcher"

	"go.uber.org/zap"
)

// Config параметры HTTP-сервера статуса.
type Config struct {
	BindAddr  string
	AuthToken string // пусто — без авторизации
}

// StatsSource отдаёт счётчики для /stats.
type StatsSource interface {
	Conversations() int
	Stats() dispatcher.Stats
}

// Snapshot — тело ответа /stats.
type Snapshot struct {
	Conversations int `json:"conversations"`
	dispatcher.Stats
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// Server отдаёт /healthz и /stats и, опционально, web-чат на /ws.
type Server struct {
	cfg     Config
	srv     *http.Server
	mux     *http.ServeMux
	stats   StatsSource
	logger  *zap.SugaredLogger
	started time.Time
	running atomic.Bool
	addr    atomic.Value
}

func New(cfg Config, stats StatsSource, logger *zap.SugaredLogger) *Server {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8080"
	}
	s := &Server{cfg: cfg, stats: stats, logger: logger, started: time.Now()}
	s.addr.Store(cfg.BindAddr)

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/stats", s.RequireAuth(http.HandlerFunc(s.handleStats)))

	s.srv = &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handle монтирует дополнительный обработчик (например, /ws) под авторизацией сервера.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, s.RequireAuth(h))
}

// Handler возвращает корневой обработчик (для тестов через httptest).
func (s *Server) Handler() http.Handler { return s.mux }

// Start запускает сервер в отдельной горутине и немедленно возвращается.
// При отмене ctx сервер останавливается.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.addr.Store(ln.Addr().String())

	go func() {
		s.logger.Infow("Status server listening", "addr", s.Addr())
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) && err != nil {
			s.logger.Errorw("Status server stopped with error", "error", err)
		} else {
			s.logger.Infow("Status server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.WithoutCancel(ctx))
	}()
	return nil
}

// Stop инициирует graceful shutdown.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeoutCause(ctx, 5*time.Second, errors.New("status-server shutdown timeout"))
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("graceful shutdown error", "error", err)
		return s.srv.Close()
	}
	return nil
}

// Addr возвращает адрес, на котором слушает сервер.
func (s *Server) Addr() string { return s.addr.Load().(string) }

// RequireAuth проверяет Bearer-токен, если он задан в конфиге.
// Для websocket-клиентов токен можно передать параметром ?token=.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	want := []byte(s.cfg.AuthToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed; use GET", http.StatusMethodNotAllowed)
		return
	}
	snap := Snapshot{
		Conversations: s.stats.Conversations(),
		Stats:         s.stats.Stats(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Warnw("Не удалось записать /stats", "error", err)
	}
}
