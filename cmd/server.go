// server.go는 connect --metrics-addr로 여는 로컬 HTTP 엔드포인트를 구현합니다.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openclaw/clawnode/internal/logger"
)

// serverShutdownTimeout은 종료 시 진행 중인 요청을 기다리는 최대 시간입니다.
const serverShutdownTimeout = 5 * time.Second

// statusFunc는 /status 응답 본문을 만듭니다.
type statusFunc func() *StatusInfo

// buildRouter는 /metrics, /status, /healthz 라우트를 가진 핸들러를 만듭니다.
func buildRouter(gatherer prometheus.Gatherer, status statusFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, status())
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st := status()
		code := http.StatusOK
		if !st.Registered {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"state":      st.State,
			"registered": st.Registered,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusServer는 로컬 관측용 HTTP 서버입니다.
type statusServer struct {
	srv *http.Server
}

// startStatusServer는 addr에서 handler를 서비스하는 서버를 백그라운드로 시작합니다.
func startStatusServer(addr string, handler http.Handler) *statusServer {
	s := &statusServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("메트릭/상태 서버 시작")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("메트릭/상태 서버 오류")
		}
	}()

	return s
}

// Shutdown은 서버를 정상 종료합니다.
func (s *statusServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("메트릭/상태 서버 종료 중 오류")
	}
}
