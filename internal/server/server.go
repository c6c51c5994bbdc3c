// Package server 提供 HTTP-01 验证响应、健康检查与指标接口
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ssl-deployer/internal/logging"
	"ssl-deployer/internal/model"
)

// ChallengeStore 保存待验证的 HTTP-01 令牌，实现 acme.ChallengeResponder
type ChallengeStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewChallengeStore 创建令牌存储
func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{tokens: make(map[string]string)}
}

// Present 发布令牌
func (s *ChallengeStore) Present(_ context.Context, pa *model.PendingAuthorization) error {
	if pa == nil || pa.Token == "" || pa.KeyAuthorization == "" {
		return fmt.Errorf("%w: HTTP-01 挑战缺少令牌", model.ErrValidationFailure)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[pa.Token] = pa.KeyAuthorization
	return nil
}

// CleanUp 移除令牌
func (s *ChallengeStore) CleanUp(_ context.Context, pa *model.PendingAuthorization) error {
	if pa == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, pa.Token)
	return nil
}

// Lookup 查询令牌对应的响应内容
func (s *ChallengeStore) Lookup(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tokens[token]
	return v, ok
}

// NewRouter 创建路由
func NewRouter(store *ChallengeStore, log logging.Logger) *chi.Mux {
	if log == nil {
		log = logging.Nop
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/.well-known/acme-challenge/{token}", func(w http.ResponseWriter, req *http.Request) {
		token := chi.URLParam(req, "token")
		keyAuth, ok := store.Lookup(token)
		if !ok {
			log.Warning("[HTTP-01] 未知令牌: %s (来自 %s)", token, req.RemoteAddr)
			http.NotFound(w, req)
			return
		}
		log.Verbose("[HTTP-01] 响应令牌: %s", token)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(keyAuth))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Server HTTP 服务
type Server struct {
	http *http.Server
	log  logging.Logger
}

// New 创建服务
func New(listen string, store *ChallengeStore, log logging.Logger) *Server {
	if log == nil {
		log = logging.Nop
	}
	return &Server{
		http: &http.Server{
			Addr:              listen,
			Handler:           NewRouter(store, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Run 启动服务，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Information("[HTTP] 监听 %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP 服务启动失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
