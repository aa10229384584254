// Package http exposes the cooperative registry as a JSON API.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"commenergy/internal/exports"
	"commenergy/internal/services"
	"commenergy/internal/storage"
)

type Server struct {
	http.Server
	repo        *storage.SQLiteRepository
	billing     *services.BillingService
	exports     *exports.Store
	rateLimiter *rateLimiter

	shutdownOnce sync.Once
}

// Simple in-memory rate limiter
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// startCleanup runs periodic cleanup to remove stale client entries
func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// stop gracefully shuts down the rate limiter cleanup goroutine
func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, repo *storage.SQLiteRepository, billing *services.BillingService, store *exports.Store) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		repo:        repo,
		billing:     billing,
		exports:     store,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("GET /members", s.withSecurityHeaders(s.handleListMembers))
	mux.HandleFunc("POST /members", s.withSecurityHeaders(s.handleCreateMember))
	mux.HandleFunc("GET /members/{id}", s.withSecurityHeaders(s.handleGetMember))
	mux.HandleFunc("PUT /members/{id}", s.withSecurityHeaders(s.handleUpdateMember))
	mux.HandleFunc("DELETE /members/{id}", s.withSecurityHeaders(s.handleDeleteMember))
	mux.HandleFunc("GET /members/{id}/pods", s.withSecurityHeaders(s.handleListMemberPods))
	mux.HandleFunc("GET /members/{id}/fee-payments", s.withSecurityHeaders(s.handleListMemberFeePayments))

	mux.HandleFunc("POST /pods", s.withSecurityHeaders(s.handleCreatePod))
	mux.HandleFunc("GET /pods/{id}", s.withSecurityHeaders(s.handleGetPod))
	mux.HandleFunc("PUT /pods/{id}", s.withSecurityHeaders(s.handleUpdatePod))
	mux.HandleFunc("DELETE /pods/{id}", s.withSecurityHeaders(s.handleDeletePod))

	mux.HandleFunc("GET /sharing-groups", s.withSecurityHeaders(s.handleListSharingGroups))
	mux.HandleFunc("POST /sharing-groups", s.withSecurityHeaders(s.handleCreateSharingGroup))
	mux.HandleFunc("GET /sharing-groups/{id}", s.withSecurityHeaders(s.handleGetSharingGroup))
	mux.HandleFunc("PUT /sharing-groups/{id}", s.withSecurityHeaders(s.handleUpdateSharingGroup))
	mux.HandleFunc("DELETE /sharing-groups/{id}", s.withSecurityHeaders(s.handleDeleteSharingGroup))
	mux.HandleFunc("GET /sharing-groups/{id}/pods", s.withSecurityHeaders(s.handleListGroupPods))
	mux.HandleFunc("POST /sharing-groups/{id}/pods", s.withSecurityHeaders(s.handleAddPodToGroup))
	mux.HandleFunc("DELETE /sharing-groups/{id}/pods/{podID}", s.withSecurityHeaders(s.handleRemovePodFromGroup))

	mux.HandleFunc("GET /member-fees", s.withSecurityHeaders(s.handleListMemberFees))
	mux.HandleFunc("POST /member-fees", s.withSecurityHeaders(s.handleCreateMemberFee))
	mux.HandleFunc("GET /member-fees/{id}", s.withSecurityHeaders(s.handleGetMemberFee))
	mux.HandleFunc("PUT /member-fees/{id}", s.withSecurityHeaders(s.handleUpdateMemberFee))
	mux.HandleFunc("DELETE /member-fees/{id}", s.withSecurityHeaders(s.handleDeleteMemberFee))
	mux.HandleFunc("GET /member-fees/{id}/payments", s.withSecurityHeaders(s.handleListFeePaymentsByFee))

	mux.HandleFunc("GET /fee-payments", s.withSecurityHeaders(s.handleListFeePayments))
	mux.HandleFunc("POST /fee-payments", s.withSecurityHeaders(s.handleCreateFeePayment))
	mux.HandleFunc("GET /fee-payments/{id}", s.withSecurityHeaders(s.handleGetFeePayment))
	mux.HandleFunc("PUT /fee-payments/{id}", s.withSecurityHeaders(s.handleUpdateFeePayment))
	mux.HandleFunc("DELETE /fee-payments/{id}", s.withSecurityHeaders(s.handleDeleteFeePayment))

	mux.HandleFunc("GET /accounting", s.withSecurityHeaders(s.handleListAccounting))
	mux.HandleFunc("POST /accounting", s.withSecurityHeaders(s.handleCreateAccounting))
	mux.HandleFunc("GET /accounting/unbilled", s.withSecurityHeaders(s.handleListUnbilled))
	mux.HandleFunc("GET /accounting/{id}", s.withSecurityHeaders(s.handleGetAccounting))
	mux.HandleFunc("PUT /accounting/{id}", s.withSecurityHeaders(s.handleUpdateAccounting))
	mux.HandleFunc("DELETE /accounting/{id}", s.withSecurityHeaders(s.handleDeleteAccounting))

	mux.HandleFunc("POST /billing/runs", s.withSecurityHeaders(s.handleRunBilling))
	mux.HandleFunc("GET /billing/runs", s.withSecurityHeaders(s.handleListBillingRuns))
	mux.HandleFunc("GET /billing/runs/{id}", s.withSecurityHeaders(s.handleGetBillingRun))

	mux.HandleFunc("GET /exports", s.withSecurityHeaders(s.handleListExports))
	mux.HandleFunc("GET /exports/{name}", s.withSecurityHeaders(s.handleDownloadExport))

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request logging to responses
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Extract client IP (considering proxies)
		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		// Generate request ID for tracing
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP,
			"user_agent", r.Header.Get("User-Agent"))

		// Rate limit mutating requests
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Capture status code for the completion log
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", clientIP)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp if random fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
