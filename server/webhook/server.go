package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/ductor/config"
	"github.com/hrygo/ductor/metrics"
)

// DispatchFunc handles one validated webhook request.
type DispatchFunc func(ctx context.Context, hookID string, payload map[string]any)

// Server is the webhook HTTP ingress.
//
// Routes:
//   - GET  /health          health check for tunnel/proxy monitoring
//   - GET  /metrics         prometheus metrics (when an exporter is set)
//   - POST /hooks/:hook_id  catch-all webhook endpoint
type Server struct {
	cfg      config.WebhookConfig
	manager  *Manager
	limiter  *RateLimiter
	exporter *metrics.Exporter
	dispatch DispatchFunc

	echo *echo.Echo
}

func NewServer(cfg config.WebhookConfig, manager *Manager) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		limiter: NewRateLimiter(cfg.RateLimitPerMinute),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)
	e.POST("/hooks/:hook_id", s.handleHook)
	s.echo = e
	return s
}

// SetDispatchHandler sets the callback invoked for each valid request.
func (s *Server) SetDispatchHandler(fn DispatchFunc) { s.dispatch = fn }

// SetMetrics attaches the prometheus exporter, enabling /metrics and
// per-request counters.
func (s *Server) SetMetrics(exporter *metrics.Exporter) { s.exporter = exporter }

// Run listens until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()
	slog.Info("webhook server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			slog.Warn("webhook server shutdown error", "error", err)
		}
		slog.Info("webhook server stopped")
		return ctx.Err()
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(c echo.Context) error {
	if s.exporter == nil {
		return c.NoContent(http.StatusNotFound)
	}
	s.exporter.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

// reply sends a JSON response and counts the status code.
func (s *Server) reply(c echo.Context, code int, body any) error {
	s.exporter.RecordWebhookRequest(code)
	return c.JSON(code, body)
}

func errorBody(reason string) map[string]string {
	return map[string]string{"error": reason}
}

// handleHook runs the validation chain. Rejections are ordered so the
// cheapest checks run first and auth always sees the raw body.
func (s *Server) handleHook(c echo.Context) error {
	hookID := c.Param("hook_id")
	slog.Info("webhook request received", "hook", hookID, "method", c.Request().Method)

	if !s.limiter.Allow() {
		slog.Warn("webhook rejected: rate limited", "hook", hookID)
		return s.reply(c, http.StatusTooManyRequests, errorBody("rate_limited"))
	}

	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(contentType, echo.MIMEApplicationJSON) {
		slog.Warn("webhook rejected: bad content-type", "hook", hookID)
		return s.reply(c, http.StatusUnsupportedMediaType, errorBody("content_type_must_be_json"))
	}

	maxBytes := int64(s.cfg.MaxBodyBytes)
	rawBody, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBytes+1))
	if err != nil {
		slog.Warn("webhook rejected: body read failed", "hook", hookID, "error", err)
		return s.reply(c, http.StatusBadRequest, errorBody("body_read_failed"))
	}
	if int64(len(rawBody)) > maxBytes {
		slog.Warn("webhook rejected: body too large", "hook", hookID)
		return s.reply(c, http.StatusRequestEntityTooLarge, errorBody("body_too_large"))
	}

	var parsed any
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		slog.Warn("webhook rejected: invalid JSON", "hook", hookID)
		return s.reply(c, http.StatusBadRequest, errorBody("invalid_json"))
	}
	payload, ok := parsed.(map[string]any)
	if !ok {
		slog.Warn("webhook rejected: body not object", "hook", hookID)
		return s.reply(c, http.StatusBadRequest, errorBody("body_must_be_object"))
	}

	hook := s.manager.Get(hookID)
	if hook == nil {
		slog.Warn("webhook rejected: not found", "hook", hookID)
		return s.reply(c, http.StatusNotFound, errorBody("hook_not_found"))
	}
	if !hook.Enabled {
		slog.Warn("webhook rejected: disabled", "hook", hookID)
		return s.reply(c, http.StatusForbidden, errorBody("hook_disabled"))
	}

	authHeader := c.Request().Header.Get("Authorization")
	sigValue := ""
	if hook.HMACHeader != "" {
		sigValue = c.Request().Header.Get(hook.HMACHeader)
	}
	if !validateHookAuth(hook, authHeader, sigValue, rawBody, s.cfg.Token) {
		slog.Warn("webhook rejected: unauthorized", "hook", hookID)
		return s.reply(c, http.StatusUnauthorized, errorBody("unauthorized"))
	}

	slog.Debug("webhook validation passed", "hook", hookID)

	// Fire-and-forget so slow CLI work never times out the HTTP
	// caller.
	if s.dispatch != nil {
		go s.dispatch(context.Background(), hookID, payload)
	}

	return s.reply(c, http.StatusAccepted, map[string]any{
		"accepted": true,
		"hook_id":  hookID,
	})
}
