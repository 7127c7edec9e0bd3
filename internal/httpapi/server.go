// Package httpapi exposes the service's HTTP surface: health, source
// status, item listing and feedback, push ingest, and test alerts.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/alerting"
	"horse.fit/sentinel/internal/collector"
	"horse.fit/sentinel/internal/globaltime"
	"horse.fit/sentinel/internal/preference"
	"horse.fit/sentinel/internal/store"
	payloadschema "horse.fit/sentinel/schema"
)

const (
	defaultItemLimit = 50
	maxItemLimit     = 500
	maxPushBodySize  = 1 << 20
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Trigger asks the orchestrator to run a source now; it reports whether the
// trigger was accepted or coalesced away. The run outlives the request that
// triggered it, so the callback takes no request context.
type Trigger func(sourceID string) bool

type Server struct {
	store      *store.Store
	learner    *preference.Learner
	dispatcher *alerting.Dispatcher
	pushes     *collector.PushBuffer
	trigger    Trigger
	logger     zerolog.Logger
	opts       Options
}

func NewServer(st *store.Store, learner *preference.Learner, dispatcher *alerting.Dispatcher, pushes *collector.PushBuffer, trigger Trigger, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8390
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		store:      st,
		learner:    learner,
		dispatcher: dispatcher,
		pushes:     pushes,
		trigger:    trigger,
		logger:     logger.With().Str("component", "httpapi").Logger(),
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("sentinel api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("sentinel api server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			if v.Status >= 500 || v.Error != nil {
				event = s.logger.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/sources", s.handleSources)
	api.GET("/items", s.handleItems)
	api.POST("/items/:item_id/action", s.handleItemAction)
	api.GET("/preferences", s.handlePreferences)
	api.POST("/push/:source_id", s.handlePush)
	api.POST("/test-alert", s.handleTestAlert)
	api.GET("/reports/latest", s.handleLatestReport)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		if text, ok := he.Message.(string); ok && strings.TrimSpace(text) != "" {
			message = text
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("health check database ping failed")
		return internalError(c, "Database unavailable")
	}
	return success(c, map[string]any{
		"service": "sentinel",
		"time":    globaltime.UTC(),
	})
}

type sourceStatus struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Type              string     `json:"type"`
	Enabled           bool       `json:"enabled"`
	IntervalMinutes   int        `json:"interval_minutes"`
	Priority          int        `json:"priority"`
	Category          string     `json:"category,omitempty"`
	LastCheck         *time.Time `json:"last_check,omitempty"`
	LastSuccess       *time.Time `json:"last_success,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
}

func (s *Server) handleSources(c echo.Context) error {
	sources, err := s.store.ListSources(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list sources failed")
		return internalError(c, "Failed to load sources")
	}

	rows := make([]sourceStatus, 0, len(sources))
	for _, src := range sources {
		rows = append(rows, sourceStatus{
			ID:                src.ID,
			Name:              src.Name,
			Type:              src.Type,
			Enabled:           src.Enabled,
			IntervalMinutes:   src.IntervalMinutes,
			Priority:          src.Priority,
			Category:          src.Category,
			LastCheck:         src.LastCheck,
			LastSuccess:       src.LastSuccess,
			LastError:         src.LastError,
			ConsecutiveErrors: src.ConsecutiveErrors,
		})
	}
	return success(c, map[string]any{"items": rows})
}

type itemRow struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	Title       string     `json:"title"`
	URL         string     `json:"url,omitempty"`
	Author      string     `json:"author,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CollectedAt time.Time  `json:"collected_at"`
	Score       float64    `json:"score"`
	Highlighted bool       `json:"highlighted"`
	Tags        []string   `json:"tags,omitempty"`
	Keywords    []string   `json:"keywords,omitempty"`
	Status      string     `json:"status"`
	Language    string     `json:"language,omitempty"`
}

func (s *Server) handleItems(c echo.Context) error {
	hours := 24
	if raw := c.QueryParam("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return fail(c, http.StatusBadRequest, "hours must be a positive integer", nil)
		}
		hours = parsed
	}

	limit := defaultItemLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return fail(c, http.StatusBadRequest, "limit must be a positive integer", nil)
		}
		if parsed > maxItemLimit {
			parsed = maxItemLimit
		}
		limit = parsed
	}

	since := globaltime.UTC().Add(-time.Duration(hours) * time.Hour)
	items, err := s.store.ListItems(c.Request().Context(), since, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list items failed")
		return internalError(c, "Failed to load items")
	}

	rows := make([]itemRow, 0, len(items))
	for idx := range items {
		item := &items[idx]
		rows = append(rows, itemRow{
			ID:          item.ID,
			SourceID:    item.SourceID,
			Title:       item.Title,
			URL:         item.URL,
			Author:      item.Author,
			Summary:     item.Summary,
			PublishedAt: item.PublishedAt,
			CollectedAt: item.CollectedAt,
			Score:       item.Score,
			Highlighted: item.Highlighted,
			Tags:        item.Tags(),
			Keywords:    item.Keywords(),
			Status:      item.Status,
			Language:    item.Language,
		})
	}
	return success(c, map[string]any{"items": rows})
}

type actionRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleItemAction(c echo.Context) error {
	itemID := c.Param("item_id")

	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body", nil)
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if action == "" {
		return fail(c, http.StatusBadRequest, "action is required", nil)
	}

	err := s.learner.RecordAction(c.Request().Context(), itemID, action)
	switch {
	case err == nil:
		return success(c, map[string]any{
			"item_id": itemID,
			"action":  action,
		})
	case errors.Is(err, preference.ErrUnknownAction):
		return fail(c, http.StatusBadRequest, fmt.Sprintf("unknown action %q", action), nil)
	case errors.Is(err, preference.ErrItemNotFound):
		return failNotFound(c, "Item not found")
	default:
		s.logger.Error().Err(err).Str("item_id", itemID).Msg("record action failed")
		return internalError(c, "Failed to record action")
	}
}

func (s *Server) handlePreferences(c echo.Context) error {
	summary, err := s.learner.Summarize(c.Request().Context(), 20)
	if err != nil {
		s.logger.Error().Err(err).Msg("summarize preferences failed")
		return internalError(c, "Failed to load preferences")
	}
	return success(c, summary)
}

func (s *Server) handlePush(c echo.Context) error {
	sourceID := c.Param("source_id")

	source, err := s.store.GetSource(c.Request().Context(), sourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failNotFound(c, "Source not found")
		}
		s.logger.Error().Err(err).Str("source", sourceID).Msg("load source failed")
		return internalError(c, "Failed to load source")
	}
	if source.Type != collector.PushSourceType {
		return fail(c, http.StatusConflict, "source does not accept pushed items", nil)
	}
	if !source.Enabled {
		return fail(c, http.StatusConflict, "source is disabled", nil)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPushBodySize+1))
	if err != nil {
		return fail(c, http.StatusBadRequest, "failed to read request body", nil)
	}
	if len(body) > maxPushBodySize {
		return fail(c, http.StatusRequestEntityTooLarge, "payload too large", nil)
	}

	payload, err := payloadschema.ValidatePushItemPayload(json.RawMessage(body))
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error(), nil)
	}

	item := pushItemToCollectorItem(payload)
	depth := s.pushes.Enqueue(sourceID, item)

	triggered := false
	if s.trigger != nil {
		triggered = s.trigger(sourceID)
	}

	return successWithStatus(c, http.StatusAccepted, map[string]any{
		"source_id": sourceID,
		"queued":    depth,
		"triggered": triggered,
	})
}

func pushItemToCollectorItem(payload *payloadschema.PushItem) collector.Item {
	item := collector.Item{
		GUID:        payload.GUID,
		Title:       payload.Title,
		CollectedAt: globaltime.UTC(),
		MediaURLs:   payload.MediaURLs,
		Extra:       payload.Extra,
	}
	if payload.URL != nil {
		item.URL = *payload.URL
	}
	if payload.Author != nil {
		item.Author = *payload.Author
	}
	if payload.Content != nil {
		item.Content = *payload.Content
	}
	if payload.Summary != nil {
		item.Summary = *payload.Summary
	}
	if payload.ImageURL != nil {
		item.ImageURL = *payload.ImageURL
	}
	if payload.Language != nil {
		item.Language = *payload.Language
	}
	if payload.PublishedAt != nil {
		if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*payload.PublishedAt)); err == nil {
			utc := parsed.UTC()
			item.PublishedAt = &utc
		}
	}
	return item
}

type testAlertRequest struct {
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

func (s *Server) handleTestAlert(c echo.Context) error {
	var req testAlertRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body", nil)
	}

	severity := alerting.SeverityInfo
	if req.Severity != "" {
		parsed, err := alerting.ParseSeverity(req.Severity)
		if err != nil {
			return fail(c, http.StatusBadRequest, err.Error(), nil)
		}
		severity = parsed
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Test alert"
	}

	payload := alerting.Payload{
		ID:        uuid.NewString(),
		Severity:  severity,
		Title:     title,
		Message:   req.Message,
		CreatedAt: globaltime.UTC(),
	}
	if err := s.dispatcher.Dispatch(c.Request().Context(), payload); err != nil {
		s.logger.Error().Err(err).Msg("test alert dispatch failed")
		return internalError(c, "Failed to dispatch test alert")
	}

	return successWithStatus(c, http.StatusAccepted, map[string]any{
		"alert_id": payload.ID,
		"severity": severity.String(),
	})
}

func (s *Server) handleLatestReport(c echo.Context) error {
	report, err := s.store.LatestReport(c.Request().Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failNotFound(c, "No report generated yet")
		}
		s.logger.Error().Err(err).Msg("load latest report failed")
		return internalError(c, "Failed to load report")
	}

	var content any
	if err := json.Unmarshal([]byte(report.ContentJSON), &content); err != nil {
		content = report.ContentJSON
	}
	return success(c, map[string]any{
		"period_start": report.PeriodStart,
		"period_end":   report.PeriodEnd,
		"generated_at": report.GeneratedAt,
		"content":      content,
	})
}
