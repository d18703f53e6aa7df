package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/internal/service/ratelimit"
	"SignalFlow/internal/usecase"
	"SignalFlow/pkg/cache"
	xhttp "SignalFlow/pkg/http"
	xlogger "SignalFlow/pkg/logger"
	"SignalFlow/pkg/util"
)

// SignalTracker is the part of the lifecycle tracker the API needs.
type SignalTracker interface {
	OpenSignals() []models.OpenSignalView
	CloseManual(ctx context.Context, id string, price float64) (*models.Signal, error)
}

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Options struct {
	CacheTTL time.Duration
	// Requests per second allowed per client IP, burst of twice that. Zero disables the limit.
	RatePerSecond float64
	Version       string
}

// SignalsEchoHandler serves the read-mostly query API and the websocket upgrade.
type SignalsEchoHandler struct {
	logger  *xlogger.Logger
	store   domrepo.SignalStore
	tracker SignalTracker
	events  domrepo.EventLog
	cache   cache.Service
	ws      http.Handler
	checks  []HealthCheck
	rl      *ratelimit.Limiter
	opts    Options
	now     func() time.Time
}

func NewSignalsEchoHandler(
	logger *xlogger.Logger,
	store domrepo.SignalStore,
	tracker SignalTracker,
	events domrepo.EventLog,
	c cache.Service,
	ws http.Handler,
	checks []HealthCheck,
	opts Options,
) *SignalsEchoHandler {
	return &SignalsEchoHandler{
		logger:  logger,
		store:   store,
		tracker: tracker,
		events:  events,
		cache:   c,
		ws:      ws,
		checks:  checks,
		rl:      ratelimit.New(),
		opts:    opts,
		now:     time.Now,
	}
}

func (h *SignalsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api", h.rateLimit)
	g.GET("/signals", h.ListSignals)
	g.GET("/signals/open", h.OpenSignals)
	g.GET("/signals/:id", h.GetSignal)
	g.POST("/signals/:id/close", h.CloseSignal)
	g.GET("/stats", h.Stats)
	g.GET("/stats/symbols", h.StatsBySymbol)
	g.GET("/events", h.ListEvents)
	g.GET("/health", h.Health)
	if h.ws != nil {
		e.GET("/ws", echo.WrapHandler(h.ws))
	}
}

func (h *SignalsEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.opts.RatePerSecond > 0 && !h.rl.Allow("api:"+c.RealIP(), 2*h.opts.RatePerSecond, h.opts.RatePerSecond) {
			h.logger.Warn("api rate limited", xlogger.String("remote", c.RealIP()), xlogger.String("path", c.Path()))
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
		}
		return next(c)
	}
}

func (h *SignalsEchoHandler) ListSignals(c echo.Context) error {
	req := &models.ListSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	f := models.SignalFilter{
		Symbol: util.NormalizeSymbol(req.Symbol),
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	switch req.Outcome {
	case "":
	case "open":
		f.OpenOnly = true
	default:
		o := models.Outcome(req.Outcome)
		f.Outcome = &o
	}

	rows, err := h.store.List(c.Request().Context(), f)
	if err != nil {
		h.logger.Error("list signals", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *SignalsEchoHandler) OpenSignals(c echo.Context) error {
	views := h.tracker.OpenSignals()
	return xhttp.ListResponse(c, views, int64(len(views)))
}

func (h *SignalsEchoHandler) GetSignal(c echo.Context) error {
	id := c.Param("id")
	sig, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		return h.storeError(c, err, id)
	}
	return xhttp.SuccessResponse(c, sig)
}

func (h *SignalsEchoHandler) CloseSignal(c echo.Context) error {
	req := &models.CloseSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id := c.Param("id")

	sig, err := h.tracker.CloseManual(c.Request().Context(), id, req.Price)
	switch {
	case errors.Is(err, usecase.ErrAlreadyClosed):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("signal already closed").WithParam("id", id))
	case err != nil:
		return h.storeError(c, err, id)
	}
	h.invalidateStats(c.Request().Context())
	h.logger.Info("signal closed manually", xlogger.String("signal_id", id), xlogger.Float64("price", *sig.ClosePrice))
	return xhttp.SuccessResponse(c, sig)
}

func (h *SignalsEchoHandler) Stats(c echo.Context) error {
	req := &models.StatsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f := h.statsFilter(req)
	key := cache.GenerateKeyWithParams("api:stats", f.Symbol, f.Since.Unix())

	stats, err := cache.GetOrLoad(c.Request().Context(), h.cache, key, h.opts.CacheTTL,
		func(ctx context.Context) (*models.SignalStats, error) {
			return h.store.Stats(ctx, f)
		})
	if err != nil {
		h.logger.Error("stats", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, fmt.Sprintf("private, max-age=%d", int(h.opts.CacheTTL.Seconds())))
	return xhttp.SuccessResponse(c, stats)
}

func (h *SignalsEchoHandler) StatsBySymbol(c echo.Context) error {
	req := &models.StatsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f := h.statsFilter(req)
	f.Symbol = ""
	key := cache.GenerateKeyWithParams("api:stats:symbols", f.Since.Unix())

	rows, err := cache.GetOrLoad(c.Request().Context(), h.cache, key, h.opts.CacheTTL,
		func(ctx context.Context) ([]*models.SignalStats, error) {
			return h.store.StatsBySymbol(ctx, f)
		})
	if err != nil {
		h.logger.Error("stats by symbol", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *SignalsEchoHandler) ListEvents(c echo.Context) error {
	req := &models.ListEventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.events.Query(c.Request().Context(), util.NormalizeSymbol(req.Symbol), models.EventKind(req.Type), req.Limit)
	if err != nil {
		h.logger.Error("query events", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
}

func (h *SignalsEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	res := healthResponse{Status: "ok", Version: h.opts.Version, Checks: make(map[string]string, len(h.checks))}
	for _, hc := range h.checks {
		if err := hc.Check(ctx); err != nil {
			res.Status = "degraded"
			res.Checks[hc.Name] = err.Error()
			continue
		}
		res.Checks[hc.Name] = "ok"
	}
	if res.Status != "ok" {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, res)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SignalsEchoHandler) statsFilter(req *models.StatsRequest) models.StatsFilter {
	since := xhttp.ParseSince(req.Since, h.now())
	if !since.IsZero() {
		// minute granularity keeps relative windows cacheable
		since = since.Truncate(time.Minute)
	}
	return models.StatsFilter{Symbol: util.NormalizeSymbol(req.Symbol), Since: since}
}

// OnOutcome drops cached stats whenever a signal closes outside the API.
func (h *SignalsEchoHandler) OnOutcome(*models.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.invalidateStats(ctx)
}

func (h *SignalsEchoHandler) invalidateStats(ctx context.Context) {
	if err := h.cache.DeleteByPattern(ctx, "api:stats*"); err != nil {
		h.logger.Warn("invalidate stats cache", xlogger.Error(err))
	}
}

func (h *SignalsEchoHandler) storeError(c echo.Context, err error, id string) error {
	switch {
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("signal %s not found", id).WithError(err))
	case errors.Is(err, domrepo.ErrInvalidInput):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	default:
		h.logger.Error("signal store", xlogger.String("signal_id", id), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
}
