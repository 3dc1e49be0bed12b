package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const identityKey = "identity"

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	Coordinator *app.Coordinator
	WS          *WSHandler
	Auth        *Authenticator
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the gin engine: websocket entry point, read-only REST views, metrics and pprof.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	e.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	e.GET("/ws", gin.WrapF(cfg.WS.ServeWS))

	views := &views{coordinator: cfg.Coordinator}
	api := e.Group("/", requireIdentity(cfg.Auth))
	api.GET("/sessions/:id", views.state)
	api.GET("/sessions/:id/leaderboard", views.leaderboard)
	api.GET("/pins/:pin", views.pin)
	return e
}

func requireIdentity(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := auth.Identify(c.Request)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

type views struct {
	coordinator *app.Coordinator
}

func (v *views) state(c *gin.Context) {
	snap, err := v.coordinator.State(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (v *views) leaderboard(c *gin.Context) {
	board, err := v.coordinator.Leaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, leaderboardPayload{Leaderboard: board})
}

func (v *views) pin(c *gin.Context) {
	id, err := v.coordinator.ResolvePin(c.Param("pin"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionPayload{SessionID: id})
}

func abortWithError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	msg := err.Error()
	var derr *domain.Error
	if errors.As(err, &derr) {
		msg = derr.Message
	}
	c.AbortWithStatusJSON(statusFor(code), errorPayload{Code: code, Message: msg})
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeAlreadyAnswered, domain.CodeQuestionClosed:
		return http.StatusConflict
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeTransientStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
