package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"plan_store/internal/auth"
	"plan_store/internal/plan"
)

// Options configures a RestServer. Prefix is prepended to every plan
// route, e.g. "/v1".
type Options struct {
	Addr        string
	Prefix      string
	CORSOrigins []string
}

type RestServer struct {
	engine *gin.Engine
	plans  *plan.Service
	log    zerolog.Logger
	http   *http.Server
}

func NewRestServer(plans *plan.Service, verifier auth.Verifier, opts Options, log zerolog.Logger) *RestServer {
	server := &RestServer{
		engine: gin.New(),
		plans:  plans,
		log:    log,
	}
	server.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           server.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server.engine.Use(
		requestID(),
		requestLogger(log),
		gin.CustomRecovery(server.recover),
		cors.New(corsConfig(opts.CORSOrigins)),
	)

	routes := server.engine.Group(opts.Prefix + "/plan")
	routes.Use(auth.Middleware(verifier, log))
	routes.POST("", server.handleCreate)
	routes.GET("/:objectId", server.handleRead)
	routes.DELETE("/:objectId", server.handleDelete)
	routes.PUT("/:objectId", server.handleReplace(http.StatusUnauthorized))
	routes.PATCH("/:objectId", server.handleReplace(http.StatusInternalServerError))

	server.engine.NoRoute(func(ctx *gin.Context) {
		ctx.String(http.StatusBadRequest, "Invalid route")
	})

	return server
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "If-Match", "If-None-Match", requestIDHeader},
		ExposeHeaders: []string{"ETag", requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return config
}

func (server *RestServer) recover(ctx *gin.Context, err any) {
	server.log.Error().
		Str("request_id", ctx.GetString(requestIDKey)).
		Interface("panic", err).
		Msg("handler panicked")
	ctx.AbortWithStatusJSON(http.StatusInternalServerError, MessageResponse{Message: unexpectedMessage})
}

// Handler exposes the routes, mainly for tests.
func (server *RestServer) Handler() http.Handler {
	return server.engine
}

// Run serves until Shutdown is called.
func (server *RestServer) Run() error {
	server.log.Info().Str("addr", server.http.Addr).Msg("HTTP server listening")
	if err := server.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (server *RestServer) Shutdown(ctx context.Context) error {
	return server.http.Shutdown(ctx)
}
