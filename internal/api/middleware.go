package api

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"workflow-suite/core/internal/logging"
	"workflow-suite/core/internal/reqctx"
)

// Correlation accepts or assigns an X-Correlation-ID for each request, echoes
// it on the response and stores it in the request context.
func Correlation() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		TargetHeader: reqctx.CorrelationHeader,
		Generator:    uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(reqctx.WithCorrelationID(req.Context(), id)))
		},
	})
}

// RequestLogger logs one line per request through logger.
func RequestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.WithContext(c.Request().Context()).Info("request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency.String())
			return nil
		},
	})
}

// RouteOptions configures Register.
type RouteOptions struct {
	// Auth guards the /api/v1 group when set.
	Auth echo.MiddlewareFunc
	// SpecPath is the OpenAPI document served at /openapi.yaml.
	SpecPath        string
	OktaIssuer      string
	SwaggerClientID string
}

// Register mounts the REST API, probes and documentation on e.
func (h *Handler) Register(e *echo.Echo, opts RouteOptions) {
	e.HTTPErrorHandler = ErrorHandler(h.logger)
	e.Use(Correlation())

	e.GET("/health", h.HandleHealth)
	e.GET("/ready", h.HandleReady)

	specPath := opts.SpecPath
	if specPath == "" {
		specPath = DefaultSpecPath
	}
	e.GET("/openapi.yaml", echo.WrapHandler(SpecHandler(specPath, opts.OktaIssuer)))
	e.GET("/docs", echo.WrapHandler(SwaggerHandler(opts.OktaIssuer, opts.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(OAuthRedirectHandler()))

	apiGroup := e.Group("/api/v1")
	if opts.Auth != nil {
		apiGroup.Use(opts.Auth)
	}
	RegisterHandlers(apiGroup, h)
}
