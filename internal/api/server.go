// Package api exposes the trading service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/logging"
	"efriend-trader/internal/models"
	"efriend-trader/internal/orders"
	"efriend-trader/internal/trading"
)

// RequestIDHeader carries the per-request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// Trading is the service the routes delegate to.
type Trading interface {
	Login(ctx context.Context, in trading.LoginInput) (*trading.LoginOutput, error)
	GetAmount(ctx context.Context, in trading.OrdersInput) (*models.PortfolioSnapshot, error)
	GetCurrency(ctx context.Context, in trading.LoginInput) (decimal.Decimal, error)
	Buy(ctx context.Context, in trading.BuyOrSellInput) (string, error)
	Sell(ctx context.Context, in trading.BuyOrSellInput) (string, error)
	Cancel(ctx context.Context, in trading.CancelInput) error
	CancelAll(ctx context.Context, in trading.CancelAllInput) (*orders.CancelBatch, error)
	UnprocessedOrders(ctx context.Context, in trading.OrdersInput) ([]models.Order, error)
	ProcessedOrders(ctx context.Context, in trading.ProcessedOrdersInput) ([]models.Order, error)
	GetChart(ctx context.Context, in trading.ChartInput) ([]models.ChartPoint, error)
	GetSpread(ctx context.Context, in trading.SpreadInput) (*models.SpreadQuote, error)
	GetHistory(ctx context.Context, in trading.SpreadInput) ([]models.ProductHistory, error)
	Health() trading.Health
}

// Server routes HTTP requests to the trading service.
type Server struct {
	svc    Trading
	logger zerolog.Logger
}

// NewServer creates a server.
func NewServer(svc Trading, logger zerolog.Logger) *Server {
	return &Server{svc: svc, logger: logger.With().Str("component", "api").Logger()}
}

// Router builds the gin engine.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestContext())

	r.GET("/healthz", s.handleHealth)

	r.POST("/auth/login", s.handleLogin)

	stock := r.Group("/stock")
	stock.POST("/amount", s.handleAmount)
	stock.POST("/currency", s.handleCurrency)
	stock.POST("/buy", s.handleOrder(models.OrderSideBuy))
	stock.POST("/sell", s.handleOrder(models.OrderSideSell))
	stock.POST("/cancel", s.handleCancel)
	stock.POST("/cancel-all", s.handleCancelAll)
	stock.POST("/unprocessed-orders", s.handleUnprocessed)
	stock.POST("/processed-orders", s.handleProcessed)
	stock.POST("/chart", s.handleChart)
	stock.POST("/spread", s.handleSpread)
	stock.POST("/history", s.handleHistory)

	return r
}

// requestContext tags every request with an ID and a request-scoped logger.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		ctx := logging.WithRequestID(c.Request.Context(), s.logger, id)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		logger := logging.FromContext(ctx, s.logger)
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.svc.Health()
	status, code := "ok", http.StatusOK
	if h.Degraded() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "sessions": h.Sessions, "breaker": h.Breaker})
}

func (s *Server) handleLogin(c *gin.Context) {
	var in trading.LoginInput
	if !bind(c, &in) {
		return
	}
	out, err := s.svc.Login(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleAmount(c *gin.Context) {
	var in trading.OrdersInput
	if !bind(c, &in) {
		return
	}
	snap, err := s.svc.GetAmount(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toAmount(snap))
}

func (s *Server) handleCurrency(c *gin.Context) {
	var in trading.LoginInput
	if !bind(c, &in) {
		return
	}
	rate, err := s.svc.GetCurrency(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, currencyResponse{Currency: rate})
}

func (s *Server) handleOrder(side models.OrderSide) gin.HandlerFunc {
	place := s.svc.Buy
	if side == models.OrderSideSell {
		place = s.svc.Sell
	}
	return func(c *gin.Context) {
		var in trading.BuyOrSellInput
		if !bind(c, &in) {
			return
		}
		num, err := place(c.Request.Context(), in)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, orderNumResponse{OrderNum: num})
	}
}

func (s *Server) handleCancel(c *gin.Context) {
	var in trading.CancelInput
	if !bind(c, &in) {
		return
	}
	if err := s.svc.Cancel(c.Request.Context(), in); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orderNumResponse{OrderNum: in.OrderNum})
}

func (s *Server) handleCancelAll(c *gin.Context) {
	var in trading.CancelAllInput
	if !bind(c, &in) {
		return
	}
	batch, err := s.svc.CancelAll(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCancelAll(batch))
}

func (s *Server) handleUnprocessed(c *gin.Context) {
	var in trading.OrdersInput
	if !bind(c, &in) {
		return
	}
	list, err := s.svc.UnprocessedOrders(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrders(list, false))
}

func (s *Server) handleProcessed(c *gin.Context) {
	var in trading.ProcessedOrdersInput
	if !bind(c, &in) {
		return
	}
	list, err := s.svc.ProcessedOrders(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrders(list, true))
}

func (s *Server) handleChart(c *gin.Context) {
	var in trading.ChartInput
	if !bind(c, &in) {
		return
	}
	points, err := s.svc.GetChart(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toChart(points))
}

func (s *Server) handleSpread(c *gin.Context) {
	var in trading.SpreadInput
	if !bind(c, &in) {
		return
	}
	quote, err := s.svc.GetSpread(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toSpread(quote))
}

func (s *Server) handleHistory(c *gin.Context) {
	var in trading.SpreadInput
	if !bind(c, &in) {
		return
	}
	history, err := s.svc.GetHistory(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toHistory(history))
}

// bind decodes the JSON body into in. Malformed or incomplete bodies get a
// 400 with the first problem as detail.
func bind(c *gin.Context, in interface{}) bool {
	if err := c.ShouldBindJSON(in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Detail: bindDetail(err)})
		return false
	}
	return true
}

func bindDetail(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "field required: " + verrs[0].Field()
	}
	return err.Error()
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(apperrors.KindOf(err))
	code, _ := apperrors.Reason(err)

	logger := logging.FromContext(c.Request.Context(), s.logger)
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Str("path", c.FullPath()).Int("status", status).Msg("Request failed")

	c.AbortWithStatusJSON(status, errorResponse{Detail: err.Error(), Code: code})
}

func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindAuthentication:
		return http.StatusUnauthorized
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindInvalidState:
		return http.StatusConflict
	case apperrors.KindRejected:
		return http.StatusUnprocessableEntity
	case apperrors.KindTimeout:
		return http.StatusGatewayTimeout
	case apperrors.KindBroker:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
