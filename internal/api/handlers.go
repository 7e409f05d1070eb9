// Package api exposes the market data service over HTTP.
package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Rajchodisetti/market-data/internal/auth"
	"github.com/Rajchodisetti/market-data/internal/marketdata"
)

// MarketDataService is the part of marketdata.Service the handlers use.
type MarketDataService interface {
	GetMarketData(ctx context.Context, req marketdata.Request) (*marketdata.MarketData, error)
	Health(ctx context.Context) marketdata.Stats
	Options() marketdata.Options
}

type Handler struct {
	svc         MarketDataService
	logger      *logrus.Logger
	development bool
}

type marketDataQuery struct {
	PropertyType string `form:"propertyType"`
	Period       string `form:"period"`
}

func NewHandler(svc MarketDataService, logger *logrus.Logger, development bool) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Handler{svc: svc, logger: logger, development: development}
}

func (h *Handler) GetMarketData(c *gin.Context) {
	var q marketDataQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.writeError(c, marketdata.NewValidationError("invalid query parameters"))
		return
	}

	md, err := h.svc.GetMarketData(c.Request.Context(), marketdata.Request{
		Location:     c.Param("location"),
		PropertyType: marketdata.PropertyType(q.PropertyType),
		Period:       marketdata.Period(q.Period),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": md})
}

func (h *Handler) GetOptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.svc.Options()})
}

func (h *Handler) GetAdminStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.svc.Health(c.Request.Context())})
}

func (h *Handler) Healthz(c *gin.Context) {
	// Liveness only: an open breaker is degraded, not dead.
	st := h.svc.Health(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "ok", "circuit": st.Circuit.State, "healthy": st.Healthy})
}

// writeError maps service errors to status codes. Internal details only
// reach the client in development mode.
func (h *Handler) writeError(c *gin.Context, err error) {
	var merr *marketdata.Error
	if !errors.As(err, &merr) {
		merr = marketdata.NewInternalError("unexpected error", err)
	}

	status := http.StatusInternalServerError
	message := merr.Message
	switch merr.Kind {
	case marketdata.KindValidation:
		status = http.StatusBadRequest
	case marketdata.KindRateLimited:
		status = http.StatusTooManyRequests
		setRetryAfter(c, merr.RetryAfter)
	case marketdata.KindUnavailable:
		status = http.StatusServiceUnavailable
		setRetryAfter(c, merr.RetryAfter)
	default:
		if !h.development {
			message = "internal server error"
		} else if merr.Err != nil {
			message = merr.Error()
		}
	}

	entry := h.logger.WithFields(logrus.Fields{
		"path":   c.FullPath(),
		"status": status,
		"kind":   merr.Kind,
	})
	if id, ok := auth.FromContext(c.Request.Context()); ok {
		entry = entry.WithField("user_id", id.UserID)
	}
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("market data request failed")
	} else {
		entry.Info("market data request rejected")
	}

	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    merr.Kind,
	})
}

func setRetryAfter(c *gin.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int(math.Ceil(d.Seconds()))
	c.Header("Retry-After", strconv.Itoa(secs))
}
