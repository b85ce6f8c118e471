package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mailreply/internal/constants"
	"mailreply/internal/logger"
	"mailreply/pkg/errors"
)

type Handler struct {
	Service Service
	Logger  logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		emails := v1.Group("/emails")
		{
			emails.GET("", h.ListEmails)
			emails.GET("/:identity", h.GetEmail)
			emails.POST("/:identity/requeue", h.Requeue)
		}
		v1.GET("/senders/:address", h.GetSender)
		v1.GET("/stats", h.Stats)
	}
}

// ListEmails serves GET /api/v1/emails?state=pending&limit=&offset=.
func (h *Handler) ListEmails(c *gin.Context) {
	records, err := h.Service.ListEmails(c.Request.Context(),
		c.Query("state"),
		parseLimit(c.Query("limit")),
		parseOffset(c.Query("offset")),
	)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) GetEmail(c *gin.Context) {
	rec, err := h.Service.GetEmail(c.Request.Context(), c.Param("identity"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetSender(c *gin.Context) {
	sender, err := h.Service.GetSender(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sender)
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.Service.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Requeue answers 202 once the task is on the queue and 409 when the
// record is already processed.
func (h *Handler) Requeue(c *gin.Context) {
	identity := c.Param("identity")
	if err := h.Service.Requeue(c.Request.Context(), identity); err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"identity": identity, "status": "requeued"})
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}

func parseOffset(offsetStr string) int {
	parsed, err := strconv.Atoi(offsetStr)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
