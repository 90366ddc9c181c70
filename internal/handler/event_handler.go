package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/permit-api/internal/models"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
	"github.com/noah-isme/permit-api/pkg/response"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventReader reads committed transitions back from the event stream.
type EventReader interface {
	Recent(ctx context.Context, count int64) ([]models.TransitionEvent, error)
}

// EventHandler exposes the transition feed to administrators.
type EventHandler struct {
	reader EventReader
}

// NewEventHandler constructs the handler. A nil reader means the stream is disabled.
func NewEventHandler(reader EventReader) *EventHandler {
	return &EventHandler{reader: reader}
}

// Recent godoc
// @Summary Recent stage transitions
// @Tags Events
// @Produce json
// @Param limit query int false "Number of events (max 500)"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /events/recent [get]
func (h *EventHandler) Recent(c *gin.Context) {
	if h.reader == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrTransport, "event stream not configured"))
		return
	}

	limit := int64(defaultEventLimit)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := h.reader.Recent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "read event stream"))
		return
	}
	response.JSON(c, http.StatusOK, events, nil, map[string]interface{}{"count": len(events)})
}
