package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/permit-api/internal/models"
)

type eventReaderStub struct {
	events []models.TransitionEvent
	err    error
	count  int64
}

func (s *eventReaderStub) Recent(ctx context.Context, count int64) ([]models.TransitionEvent, error) {
	s.count = count
	return s.events, s.err
}

func TestEventHandlerRecent(t *testing.T) {
	reader := &eventReaderStub{events: []models.TransitionEvent{
		{ApplicationID: "app-1", Action: "APPROVE", FromStage: models.StageDCFinalPending, ToStage: models.StageCompleted},
	}}
	h := NewEventHandler(reader)

	c, w := newRequestContext(http.MethodGet, "/events/recent?limit=9000", nil, nil)
	h.Recent(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(maxEventLimit), reader.count)
	env := decodeEnvelope(t, w)
	assert.EqualValues(t, 1, env.Meta["count"])
	assert.Contains(t, string(env.Data), "app-1")

	c, w = newRequestContext(http.MethodGet, "/events/recent", nil, nil)
	h.Recent(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(defaultEventLimit), reader.count)
}

func TestEventHandlerErrors(t *testing.T) {
	c, w := newRequestContext(http.MethodGet, "/events/recent?limit=-1", nil, nil)
	NewEventHandler(&eventReaderStub{}).Recent(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newRequestContext(http.MethodGet, "/events/recent", nil, nil)
	NewEventHandler(&eventReaderStub{err: errors.New("redis down")}).Recent(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "TRANSPORT_ERROR", decodeEnvelope(t, w).Error.Code)

	c, w = newRequestContext(http.MethodGet, "/events/recent", nil, nil)
	NewEventHandler(nil).Recent(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
