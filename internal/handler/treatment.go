package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/machine-treatments/internal/logger"
	"github.com/iliyamo/machine-treatments/internal/middleware"
	"github.com/iliyamo/machine-treatments/internal/model"
	"github.com/iliyamo/machine-treatments/internal/queue"
	"github.com/iliyamo/machine-treatments/internal/repository"
)

// outboxSize bounds the change events waiting for the broker.  Events past
// it are dropped with a warning rather than blocking writes.
const outboxSize = 256

// TreatmentHandler serves the treatment catalogue.  Writes bump the list
// cache and queue a change event; neither side effect can fail a request.
type TreatmentHandler struct {
	Store  TreatmentStore
	Events EventPublisher
	Cache  CacheInvalidator
	Log    *logger.Logger

	outbox    chan queue.TreatmentEvent
	pending   sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewTreatmentHandler starts the worker that publishes change events in
// write order.  Call Close on shutdown to flush it.
func NewTreatmentHandler(store TreatmentStore, events EventPublisher, cache CacheInvalidator, log *logger.Logger) *TreatmentHandler {
	h := &TreatmentHandler{
		Store:  store,
		Events: events,
		Cache:  cache,
		Log:    log.With("treatments"),
		outbox: make(chan queue.TreatmentEvent, outboxSize),
		done:   make(chan struct{}),
	}
	go h.publishLoop()
	return h
}

type createTreatmentReq struct {
	MachineType string `json:"machineType"`
	Treatment   string `json:"treatment"`
}

type updateTreatmentReq struct {
	Treatment string `json:"treatment"`
}

// Create: POST /api/treatments
func (h *TreatmentHandler) Create(c echo.Context) error {
	var req createTreatmentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.MachineType = strings.TrimSpace(req.MachineType)
	req.Treatment = strings.TrimSpace(req.Treatment)
	if req.MachineType == "" || req.Treatment == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "machineType and treatment are required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	t := model.Treatment{MachineType: req.MachineType, Treatment: req.Treatment}
	if err := h.Store.Create(ctx, &t); err != nil {
		h.Log.Error().Err(err).Msg("create treatment")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to save treatment"})
	}

	h.afterWrite(c, queue.ActionCreated, t)
	return c.JSON(http.StatusCreated, t)
}

// ListByType: GET /api/treatments/:machineType
func (h *TreatmentHandler) ListByType(c echo.Context) error {
	// Echo routes on RawPath when the request needed one and leaves those
	// params escaped; otherwise the param is already decoded.
	machineType := c.Param("machineType")
	if c.Request().URL.RawPath != "" {
		if v, err := url.PathUnescape(machineType); err == nil {
			machineType = v
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	items, err := h.Store.ListByMachineType(ctx, machineType)
	if err != nil {
		h.Log.Error().Err(err).Str("machine_type", machineType).Msg("list treatments")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch treatments"})
	}
	return c.JSON(http.StatusOK, items)
}

// ListAll: GET /api/treatments
func (h *TreatmentHandler) ListAll(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	items, err := h.Store.ListAll(ctx)
	if err != nil {
		h.Log.Error().Err(err).Msg("list all treatments")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch treatments"})
	}
	return c.JSON(http.StatusOK, items)
}

// Update: PUT /api/treatments/:id
func (h *TreatmentHandler) Update(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "treatment not found"})
	}
	var req updateTreatmentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	text := strings.TrimSpace(req.Treatment)
	if text == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "treatment is required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	t, err := h.Store.UpdateText(ctx, id, text)
	if err != nil {
		if errors.Is(err, repository.ErrTreatmentNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "treatment not found"})
		}
		h.Log.Error().Err(err).Str("id", id.Hex()).Msg("update treatment")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update treatment"})
	}

	h.afterWrite(c, queue.ActionUpdated, t)
	return c.JSON(http.StatusOK, echo.Map{"message": "Treatment updated successfully"})
}

// Delete: DELETE /api/treatments/:id
func (h *TreatmentHandler) Delete(c echo.Context) error {
	id, ok := parseID(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "treatment not found"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), storeTimeout)
	defer cancel()

	t, err := h.Store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrTreatmentNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "treatment not found"})
		}
		h.Log.Error().Err(err).Str("id", id.Hex()).Msg("delete treatment")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete treatment"})
	}

	h.afterWrite(c, queue.ActionDeleted, t)
	return c.JSON(http.StatusOK, echo.Map{"message": "Treatment deleted successfully"})
}

// afterWrite runs once the store has accepted a write.  It detaches from
// the request context so a client hanging up does not skip invalidation.
// The event is only queued; the broker is never on the request path.
func (h *TreatmentHandler) afterWrite(c echo.Context, action string, t model.Treatment) {
	if h.Cache != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), storeTimeout)
		defer cancel()
		if err := h.Cache.Invalidate(ctx); err != nil {
			h.Log.Warn().Err(err).Msg("invalidate list cache")
		}
	}
	if h.Events == nil || h.outbox == nil {
		return
	}

	ev := queue.TreatmentEvent{
		Action:      action,
		ID:          t.ID.Hex(),
		MachineType: t.MachineType,
		Treatment:   t.Treatment,
		UserID:      middleware.UserID(c),
		At:          time.Now().UTC(),
	}
	h.pending.Add(1)
	select {
	case h.outbox <- ev:
	default:
		h.pending.Done()
		h.Log.Warn().Str("action", action).Str("id", ev.ID).Msg("event outbox full, dropping treatment event")
	}
}

func (h *TreatmentHandler) publishLoop() {
	defer close(h.done)
	for ev := range h.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := h.Events.PublishTreatmentEvent(ctx, ev); err != nil {
			h.Log.Warn().Err(err).Str("action", ev.Action).Str("id", ev.ID).Msg("publish treatment event")
		}
		cancel()
		h.pending.Done()
	}
}

// Flush blocks until every queued change event has been handed to the
// publisher.
func (h *TreatmentHandler) Flush() {
	h.pending.Wait()
}

// Close flushes queued events and stops the publish worker.  Writes after
// Close must not happen.
func (h *TreatmentHandler) Close() {
	if h.outbox == nil {
		return
	}
	h.closeOnce.Do(func() {
		close(h.outbox)
		<-h.done
	})
}
