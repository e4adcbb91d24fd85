package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
	"github.com/noah-isme/course-enrollment-api/pkg/response"
)

type offeringService interface {
	Create(ctx context.Context, actor models.Actor, req service.OfferingRequest) (*models.Offering, error)
	Update(ctx context.Context, actor models.Actor, id string, req service.OfferingRequest) (*models.Offering, error)
	Recompute(ctx context.Context, actor models.Actor, id string) (int, error)
}

type calendarService interface {
	ScheduledDates(ctx context.Context, actor models.Actor, offeringID string, upTo *time.Time) (*service.CalendarView, error)
}

type capacityNormalizer interface {
	Normalize(ctx context.Context, actor models.Actor, offeringID string) (*service.NormalizeResult, error)
}

// OfferingHandler exposes offering administration and the class calendar.
type OfferingHandler struct {
	offerings offeringService
	calendar  calendarService
	capacity  capacityNormalizer
}

// NewOfferingHandler constructs OfferingHandler.
func NewOfferingHandler(offerings offeringService, calendar calendarService, capacity capacityNormalizer) *OfferingHandler {
	return &OfferingHandler{offerings: offerings, calendar: calendar, capacity: capacity}
}

// Calendar godoc
// @Summary Class dates of an offering
// @Tags Offerings
// @Produce json
// @Param id path string true "Offering ID"
// @Param upTo query string false "Last day to include (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /offerings/{id}/calendar [get]
func (h *OfferingHandler) Calendar(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var upTo *time.Time
	if raw := c.Query("upTo"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "upTo must be formatted as YYYY-MM-DD"))
			return
		}
		upTo = &parsed
	}
	view, err := h.calendar.ScheduledDates(c.Request.Context(), actor, c.Param("id"), upTo)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Create godoc
// @Summary Create offering
// @Tags Offerings
// @Accept json
// @Produce json
// @Param payload body service.OfferingRequest true "Offering payload"
// @Success 201 {object} response.Envelope
// @Router /offerings [post]
func (h *OfferingHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req service.OfferingRequest
	if !bindJSON(c, &req) {
		return
	}
	offering, err := h.offerings.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, offering)
}

// Update godoc
// @Summary Update offering
// @Description Capacity changes rebalance the waitlist; schedule changes recompute attendance summaries.
// @Tags Offerings
// @Accept json
// @Produce json
// @Param id path string true "Offering ID"
// @Param payload body service.OfferingRequest true "Offering payload"
// @Success 200 {object} response.Envelope
// @Router /offerings/{id} [put]
func (h *OfferingHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req service.OfferingRequest
	if !bindJSON(c, &req) {
		return
	}
	offering, err := h.offerings.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offering, nil)
}

// Normalize godoc
// @Summary Rebalance seats and waitlist
// @Tags Offerings
// @Produce json
// @Param id path string true "Offering ID"
// @Success 200 {object} response.Envelope
// @Router /offerings/{id}/normalize [post]
func (h *OfferingHandler) Normalize(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	result, err := h.capacity.Normalize(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Recompute godoc
// @Summary Recompute attendance summaries of an offering
// @Tags Offerings
// @Produce json
// @Param id path string true "Offering ID"
// @Success 200 {object} response.Envelope
// @Router /offerings/{id}/recompute [post]
func (h *OfferingHandler) Recompute(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	count, err := h.offerings.Recompute(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"offering_id": c.Param("id"), "recomputed": count}, nil)
}
