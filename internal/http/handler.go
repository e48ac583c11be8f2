package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"traffic-violation/internal/domain/violation"
	"traffic-violation/internal/ingest"
	"traffic-violation/internal/service"
	"traffic-violation/internal/store"
)

type Handler struct {
	violationService *service.ViolationService
	log              zerolog.Logger
}

func NewHandler(violationService *service.ViolationService, log zerolog.Logger) *Handler {
	return &Handler{
		violationService: violationService,
		log:              log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Camera-side submission endpoint
	public := r.Group("/api/v1")
	{
		public.POST("/violations", h.submitViolation)
	}

	// Dashboard endpoints for the review workflow
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/violations", h.listViolations)
		protected.POST("/violations/:event_id/review", h.reviewViolation)
	}
}

// submitViolation accepts one multipart submission: an event document
// part and a JPEG evidence part. Both persist or neither does.
func (h *Handler) submitViolation(c *gin.Context) {
	eventData := c.PostForm(ingest.FieldEventData)
	if eventData == "" {
		c.JSON(http.StatusBadRequest, detailResponse("event_data_str form field is required"))
		return
	}
	var payload violation.Payload
	if err := json.Unmarshal([]byte(eventData), &payload); err != nil {
		c.JSON(http.StatusBadRequest, detailResponse("invalid JSON data: "+err.Error()))
		return
	}

	fileHeader, err := c.FormFile(ingest.FieldEvidenceFile)
	if err != nil {
		c.JSON(http.StatusBadRequest, detailResponse("evidence_file part is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, detailResponse("cannot read evidence_file part"))
		return
	}
	defer file.Close()
	evidenceData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, detailResponse("cannot read evidence_file part"))
		return
	}

	rec, err := h.violationService.Ingest(c.Request.Context(), payload, evidenceData, fileHeader.Filename)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			c.JSON(http.StatusBadRequest, detailResponse(err.Error()))
			return
		}
		h.log.Error().Err(err).Msg("failed to ingest violation")
		c.JSON(http.StatusInternalServerError, detailResponse("internal error"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"event_id": rec.EventID,
	})
}

func (h *Handler) listViolations(c *gin.Context) {
	status, err := violation.ParseStatus(c.DefaultQuery("status", string(violation.StatusPendingReview)))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	records, err := h.violationService.ListByStatus(c.Request.Context(), status)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list violations")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	if records == nil {
		records = []*store.Record{}
	}

	c.JSON(http.StatusOK, gin.H{
		"violations": records,
	})
}

func (h *Handler) reviewViolation(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Param("event_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid event_id"))
		return
	}
	reviewStatus := c.PostForm("review_status")

	rec, err := h.violationService.Review(c.Request.Context(), eventID, reviewStatus)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"updated_event": rec,
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

// detailResponse matches the submission wire contract's error body.
func detailResponse(message string) gin.H {
	return gin.H{
		"detail": message,
	}
}
