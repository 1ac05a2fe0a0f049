package handlers

import (
	"net/http"

	"covertext/internal/phone"
	"covertext/internal/repo"
	"covertext/internal/services"
	"covertext/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// DealHandler exposes deal records, the attention queue and policy packet
// document uploads.
type DealHandler struct {
	deals   *repo.DealRepository
	storage *services.PacketStorageService
}

// NewDealHandler creates a new deal handler
func NewDealHandler(deals *repo.DealRepository, storage *services.PacketStorageService) *DealHandler {
	return &DealHandler{deals: deals, storage: storage}
}

func agencyAgent(c echo.Context) (agencyID, agentID uuid.UUID, err error) {
	agencyID, ok := c.Get("agency_id").(uuid.UUID)
	if !ok {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "Missing agency context")
	}
	agentID, ok = c.Get("agent_id").(uuid.UUID)
	if !ok {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "Missing agent context")
	}
	return agencyID, agentID, nil
}

// List godoc
// @Summary List deals
// @Description List the current agent's deals, newest first
// @Tags deals
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {array} models.Deal
// @Failure 401 {object} map[string]string
// @Router /deals [get]
func (h *DealHandler) List(c echo.Context) error {
	_, agentID, err := agencyAgent(c)
	if err != nil {
		return err
	}

	limit, offset := pagination(c)
	deals, err := h.deals.ListByAgent(agentID, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list deals"})
	}

	return c.JSON(http.StatusOK, deals)
}

// Create godoc
// @Summary Create a deal
// @Description Create a deal record for the current agent
// @Tags deals
// @Accept json
// @Produce json
// @Param request body models.Deal true "Deal data"
// @Success 201 {object} models.Deal
// @Failure 400 {object} map[string]string
// @Router /deals [post]
func (h *DealHandler) Create(c echo.Context) error {
	agencyID, agentID, err := agencyAgent(c)
	if err != nil {
		return err
	}

	var deal models.Deal
	if err := c.Bind(&deal); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(&deal); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	deal.ID = uuid.Nil
	deal.AgencyID = agencyID
	deal.AgentID = agentID
	deal.ClientPhone = phone.Normalize(deal.ClientPhone)
	deal.NeedsAttention = false
	deal.PacketSentAt = nil

	if err := h.deals.Create(&deal); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create deal"})
	}

	return c.JSON(http.StatusCreated, deal)
}

// GetByID godoc
// @Summary Get a deal
// @Tags deals
// @Produce json
// @Param id path string true "Deal ID"
// @Success 200 {object} models.Deal
// @Failure 404 {object} map[string]string
// @Router /deals/{id} [get]
func (h *DealHandler) GetByID(c echo.Context) error {
	agencyID, _, err := agencyAgent(c)
	if err != nil {
		return err
	}

	dealID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid deal ID"})
	}

	deal, err := h.deals.GetByID(dealID, agencyID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Deal not found"})
	}

	return c.JSON(http.StatusOK, deal)
}

// Update godoc
// @Summary Update a deal
// @Tags deals
// @Accept json
// @Produce json
// @Param id path string true "Deal ID"
// @Param request body models.Deal true "Deal data"
// @Success 200 {object} models.Deal
// @Failure 404 {object} map[string]string
// @Router /deals/{id} [put]
func (h *DealHandler) Update(c echo.Context) error {
	agencyID, _, err := agencyAgent(c)
	if err != nil {
		return err
	}

	dealID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid deal ID"})
	}

	existing, err := h.deals.GetByID(dealID, agencyID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Deal not found"})
	}

	var update models.Deal
	if err := c.Bind(&update); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(&update); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	// Identity and bookkeeping fields are never overwritten by the client.
	update.ID = existing.ID
	update.AgencyID = existing.AgencyID
	update.AgentID = existing.AgentID
	update.CreatedAt = existing.CreatedAt
	update.NeedsAttention = existing.NeedsAttention
	update.AttentionReason = existing.AttentionReason
	update.AttentionAt = existing.AttentionAt
	update.PacketDocumentKeys = existing.PacketDocumentKeys
	update.PacketSentAt = existing.PacketSentAt
	update.ClientPhone = phone.Normalize(update.ClientPhone)

	if err := h.deals.Update(&update); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update deal"})
	}

	return c.JSON(http.StatusOK, update)
}

// ListAttention godoc
// @Summary List deals needing attention
// @Description List deals escalated for human follow-up, newest flag first
// @Tags deals
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {array} models.Deal
// @Failure 401 {object} map[string]string
// @Router /deals/attention [get]
func (h *DealHandler) ListAttention(c echo.Context) error {
	agencyID, _, err := agencyAgent(c)
	if err != nil {
		return err
	}

	limit, offset := pagination(c)
	deals, err := h.deals.ListNeedingAttention(agencyID, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list attention queue"})
	}

	return c.JSON(http.StatusOK, deals)
}

// ClearAttention godoc
// @Summary Clear a deal's attention flag
// @Description Mark an escalated deal as handled
// @Tags deals
// @Produce json
// @Param id path string true "Deal ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /deals/{id}/attention [delete]
func (h *DealHandler) ClearAttention(c echo.Context) error {
	agencyID, _, err := agencyAgent(c)
	if err != nil {
		return err
	}

	dealID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid deal ID"})
	}

	if err := h.deals.ClearAttention(dealID, agencyID); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Deal not found"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Attention flag cleared"})
}

// UploadPacketDocument godoc
// @Summary Upload a policy packet document
// @Description Store a packet document; the nightly dispatcher texts its link
// @Tags deals
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Deal ID"
// @Param file formData file true "Document"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /deals/{id}/packet [post]
func (h *DealHandler) UploadPacketDocument(c echo.Context) error {
	agencyID, _, err := agencyAgent(c)
	if err != nil {
		return err
	}
	if h.storage == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Document storage not configured"})
	}

	dealID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid deal ID"})
	}

	deal, err := h.deals.GetByID(dealID, agencyID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Deal not found"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing file"})
	}

	key, err := h.storage.UploadPacketDocument(fileHeader, agencyID, deal.ID)
	if err != nil {
		log.Error().Err(err).
			Str("deal_id", deal.ID.String()).
			Msg("packet document upload failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Upload failed"})
	}

	if err := h.deals.AppendPacketDocument(deal.ID, agencyID, key); err != nil {
		// Orphaned object; remove it so storage and the deal stay consistent.
		if delErr := h.storage.DeleteDocument(key); delErr != nil {
			log.Error().Err(delErr).Str("key", key).Msg("failed to delete orphaned packet document")
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to record document"})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"key": key,
		"url": h.storage.PublicURL(key),
	})
}
