package handlers

import (
	"net/http"

	"covertext/internal/services"
	"covertext/pkg/models"

	"github.com/labstack/echo/v4"
)

// CronHandler exposes the scheduler-facing dispatch endpoints. Routes are
// protected by the cron shared secret, and each dispatcher claims its own
// daily run so overlapping schedulers cannot double-send.
type CronHandler struct {
	dispatch *services.DispatchService
}

// NewCronHandler creates a new cron handler
func NewCronHandler(dispatch *services.DispatchService) *CronHandler {
	return &CronHandler{dispatch: dispatch}
}

func (h *CronHandler) respond(c echo.Context, run *models.AutomationRun, err error) error {
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if run == nil {
		// Another instance claimed today's run.
		return c.JSON(http.StatusConflict, map[string]string{"status": "already_ran"})
	}
	return c.JSON(http.StatusOK, run)
}

// RunBirthday godoc
// @Summary Run the birthday dispatcher
// @Tags crons
// @Produce json
// @Success 200 {object} models.AutomationRun
// @Failure 409 {object} map[string]string
// @Router /crons/birthday [post]
func (h *CronHandler) RunBirthday(c echo.Context) error {
	run, err := h.dispatch.RunBirthday(c.Request().Context())
	return h.respond(c, run, err)
}

// RunLapse godoc
// @Summary Run the lapse-warning dispatcher
// @Tags crons
// @Produce json
// @Success 200 {object} models.AutomationRun
// @Failure 409 {object} map[string]string
// @Router /crons/lapse [post]
func (h *CronHandler) RunLapse(c echo.Context) error {
	run, err := h.dispatch.RunLapse(c.Request().Context())
	return h.respond(c, run, err)
}

// RunBillingNotice godoc
// @Summary Run the billing-notice dispatcher
// @Tags crons
// @Produce json
// @Success 200 {object} models.AutomationRun
// @Failure 409 {object} map[string]string
// @Router /crons/billing-notice [post]
func (h *CronHandler) RunBillingNotice(c echo.Context) error {
	run, err := h.dispatch.RunBillingNotice(c.Request().Context())
	return h.respond(c, run, err)
}

// RunPolicyPacket godoc
// @Summary Run the policy-packet dispatcher
// @Tags crons
// @Produce json
// @Success 200 {object} models.AutomationRun
// @Failure 409 {object} map[string]string
// @Router /crons/policy-packet [post]
func (h *CronHandler) RunPolicyPacket(c echo.Context) error {
	run, err := h.dispatch.RunPolicyPacket(c.Request().Context())
	return h.respond(c, run, err)
}
