package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cogniscribe/api/internal/middleware"
	"github.com/cogniscribe/api/internal/service"
	"github.com/cogniscribe/api/pkg/response"
)

type StatsHandler struct {
	service *service.PipelineService
}

func NewStatsHandler(svc *service.PipelineService) *StatsHandler {
	return &StatsHandler{service: svc}
}

// Stats handles GET /api/stats
func (h *StatsHandler) Stats(c *fiber.Ctx) error {
	clientID := middleware.GetUserID(c)
	if clientID == "" {
		clientID = c.IP()
	}

	result, err := h.service.Stats(c.Context(), clientID)
	if err != nil {
		return mapError(c, err)
	}

	return response.OK(c, result)
}
