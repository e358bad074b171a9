// Package api wires the development backend's HTTP surface
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/domain/repositories"
	"github.com/satriahrh/travelbuddy/internal/websocket"
	"github.com/satriahrh/travelbuddy/usecase"
)

const maxSearchLimit = 20

// InitRoutes initializes all API routes
func InitRoutes(
	e *echo.Echo,
	hub *websocket.Hub,
	conversation *usecase.ConversationService,
	catalog repositories.TravelCatalog,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:      "healthy",
			Service:     "travelbuddy-devserver",
			Connections: hub.ClientCount(),
			Timestamp:   time.Now().Format(time.RFC3339),
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	apiGroup := e.Group("/api")

	apiGroup.POST("/chat", func(c echo.Context) error {
		return chat(c, conversation, logger)
	})
	apiGroup.GET("/hotels/search", func(c echo.Context) error {
		return searchHotels(c, catalog)
	})
	apiGroup.GET("/attractions/search", func(c echo.Context) error {
		return searchAttractions(c, catalog)
	})

	e.GET(websocket.VoicePath, func(c echo.Context) error {
		return websocket.HandleWebSocket(hub, c)
	})
}

func chat(c echo.Context, conversation *usecase.ConversationService, logger *zap.Logger) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		logger.Warn("Failed to bind chat request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "message is required",
		})
	}

	// The reply carries a displayable fallback even when err is set.
	reply, err := conversation.Chat(c.Request().Context(), req)
	if err != nil {
		logger.Warn("Chat answered with fallback",
			zap.String("userID", req.UserID),
			zap.Error(err))
	}
	return c.JSON(http.StatusOK, reply)
}

func searchHotels(c echo.Context, catalog repositories.TravelCatalog) error {
	location, limit, err := searchParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
	}

	hotels, err := catalog.SearchHotels(c.Request().Context(), location, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "search_failed", Message: err.Error()})
	}
	if hotels == nil {
		hotels = []domain.Hotel{}
	}
	return c.JSON(http.StatusOK, HotelsResponse{Location: location, Hotels: hotels})
}

func searchAttractions(c echo.Context, catalog repositories.TravelCatalog) error {
	location, limit, err := searchParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
	}

	attractions, err := catalog.SearchAttractions(c.Request().Context(), location, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "search_failed", Message: err.Error()})
	}
	if attractions == nil {
		attractions = []domain.Attraction{}
	}
	return c.JSON(http.StatusOK, AttractionsResponse{Location: location, Attractions: attractions})
}

func searchParams(c echo.Context) (string, int, error) {
	location := strings.TrimSpace(c.QueryParam("location"))
	if location == "" {
		location = usecase.DefaultLocation
	}

	limit := 5
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSearchLimit {
			return "", 0, errors.New("limit must be between 1 and 20")
		}
		limit = n
	}
	return location, limit, nil
}
