package api

import "github.com/satriahrh/travelbuddy/domain"

// HealthResponse is returned by /health
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Connections int    `json:"connections"`
	Timestamp   string `json:"timestamp"`
}

// HotelsResponse is returned by /api/hotels/search
type HotelsResponse struct {
	Location string         `json:"location"`
	Hotels   []domain.Hotel `json:"hotels"`
}

// AttractionsResponse is returned by /api/attractions/search
type AttractionsResponse struct {
	Location    string              `json:"location"`
	Attractions []domain.Attraction `json:"attractions"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
