package repositories

import (
	"context"

	"github.com/satriahrh/travelbuddy/domain"
)

// TravelCatalog looks up recommendation records by location
type TravelCatalog interface {
	SearchHotels(ctx context.Context, location string, limit int) ([]domain.Hotel, error)
	SearchAttractions(ctx context.Context, location string, limit int) ([]domain.Attraction, error)
	// Locations lists the places the catalog knows about
	Locations() []string
}
