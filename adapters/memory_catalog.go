package adapters

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/satriahrh/travelbuddy/domain"
)

// MemoryCatalog is an in-memory TravelCatalog keyed by lowercase location
type MemoryCatalog struct {
	mu          sync.RWMutex
	hotels      map[string][]domain.Hotel
	attractions map[string][]domain.Attraction
	names       map[string]string // lowercase -> display name
}

// NewMemoryCatalog creates an empty catalog
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		hotels:      make(map[string][]domain.Hotel),
		attractions: make(map[string][]domain.Attraction),
		names:       make(map[string]string),
	}
}

// NewKeralaCatalog creates a catalog seeded with the destinations the
// development backend answers for
func NewKeralaCatalog() *MemoryCatalog {
	c := NewMemoryCatalog()
	for _, h := range keralaHotels {
		c.AddHotel(h)
	}
	for _, a := range keralaAttractions {
		c.AddAttraction(a)
	}
	return c
}

// AddHotel stores a hotel under its location
func (c *MemoryCatalog) AddHotel(h domain.Hotel) error {
	key, err := c.register(h.Location)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.hotels[key] = append(c.hotels[key], h)
	return nil
}

// AddAttraction stores an attraction under its location
func (c *MemoryCatalog) AddAttraction(a domain.Attraction) error {
	key, err := c.register(a.Location)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.attractions[key] = append(c.attractions[key], a)
	return nil
}

// SearchHotels implements repositories.TravelCatalog. Results are ordered by
// rating, best first.
func (c *MemoryCatalog) SearchHotels(ctx context.Context, location string, limit int) ([]domain.Hotel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	found := append([]domain.Hotel(nil), c.hotels[strings.ToLower(location)]...)
	c.mu.RUnlock()

	sort.SliceStable(found, func(i, j int) bool { return found[i].Rating > found[j].Rating })
	return truncate(found, limit), nil
}

// SearchAttractions implements repositories.TravelCatalog
func (c *MemoryCatalog) SearchAttractions(ctx context.Context, location string, limit int) ([]domain.Attraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	found := append([]domain.Attraction(nil), c.attractions[strings.ToLower(location)]...)
	c.mu.RUnlock()

	sort.SliceStable(found, func(i, j int) bool { return found[i].Rating > found[j].Rating })
	return truncate(found, limit), nil
}

// Locations implements repositories.TravelCatalog
func (c *MemoryCatalog) Locations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *MemoryCatalog) register(location string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", errors.New("location is required")
	}
	key := strings.ToLower(location)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.names[key]; !ok {
		c.names[key] = location
	}
	return key, nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

var keralaHotels = []domain.Hotel{
	{Name: "Grand Hyatt Kochi Bolgatty", Location: "Kochi", Price: "14500", Rating: 4.7, Amenities: []string{"pool", "spa", "backwater view"}},
	{Name: "Brunton Boatyard", Location: "Kochi", Price: "11200", Rating: 4.6, Amenities: []string{"heritage", "harbour view"}},
	{Name: "Fort House Hotel", Location: "Kochi", Price: "4800", Rating: 4.2, Amenities: []string{"waterfront", "restaurant"}},
	{Name: "Ginger Kochi", Location: "Kochi", Price: "N/A", Rating: 3.9},
	{Name: "Blanket Hotel and Spa", Location: "Munnar", Price: "12800", Rating: 4.6, Amenities: []string{"waterfall view", "spa"}},
	{Name: "Tea Valley Resort", Location: "Munnar", Price: "5600", Rating: 4.1, Amenities: []string{"plantation walk"}},
	{Name: "Windermere Estate", Location: "Munnar", Price: "9800", Rating: 4.5},
	{Name: "Punnamada Resort", Location: "Alleppey", Price: "8900", Rating: 4.4, Amenities: []string{"lakefront", "ayurveda"}},
	{Name: "Lake Palace Resort", Location: "Alleppey", Price: "7600", Rating: 4.3},
	{Name: "The Leela Kovalam", Location: "Thiruvananthapuram", Price: "16400", Rating: 4.7, Amenities: []string{"beach", "infinity pool"}},
	{Name: "Hycinth Hotel", Location: "Thiruvananthapuram", Price: "5200", Rating: 4.2},
	{Name: "The Raviz Calicut", Location: "Kozhikode", Price: "7400", Rating: 4.4},
	{Name: "Vythiri Village Resort", Location: "Wayanad", Price: "10200", Rating: 4.5, Amenities: []string{"rainforest", "pool"}},
	{Name: "Spice Village", Location: "Thekkady", Price: "13500", Rating: 4.6},
	{Name: "Gateway Varkala", Location: "Varkala", Price: "6900", Rating: 4.1, Amenities: []string{"cliff view"}},
	{Name: "Kumarakom Lake Resort", Location: "Kumarakom", Price: "18900", Rating: 4.8, Amenities: []string{"backwater", "heritage villas"}},
}

var keralaAttractions = []domain.Attraction{
	{Name: "Fort Kochi Beach", Location: "Kochi", Description: "Chinese fishing nets and colonial streets along the harbour", Category: "heritage", Rating: 4.4},
	{Name: "Mattancherry Palace", Location: "Kochi", Description: "Dutch Palace with Kerala murals and royal portraits", Category: "heritage", Rating: 4.3},
	{Name: "Jew Town", Location: "Kochi", Description: "Antique shops, spice markets and the Paradesi Synagogue", Category: "culture", Rating: 4.2},
	{Name: "Eravikulam National Park", Location: "Munnar", Description: "Rolling grasslands and the home of the Nilgiri tahr", Category: "nature", Rating: 4.6},
	{Name: "Tea Museum", Location: "Munnar", Description: "History of tea plantations with live processing demos", Category: "culture", Rating: 4.1},
	{Name: "Mattupetty Dam", Location: "Munnar", Description: "Lake boating framed by tea-covered hills", Category: "nature", Rating: 4.2},
	{Name: "Alleppey Backwaters", Location: "Alleppey", Description: "Houseboat cruises through palm-fringed canals", Category: "nature", Rating: 4.7},
	{Name: "Alappuzha Beach", Location: "Alleppey", Description: "Old pier and lighthouse on a wide sandy beach", Category: "beach", Rating: 4.1},
	{Name: "Padmanabhaswamy Temple", Location: "Thiruvananthapuram", Description: "Dravidian temple famed for its gopuram and treasures", Category: "heritage", Rating: 4.7},
	{Name: "Kovalam Beach", Location: "Thiruvananthapuram", Description: "Crescent beaches with a red and white lighthouse", Category: "beach", Rating: 4.4},
	{Name: "Kappad Beach", Location: "Kozhikode", Description: "Where Vasco da Gama landed in 1498", Category: "heritage", Rating: 4.0},
	{Name: "Edakkal Caves", Location: "Wayanad", Description: "Neolithic petroglyphs inside a rock shelter", Category: "heritage", Rating: 4.5},
	{Name: "Periyar Tiger Reserve", Location: "Thekkady", Description: "Boat safaris past elephants on Periyar lake", Category: "wildlife", Rating: 4.5},
	{Name: "Varkala Cliff", Location: "Varkala", Description: "Laterite cliffs above the Arabian Sea", Category: "beach", Rating: 4.6},
	{Name: "Kumarakom Bird Sanctuary", Location: "Kumarakom", Description: "Migratory birds on the banks of Vembanad lake", Category: "wildlife", Rating: 4.2},
}
