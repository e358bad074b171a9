package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/domain/repositories"
)

// Intents recognised by ChatService
const (
	IntentHotelSearch      = "hotel_search"
	IntentAttractionSearch = "attraction_search"
	IntentItinerary        = "itinerary_planning"
	IntentBooking          = "booking"
	IntentPriceInquiry     = "price_inquiry"
	IntentGeneralInfo      = "general_info"
	IntentGreeting         = "greeting"
	IntentOther            = "other"
	IntentError            = "error"
)

const (
	// DefaultLocation is used when a message names no known place
	DefaultLocation = "Kochi"

	// FallbackMessage is returned when a reply cannot be produced
	FallbackMessage = "Oops! I ran into a problem processing that. Could you try rephrasing?"

	defaultBudget  = 10000
	defaultDays    = 3
	maxResults     = 3
	generateWindow = 20 * time.Second
)

// intentKeywords is checked in order; the first group with a match wins
var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{IntentHotelSearch, []string{"hotel", "stay", "resort"}},
	{IntentAttractionSearch, []string{"attraction", "visit", "see"}},
	{IntentItinerary, []string{"itinerary", "plan", "trip", "days"}},
	{IntentBooking, []string{"book", "reserve", "booking"}},
	{IntentPriceInquiry, []string{"price", "cost", "budget"}},
	{IntentGeneralInfo, []string{"weather", "climate"}},
	{IntentGreeting, []string{"hi", "hello", "hey", "greetings"}},
}

var (
	daysPattern   = regexp.MustCompile(`(\d+)\s*-?\s*(?:days?|nights?)`)
	budgetPattern = regexp.MustCompile(`(?:₹|rs\.?|inr|budget|under)\s*:?\s*(\d[\d,]*)`)
)

var defaultQuickActions = []domain.QuickAction{
	{Label: "Search for hotels", Action: "search_hotels"},
	{Label: "Find tourist attractions", Action: "find_attractions"},
	{Label: "Plan an itinerary", Action: "plan_itinerary"},
	{Label: "Check weather", Action: "check_weather"},
}

// ChatService answers travel questions from the catalog, optionally phrasing
// free-form replies with a language model
type ChatService struct {
	catalog repositories.TravelCatalog
	llm     repositories.LanguageModel
	logger  *zap.Logger
}

// NewChatService creates a new chat service. llm may be nil.
func NewChatService(catalog repositories.TravelCatalog, llm repositories.LanguageModel, logger *zap.Logger) *ChatService {
	return &ChatService{catalog: catalog, llm: llm, logger: logger}
}

// Reply answers one message. It always returns a response with a non-empty
// message; the error is only set when the reply is the generic fallback.
func (s *ChatService) Reply(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return s.fallback(req, errors.New("message is required"))
	}

	intent := ClassifyIntent(message)
	location := s.ExtractLocation(message)

	s.logger.Info("Classified chat message",
		zap.String("userID", req.UserID),
		zap.String("intent", intent),
		zap.String("location", location))

	var (
		resp domain.ChatResponse
		err  error
	)
	switch intent {
	case IntentHotelSearch:
		resp, err = s.hotelSearch(ctx, location)
	case IntentAttractionSearch:
		resp, err = s.attractionSearch(ctx, location)
	case IntentItinerary:
		resp, err = s.itinerary(ctx, message, location)
	case IntentPriceInquiry:
		resp, err = s.priceInquiry(ctx, message, location)
	case IntentBooking:
		resp = s.booking(ctx, message)
	case IntentGeneralInfo:
		resp = s.generalInfo(ctx, message, location)
	case IntentGreeting:
		resp = s.greeting(ctx, message)
	default:
		resp = s.generalQuery(ctx, message)
	}
	if err != nil {
		return s.fallback(req, err)
	}

	resp.Intent = intent
	resp.Timestamp = time.Now().Format(time.RFC3339)
	resp.SessionID = req.SessionID
	resp.Status = &domain.ReplyStatus{Success: true, HasResults: resp.HasRecommendations()}
	return resp, nil
}

// ClassifyIntent maps a message onto an intent by keyword
func ClassifyIntent(message string) string {
	msg := strings.ToLower(message)
	for _, group := range intentKeywords {
		for _, keyword := range group.keywords {
			if strings.Contains(msg, keyword) {
				return group.intent
			}
		}
	}
	return IntentOther
}

// ExtractLocation returns the first catalog location named in message, or
// DefaultLocation
func (s *ChatService) ExtractLocation(message string) string {
	msg := strings.ToLower(message)
	for _, location := range s.catalog.Locations() {
		if strings.Contains(msg, strings.ToLower(location)) {
			return location
		}
	}
	return DefaultLocation
}

// ParseDays reads a trip length such as "5 days" or "2-night", defaulting to three
func ParseDays(message string) int {
	m := daysPattern.FindStringSubmatch(strings.ToLower(message))
	if m == nil {
		return defaultDays
	}
	days, err := strconv.Atoi(m[1])
	if err != nil || days <= 0 {
		return defaultDays
	}
	return days
}

// ParseBudget reads an amount such as "₹8000" or "budget 6,500", defaulting to 10000
func ParseBudget(message string) int {
	m := budgetPattern.FindStringSubmatch(strings.ToLower(message))
	if m == nil {
		return defaultBudget
	}
	budget, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || budget <= 0 {
		return defaultBudget
	}
	return budget
}

func (s *ChatService) hotelSearch(ctx context.Context, location string) (domain.ChatResponse, error) {
	hotels, err := s.catalog.SearchHotels(ctx, location, maxResults)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("search hotels: %w", err)
	}
	if len(hotels) == 0 {
		return domain.ChatResponse{Message: fmt.Sprintf("Couldn't find any hotels in %s.", location)}, nil
	}

	return domain.ChatResponse{
		Message:         fmt.Sprintf("Here are some hotels you might like in %s:", location),
		Recommendations: &domain.Recommendations{Hotels: hotels},
	}, nil
}

func (s *ChatService) attractionSearch(ctx context.Context, location string) (domain.ChatResponse, error) {
	attractions, err := s.catalog.SearchAttractions(ctx, location, maxResults)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("search attractions: %w", err)
	}
	if len(attractions) == 0 {
		return domain.ChatResponse{Message: fmt.Sprintf("Couldn't find attractions in %s.", location)}, nil
	}

	return domain.ChatResponse{
		Message:         fmt.Sprintf("Here are some must-visit attractions in %s:", location),
		Recommendations: &domain.Recommendations{Attractions: attractions},
	}, nil
}

func (s *ChatService) itinerary(ctx context.Context, message, location string) (domain.ChatResponse, error) {
	days := ParseDays(message)
	attractions, err := s.catalog.SearchAttractions(ctx, location, 0)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("search attractions: %w", err)
	}

	plan := make([]string, 0, days)
	for day := 1; day <= days; day++ {
		if len(attractions) == 0 {
			plan = append(plan, fmt.Sprintf("Day %d: explore %s at your own pace", day, location))
			continue
		}
		a := attractions[(day-1)%len(attractions)]
		plan = append(plan, fmt.Sprintf("Day %d: %s (%s)", day, a.Name, a.Description))
	}

	header := fmt.Sprintf("Here's a %d-day itinerary for %s:", days, location)
	prompt := fmt.Sprintf("You are a helpful Kerala travel agent. Write a short, friendly introduction for a %d-day trip to %s covering: %s",
		days, location, strings.Join(plan, "; "))
	intro := s.generate(ctx, prompt, "")
	if intro != "" {
		header = header + "\n" + intro
	}

	return domain.ChatResponse{
		Message:         header,
		Suggestions:     plan,
		Recommendations: &domain.Recommendations{Attractions: truncate(attractions, days)},
	}, nil
}

func (s *ChatService) priceInquiry(ctx context.Context, message, location string) (domain.ChatResponse, error) {
	budget := ParseBudget(message)
	hotels, err := s.catalog.SearchHotels(ctx, location, 0)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("search hotels: %w", err)
	}

	type priced struct {
		hotel domain.Hotel
		price float64
	}
	var deals []priced
	for _, h := range hotels {
		price, err := strconv.ParseFloat(string(h.Price), 64)
		if err != nil || price > float64(budget) {
			continue
		}
		deals = append(deals, priced{hotel: h, price: price})
	}
	if len(deals) == 0 {
		return domain.ChatResponse{Message: "Couldn't find hotel deals right now."}, nil
	}

	sort.Slice(deals, func(i, j int) bool { return deals[i].price < deals[j].price })
	out := make([]domain.Hotel, 0, maxResults)
	for _, d := range deals {
		out = append(out, d.hotel)
	}

	return domain.ChatResponse{
		Message:         fmt.Sprintf("Here are a few hotels within your ₹%d budget:", budget),
		Recommendations: &domain.Recommendations{Hotels: truncate(out, maxResults)},
	}, nil
}

func (s *ChatService) booking(ctx context.Context, message string) domain.ChatResponse {
	return domain.ChatResponse{
		Message: "I can't complete bookings yet, but I can shortlist hotels for you to reserve directly.",
		Recommendations: &domain.Recommendations{QuickActions: []domain.QuickAction{
			{Label: "Search hotels", Action: "search_hotels"},
			{Label: "Compare prices", Action: "compare_prices"},
		}},
	}
}

func (s *ChatService) generalInfo(ctx context.Context, message, location string) domain.ChatResponse {
	fallback := fmt.Sprintf("%s is tropical: warm and humid most of the year, with monsoon rains from June to September.", location)
	prompt := "You are a Kerala travel assistant. Provide a concise, friendly answer: " + message
	return domain.ChatResponse{Message: s.generate(ctx, prompt, fallback)}
}

func (s *ChatService) greeting(ctx context.Context, message string) domain.ChatResponse {
	fallback := "Hi there! I'm your Kerala travel assistant. I can find hotels, suggest attractions, and plan itineraries for any number of days. How can I help you today?"
	prompt := fmt.Sprintf("You are a friendly Kerala travel assistant. Greet a new guest in 1-2 sentences. User message: %q", message)

	return domain.ChatResponse{
		Message:         s.generate(ctx, prompt, fallback),
		Recommendations: &domain.Recommendations{QuickActions: defaultQuickActions},
	}
}

func (s *ChatService) generalQuery(ctx context.Context, message string) domain.ChatResponse {
	prompt := "You are a helpful Kerala travel assistant. If you can't answer, be honest and offer alternatives (search hotels, create itinerary, check weather).\nUser: " + message
	reply := s.generate(ctx, prompt, "")

	lower := strings.ToLower(reply)
	if reply == "" || strings.Contains(lower, "i don't know") || strings.Contains(lower, "unable") {
		return domain.ChatResponse{
			Message: "I don't have a direct answer for that, but I can help with hotels, attractions, or building an itinerary. What would you like?",
			Recommendations: &domain.Recommendations{QuickActions: []domain.QuickAction{
				{Label: "Search hotels", Action: "search_hotels"},
				{Label: "Create itinerary", Action: "plan_itinerary"},
				{Label: "Check weather", Action: "check_weather"},
			}},
		}
	}
	return domain.ChatResponse{Message: reply}
}

// generate asks the language model, returning fallback when there is none or it fails
func (s *ChatService) generate(ctx context.Context, prompt, fallback string) string {
	if s.llm == nil {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, generateWindow)
	defer cancel()

	reply, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("Language model failed, using fallback", zap.Error(err))
		return fallback
	}
	if reply = strings.TrimSpace(reply); reply == "" {
		return fallback
	}
	return reply
}

func (s *ChatService) fallback(req domain.ChatRequest, err error) (domain.ChatResponse, error) {
	s.logger.Error("Failed to answer chat message",
		zap.String("userID", req.UserID),
		zap.Error(err))

	return domain.ChatResponse{
		Message:   FallbackMessage,
		Intent:    IntentError,
		Timestamp: time.Now().Format(time.RFC3339),
		SessionID: req.SessionID,
		Status:    &domain.ReplyStatus{Success: false, Error: err.Error()},
	}, err
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
