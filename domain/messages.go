package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ChatRequest is the body of a one-shot text exchange (POST /api/chat)
type ChatRequest struct {
	Message   string                 `json:"message"`
	UserID    string                 `json:"user_id"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Language  string                 `json:"language,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
}

// ChatResponse is a structured assistant reply. The same shape is carried in
// the data field of voice "response" and "chat_response" messages.
type ChatResponse struct {
	Message         string           `json:"message"`
	Intent          string           `json:"intent,omitempty"`
	Recommendations *Recommendations `json:"recommendations,omitempty"`
	Suggestions     []string         `json:"suggestions,omitempty"`
	Status          *ReplyStatus     `json:"status,omitempty"`
	Timestamp       string           `json:"timestamp,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
}

// HasRecommendations reports whether the reply carries anything to display
// besides its message.
func (r ChatResponse) HasRecommendations() bool {
	return r.Recommendations != nil && !r.Recommendations.IsEmpty()
}

// Recommendations groups hotel and attraction records
type Recommendations struct {
	Hotels       []Hotel       `json:"hotels,omitempty"`
	Attractions  []Attraction  `json:"attractions,omitempty"`
	QuickActions []QuickAction `json:"quick_actions,omitempty"`
}

// IsEmpty reports whether no group has any records
func (r *Recommendations) IsEmpty() bool {
	return r == nil || (len(r.Hotels) == 0 && len(r.Attractions) == 0 && len(r.QuickActions) == 0)
}

// Hotel is a single hotel recommendation
type Hotel struct {
	Name      string   `json:"name"`
	Location  string   `json:"location,omitempty"`
	Price     Price    `json:"price,omitempty"`
	Rating    float64  `json:"rating,omitempty"`
	Amenities []string `json:"amenities,omitempty"`
}

// Attraction is a single attraction recommendation
type Attraction struct {
	Name        string  `json:"name"`
	Location    string  `json:"location,omitempty"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
}

// QuickAction is a follow-up the user can trigger with one tap
type QuickAction struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// ReplyStatus reports how the backend handled a request
type ReplyStatus struct {
	Success    bool   `json:"success"`
	HasResults bool   `json:"has_results"`
	Error      string `json:"error,omitempty"`
}

// Price holds a hotel price as the backend sent it. The backend sends either
// a number or a placeholder string such as "N/A".
type Price string

// UnmarshalJSON accepts JSON numbers and strings
func (p *Price) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*p = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Price(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = Price(n.String())
	return nil
}

// MarshalJSON writes numeric prices as numbers and everything else as strings
func (p Price) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseFloat(string(p), 64); err == nil && json.Valid([]byte(p)) {
		return []byte(p), nil
	}
	return json.Marshal(string(p))
}
