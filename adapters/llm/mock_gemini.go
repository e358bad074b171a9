package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/satriahrh/travelbuddy/domain/repositories"
)

// MockAssistant is a scripted LanguageModel for local runs and tests. Replies
// are matched by the first keyword found in the prompt.
type MockAssistant struct {
	mu      sync.Mutex
	replies []scripted
	prompts []string
	err     error
}

type scripted struct {
	keyword string
	reply   string
}

var _ repositories.LanguageModel = (*MockAssistant)(nil)

// NewMockAssistant creates a mock that answers greetings and weather
// questions and stays silent otherwise
func NewMockAssistant() *MockAssistant {
	return &MockAssistant{replies: []scripted{
		{"greet", "Namaste! I'm TravelBuddy. Ask me about hotels, sights or a trip plan anywhere in Kerala."},
		{"weather", "Kerala is warm and humid most of the year. October to February is the most pleasant time to visit."},
	}}
}

// Script sets the reply for prompts containing keyword. Later scripts win
// over earlier ones.
func (m *MockAssistant) Script(keyword, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append([]scripted{{strings.ToLower(keyword), reply}}, m.replies...)
}

// Fail makes every following call return err
func (m *MockAssistant) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Prompts returns every prompt received so far
func (m *MockAssistant) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Generate implements repositories.LanguageModel
func (m *MockAssistant) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}

	lower := strings.ToLower(prompt)
	for _, r := range m.replies {
		if strings.Contains(lower, r.keyword) {
			return r.reply, nil
		}
	}
	return "", nil
}
