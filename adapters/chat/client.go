// Package chat is the one-shot text channel to the TravelBuddy backend
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/internal/metrics"
)

const (
	// ChatPath is the text channel endpoint, relative to the backend base URL
	ChatPath = "/api/chat"

	// DefaultTimeout bounds a whole exchange, including reading the reply
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps the reply body the client is willing to read
	maxResponseSize = 1 << 20

	// FallbackMessage is shown when the backend could not be reached
	FallbackMessage = "Sorry, I couldn't reach TravelBuddy right now. Please try again in a moment."

	// EmptyReplyMessage replaces a reply that came back without text
	EmptyReplyMessage = "I didn't find anything to say about that. Could you ask another way?"
)

// Client sends one-shot chat requests. It holds no connection state and can
// be used whether or not a voice session is open.
type Client struct {
	endpoint   string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewClient creates a client for the backend at baseURL. A zero timeout
// means DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if m == nil {
		m = metrics.NewNop()
	}

	return &Client{
		endpoint:   baseURL + ChatPath,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    m,
		logger:     logger,
	}, nil
}

// Send posts message on behalf of userID. On failure the returned reply
// still carries a displayable message and the error is a
// *domain.RequestError.
func (c *Client) Send(ctx context.Context, message, userID string) (domain.ChatResponse, error) {
	started := time.Now()
	reply, err := c.send(ctx, domain.ChatRequest{Message: message, UserID: userID})
	c.metrics.ChatRequestDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		c.metrics.ChatRequests.WithLabelValues(outcome(err)).Inc()
		c.logger.Warn("Chat request failed",
			zap.String("userID", userID),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return domain.ChatResponse{
			Message: FallbackMessage,
			Status:  &domain.ReplyStatus{Success: false, Error: err.Error()},
		}, err
	}

	c.metrics.ChatRequests.WithLabelValues("success").Inc()
	if strings.TrimSpace(reply.Message) == "" {
		reply.Message = EmptyReplyMessage
	}

	c.logger.Debug("Chat reply received",
		zap.String("userID", userID),
		zap.String("intent", reply.Intent),
		zap.Bool("hasRecommendations", reply.HasRecommendations()))
	return reply, nil
}

func (c *Client) send(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	var reply domain.ChatResponse

	if strings.TrimSpace(req.Message) == "" {
		return reply, &domain.RequestError{Op: "chat", Err: errors.New("message is empty")}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return reply, &domain.RequestError{Op: "chat", Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return reply, &domain.RequestError{Op: "chat", Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			err = fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return reply, &domain.RequestError{Op: "chat", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if isTimeout(ctx, err) {
			err = fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return reply, &domain.RequestError{Op: "chat", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return reply, &domain.RequestError{Op: "chat", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", snippet(data))}
	}

	if err := json.Unmarshal(data, &reply); err != nil {
		return reply, &domain.RequestError{Op: "chat", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return reply, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcome(err error) string {
	var reqErr *domain.RequestError
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.As(err, &reqErr) && reqErr.StatusCode != 0:
		return "http_error"
	default:
		return "error"
	}
}

func snippet(data []byte) string {
	const max = 200
	s := strings.TrimSpace(string(data))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
