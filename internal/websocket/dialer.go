package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/domain/repositories"
)

// VoicePath is the duplex endpoint served by the backend
const VoicePath = "/ws/voice"

// Dialer opens /ws/voice connections against a backend base URL
type Dialer struct {
	endpoint *url.URL
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

// NewDialer creates a dialer for baseURL. http and https base URLs are
// mapped to ws and wss.
func NewDialer(baseURL string, logger *zap.Logger) (*Dialer, error) {
	endpoint, err := VoiceURL(baseURL)
	if err != nil {
		return nil, err
	}

	return &Dialer{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		logger: logger,
	}, nil
}

// VoiceURL resolves the /ws/voice endpoint for a backend base URL
func VoiceURL(baseURL string) (*url.URL, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", baseURL)
	}

	u.Path = strings.TrimRight(u.Path, "/") + VoicePath
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// Dial opens a voice channel for userID. The caller bounds the handshake
// through ctx; a deadline surfaces as a TransportError wrapping
// domain.ErrTimeout.
func (d *Dialer) Dial(ctx context.Context, userID string) (repositories.VoiceChannel, error) {
	u := *d.endpoint
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	target := u.String()

	ws, resp, err := d.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		} else if resp != nil {
			err = fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, &domain.TransportError{Op: "dial", URL: target, Err: err}
	}

	d.logger.Info("Voice channel opened",
		zap.String("url", target),
		zap.String("userID", userID))

	return newConn(ws, d.logger), nil
}
