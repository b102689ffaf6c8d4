package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sparchive/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Service defines the interface for an authenticated music service provider.
type Service interface {
	// Authenticate installs credentials on the service.
	// Returns an error if no usable token can be derived from them.
	Authenticate(ctx context.Context, credentials map[string]string) error

	// Name returns the name of the service (e.g., "Spotify")
	Name() string
}

// OAuthService extends [Service] with the authorization code flow.
type OAuthService interface {
	Service

	// AuthURL returns the URL the user visits to grant access.
	AuthURL(state string) string

	// Exchange trades an authorization code for a token.
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// Option configures a [SpotifyService].
type Option func(*SpotifyService)

// WithBaseURL points the service at another API root, without a trailing slash.
func WithBaseURL(u string) Option {
	return func(s *SpotifyService) { s.baseURL = u }
}

// WithHTTPClient installs an already authenticated client, bypassing [SpotifyService.Authenticate].
func WithHTTPClient(c *http.Client) Option {
	return func(s *SpotifyService) {
		s.httpClient = c
		s.plainClient = c
	}
}

// WithRateLimit paces outgoing API requests to rps per second. Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(s *SpotifyService) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the logger used for request tracing at debug level.
func WithLogger(l *log.Logger) Option {
	return func(s *SpotifyService) { s.logger = l }
}

// ValidatePage checks a page request before it reaches the network.
func ValidatePage(limit, offset, max int) error {
	if limit <= 0 || limit > max {
		return fmt.Errorf("%w: limit %d not in 1..%d", shared.ErrInvalidParameter, limit, max)
	}
	if offset < 0 {
		return fmt.Errorf("%w: offset %d is negative", shared.ErrInvalidParameter, offset)
	}
	return nil
}
