// Spotify API implementation of [Service]
//
// Endpoints based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sparchive/internal/models"
	"github.com/desertthunder/sparchive/internal/shared"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	spotifyBaseURL     = "https://api.spotify.com/v1"
	defaultRedirectURI = "http://127.0.0.1:8080/callback"
)

// SpotifyService implements [OAuthService] for the Spotify Web API.
//
// Responses are returned as raw JSON so the archive stores exactly what the API sent.
// Uses [spotifyauth] for the OAuth2 flow; the authenticated client refreshes expired tokens itself.
type SpotifyService struct {
	auth        *spotifyauth.Authenticator
	token       *oauth2.Token
	httpClient  *http.Client
	plainClient *http.Client
	baseURL     string
	limiter     *rate.Limiter
	logger      *log.Logger
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(credentials map[string]string, opts ...Option) (*SpotifyService, error) {
	clientID := credentials["client_id"]
	if clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret := credentials["client_secret"]
	if clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := credentials["redirect_uri"]
	if redirectURI == "" {
		redirectURI = defaultRedirectURI
	}

	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(redirectURI),
		spotifyauth.WithScopes(
			spotifyauth.ScopePlaylistReadPrivate,
			spotifyauth.ScopePlaylistReadCollaborative,
		),
		spotifyauth.WithClientID(clientID),
		spotifyauth.WithClientSecret(clientSecret),
	)

	s := &SpotifyService{
		auth:        auth,
		plainClient: http.DefaultClient,
		baseURL:     spotifyBaseURL,
		logger:      log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// AuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) AuthURL(state string) string {
	return s.auth.AuthURL(state)
}

// Exchange trades an authorization code from the callback for a token.
func (s *SpotifyService) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	token, err := s.auth.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}
	return token, nil
}

// Authenticate installs a stored token. Expects "access_token" and/or "refresh_token" in credentials.
//
// A token without an access token, or one marked expired by "expiry", is refreshed first so
// [SpotifyService.Token] can hand the fresh one back for saving.
func (s *SpotifyService) Authenticate(ctx context.Context, credentials map[string]string) error {
	token := &oauth2.Token{
		AccessToken:  credentials["access_token"],
		RefreshToken: credentials["refresh_token"],
		TokenType:    "Bearer",
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return fmt.Errorf("%w: missing access_token or refresh_token", shared.ErrMissingCredentials)
	}
	if expiry := credentials["expiry"]; expiry != "" {
		t, err := time.Parse(time.RFC3339, expiry)
		if err != nil {
			return fmt.Errorf("%w: expiry: %v", shared.ErrInvalidCredentials, err)
		}
		token.Expiry = t
	}
	return s.SetToken(ctx, token)
}

// SetToken installs token, refreshing it first when it is no longer valid.
func (s *SpotifyService) SetToken(ctx context.Context, token *oauth2.Token) error {
	if !token.Valid() {
		if token.RefreshToken == "" {
			return fmt.Errorf("%w: token expired and no refresh token stored", shared.ErrNotAuthenticated)
		}
		fresh, err := s.auth.RefreshToken(ctx, token)
		if err != nil {
			return fmt.Errorf("%w: refresh failed: %v", shared.ErrAuthFailed, err)
		}
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = token.RefreshToken
		}
		token = fresh
	}

	s.token = token
	s.httpClient = s.auth.Client(ctx, token)
	return nil
}

// Token returns the token currently in use, nil before authentication.
func (s *SpotifyService) Token() *oauth2.Token {
	return s.token
}

// CurrentUser returns the id of the authenticated user.
func (s *SpotifyService) CurrentUser(ctx context.Context) (string, error) {
	if s.httpClient == nil {
		return "", shared.ErrNotAuthenticated
	}
	if err := s.wait(ctx); err != nil {
		return "", err
	}

	client := spotify.New(s.httpClient, spotify.WithBaseURL(s.baseURL+"/"))
	user, err := client.CurrentUser(ctx)
	if err != nil {
		re := &shared.RemoteError{Endpoint: "/me", Err: err}
		var se spotify.Error
		if errors.As(err, &se) {
			re.Status = se.Status
		}
		return "", re
	}
	return user.ID, nil
}

// UserPlaylists fetches one page of playlists. An empty user lists the authenticated user's playlists.
func (s *SpotifyService) UserPlaylists(ctx context.Context, user string, limit, offset int) (*models.Page, error) {
	if err := ValidatePage(limit, offset, shared.MaxPlaylistPageSize); err != nil {
		return nil, err
	}

	endpoint := "/me/playlists"
	if user != "" {
		endpoint = "/users/" + url.PathEscape(user) + "/playlists"
	}

	var page models.Page
	if err := s.getJSON(ctx, pageQuery(endpoint, limit, offset), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// PlaylistTracks fetches one page of a playlist's entries.
func (s *SpotifyService) PlaylistTracks(ctx context.Context, playlistID string, limit, offset int) (*models.Page, error) {
	if playlistID == "" {
		return nil, fmt.Errorf("%w: empty playlist id", shared.ErrInvalidParameter)
	}
	if err := ValidatePage(limit, offset, shared.MaxTrackPageSize); err != nil {
		return nil, err
	}

	endpoint := "/playlists/" + url.PathEscape(playlistID) + "/tracks"

	var page models.Page
	if err := s.getJSON(ctx, pageQuery(endpoint, limit, offset), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// NextPage follows a next cursor returned by a previous page.
//
// The cursor must point at the configured API root so the bearer token never leaves it.
func (s *SpotifyService) NextPage(ctx context.Context, next string) (*models.Page, error) {
	if !strings.HasPrefix(next, s.baseURL+"/") {
		return nil, fmt.Errorf("%w: cursor %q is outside %s", shared.ErrInvalidParameter, next, s.baseURL)
	}

	var page models.Page
	if err := s.getJSON(ctx, strings.TrimPrefix(next, s.baseURL), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// PlaylistImages lists the cover images of a playlist.
func (s *SpotifyService) PlaylistImages(ctx context.Context, playlistID string) ([]models.Image, error) {
	if playlistID == "" {
		return nil, fmt.Errorf("%w: empty playlist id", shared.ErrInvalidParameter)
	}

	var images []models.Image
	if err := s.getJSON(ctx, "/playlists/"+url.PathEscape(playlistID)+"/images", &images); err != nil {
		return nil, err
	}
	return images, nil
}

// AudioAnalysis fetches the analysis document of a single track.
func (s *SpotifyService) AudioAnalysis(ctx context.Context, trackID string) (json.RawMessage, error) {
	if trackID == "" {
		return nil, fmt.Errorf("%w: empty track id", shared.ErrInvalidParameter)
	}

	var raw json.RawMessage
	if err := s.getJSON(ctx, "/audio-analysis/"+url.PathEscape(trackID), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// AudioFeatures fetches features for up to [shared.MaxChunkSize] tracks in one request.
//
// Unknown ids come back as JSON null at their position.
func (s *SpotifyService) AudioFeatures(ctx context.Context, trackIDs []string) ([]json.RawMessage, error) {
	if len(trackIDs) == 0 || len(trackIDs) > shared.MaxChunkSize {
		return nil, fmt.Errorf("%w: %d ids not in 1..%d", shared.ErrInvalidParameter, len(trackIDs), shared.MaxChunkSize)
	}

	q := url.Values{}
	q.Set("ids", strings.Join(trackIDs, ","))

	var response struct {
		AudioFeatures []json.RawMessage `json:"audio_features"`
	}
	if err := s.getJSON(ctx, "/audio-features?"+q.Encode(), &response); err != nil {
		return nil, err
	}
	return response.AudioFeatures, nil
}

// DownloadImage fetches an image body. Image hosts are public, so no token is sent.
func (s *SpotifyService) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: image url: %v", shared.ErrInvalidParameter, err)
	}

	resp, err := s.plainClient.Do(req)
	if err != nil {
		return nil, &shared.RemoteError{Endpoint: imageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &shared.RemoteError{Endpoint: imageURL, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &shared.RemoteError{Endpoint: imageURL, Status: resp.StatusCode, Err: err}
	}
	return data, nil
}

// getJSON performs one authenticated GET against endpoint (relative to the API root) and decodes the body into out.
func (s *SpotifyService) getJSON(ctx context.Context, endpoint string, out any) error {
	if s.httpClient == nil {
		return fmt.Errorf("%w: call Authenticate first", shared.ErrNotAuthenticated)
	}
	if err := s.wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	s.logger.Debug("GET", "endpoint", endpoint)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &shared.RemoteError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &shared.RemoteError{Endpoint: endpoint, Status: resp.StatusCode, Err: apiMessage(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &shared.RemoteError{Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func (s *SpotifyService) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// apiMessage extracts the message of a Spotify error body, nil when there is none.
func apiMessage(body io.Reader) error {
	var wire struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 1<<16)).Decode(&wire); err != nil || wire.Error.Message == "" {
		return nil
	}
	return errors.New(wire.Error.Message)
}

func pageQuery(endpoint string, limit, offset int) string {
	return fmt.Sprintf("%s?limit=%d&offset=%d", endpoint, limit, offset)
}
