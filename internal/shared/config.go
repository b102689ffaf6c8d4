package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

const (
	MaxTrackPageSize    = 100
	MaxPlaylistPageSize = 50
	MaxChunkSize        = 100
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Archive     ArchiveConfig     `toml:"archive"`
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// ArchiveConfig controls the harvest: where artifacts live and how requests are sized.
type ArchiveConfig struct {
	DataDir           string  `toml:"data_dir" env:"SPARCHIVE_DATA_DIR"`
	User              string  `toml:"user" env:"SPOTIFY_USER"`
	Force             bool    `toml:"force"`
	ChunkSize         int     `toml:"chunk_size"`
	TrackPageSize     int     `toml:"track_page_size"`
	PlaylistPageSize  int     `toml:"playlist_page_size"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials and the last issued token.
type SpotifyConfig struct {
	ClientID     string    `toml:"client_id" env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string    `toml:"client_secret" env:"SPOTIFY_CLIENT_SECRET"`
	RedirectURI  string    `toml:"redirect_uri" env:"SPOTIFY_REDIRECT_URI"`
	AccessToken  string    `toml:"access_token"`
	RefreshToken string    `toml:"refresh_token"`
	TokenExpiry  time.Time `toml:"token_expiry,omitempty"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains settings for the local OAuth callback server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// MetricsConfig points at an optional Prometheus textfile.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// Map returns the credentials in the shape expected by services.NewSpotifyService.
func (s SpotifyConfig) Map() map[string]string {
	m := map[string]string{
		"client_id":     s.ClientID,
		"client_secret": s.ClientSecret,
		"redirect_uri":  s.RedirectURI,
		"access_token":  s.AccessToken,
		"refresh_token": s.RefreshToken,
	}
	if !s.TokenExpiry.IsZero() {
		m["expiry"] = s.TokenExpiry.Format(time.RFC3339)
	}
	return m
}

// Token returns the stored token, or nil when no access token has been saved.
func (s SpotifyConfig) Token() *oauth2.Token {
	if s.AccessToken == "" && s.RefreshToken == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       s.TokenExpiry,
	}
}

// Update stores a freshly issued token. A refresh that omits the refresh token keeps the old one.
func (s *SpotifyConfig) Update(token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidCredentials)
	}
	s.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		s.RefreshToken = token.RefreshToken
	}
	s.TokenExpiry = token.Expiry
	return nil
}

// Validate checks the archive bounds.
func (c *Config) Validate() error {
	a := c.Archive
	if a.DataDir == "" {
		return fmt.Errorf("%w: archive.data_dir is empty", ErrInvalidConfig)
	}
	if a.ChunkSize <= 0 || a.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: archive.chunk_size %d not in 1..%d", ErrInvalidConfig, a.ChunkSize, MaxChunkSize)
	}
	if a.TrackPageSize <= 0 || a.TrackPageSize > MaxTrackPageSize {
		return fmt.Errorf("%w: archive.track_page_size %d not in 1..%d", ErrInvalidConfig, a.TrackPageSize, MaxTrackPageSize)
	}
	if a.PlaylistPageSize <= 0 || a.PlaylistPageSize > MaxPlaylistPageSize {
		return fmt.Errorf("%w: archive.playlist_page_size %d not in 1..%d", ErrInvalidConfig, a.PlaylistPageSize, MaxPlaylistPageSize)
	}
	if a.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: archive.requests_per_second must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads a TOML configuration file from the specified path and applies environment overrides.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// SaveConfig writes config to path as TOML, replacing the file.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
