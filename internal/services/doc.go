// Package services binds the Spotify Web API for the archiver.
//
// # Service Interface
//
// [Service] covers authentication; [OAuthService] adds the authorization code flow used by `sparchive auth`.
//
// # Spotify Implementation
//
// [SpotifyService] authenticates with [spotifyauth] and an [oauth2.Token] from the config file.
// The authenticated client refreshes expired tokens itself.
//
// Page and lookup endpoints return raw JSON items so the archive stores exactly what the API sent:
//   - [SpotifyService.UserPlaylists], [SpotifyService.PlaylistTracks] and [SpotifyService.NextPage] return [models.Page]
//   - [SpotifyService.AudioAnalysis] and [SpotifyService.AudioFeatures] return the documents untouched
//
// Page bounds are checked with [ValidatePage] before any request is made.
//
// # Error Handling
//
//   - [shared.ErrNotAuthenticated] : Authenticate() not called or no usable token
//   - [shared.ErrInvalidParameter] : limit, offset or batch size out of range
//   - [shared.RemoteError] : transport failure, non-2xx status or undecodable body
package services
