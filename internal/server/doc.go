// Package server runs the short-lived local HTTP server of the `auth` command.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
// [Middleware] wraps handlers in reverse order (last added executes first).
// [BasicRouter] registers method-qualified patterns on an [http.ServeMux].
//
// # OAuth Callback Handler
//
// [OAuthHandler] completes the authorization code flow: it checks the state parameter,
// hands the code to an [Exchanger] and delivers exactly one [OAuthResult] on its channel.
// A second callback is rejected.
package server
