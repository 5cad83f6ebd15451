// Package token acquires and caches the short-lived credentials the remote
// API expects on every request.
//
// Three tokens are tracked per crawl session:
//
//   - msToken: read from the login-info endpoint's JSON body
//   - ttwid: cookie set by a HEAD request to the web root
//   - odin_tt: cookie set by the QR-code login endpoint
//
// A Cache is owned by one crawler instance. The first Get for a name
// performs the network acquisition; later calls are served from memory
// until Reset. Concurrent first calls for the same name share a single
// acquisition.
//
// Failure policy: msToken rotates with every API response, so a failed
// acquisition degrades to a generated placeholder and the crawl continues
// in best-effort mode. ttwid and odin_tt have no usable substitute and fail
// with ErrTokenUnavailable.
package token
