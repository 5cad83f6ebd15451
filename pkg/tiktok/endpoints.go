// Package tiktok binds the crawler to the TikTok web API: endpoints, the
// base query parameters a browser sends, default headers, payload models
// and page fetchers for comments and replies.
package tiktok

import "strings"

// DefaultBaseURL is the production web host.
const DefaultBaseURL = "https://www.tiktok.com"

// Endpoints holds the remote URLs used by a crawler.
type Endpoints struct {
	Web          string
	LoginInfo    string
	QRCode       string
	CommentList  string
	CommentReply string
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return EndpointsFor(DefaultBaseURL)
}

// EndpointsFor builds the endpoint set for another host, e.g. a proxy or
// a test server.
func EndpointsFor(base string) Endpoints {
	base = strings.TrimRight(base, "/")
	return Endpoints{
		Web:          base + "/",
		LoginInfo:    base + "/passport/web/login/login_info/",
		QRCode:       base + "/aweme/v1/web/login/qrcode/",
		CommentList:  base + "/api/comment/list/",
		CommentReply: base + "/api/comment/list/reply/",
	}
}
