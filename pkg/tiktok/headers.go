package tiktok

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"strconv"
)

// UserAgents are desktop browser identities a crawler picks from.
var UserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
}

// RandomUserAgent returns one of UserAgents.
func RandomUserAgent() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(UserAgents))))
	if err != nil {
		return UserAgents[0]
	}
	return UserAgents[n.Int64()]
}

// DefaultHeaders returns the headers a browser sends with API calls.
func DefaultHeaders(userAgent string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Origin", "https://www.tiktok.com")
	h.Set("Referer", "https://www.tiktok.com/")
	h.Set("Sec-Ch-Ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("User-Agent", userAgent)
	return h
}

// NewDeviceID returns a random 19-digit web device id.
func NewDeviceID() string {
	// 7 followed by 18 random digits
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "7380187414842836523"
	}
	s := n.String()
	for len(s) < 18 {
		s = "0" + s
	}
	return "7" + s
}

// webIDLastTime formats a unix timestamp for the WebIdLastTime parameter.
func webIDLastTime(unix int64) string {
	return strconv.FormatInt(unix, 10)
}
