// Package testutil provides an in-process mock of the remote web API, its
// token endpoints and the signing service.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// Paths served by MockAPI.
const (
	PathWeb          = "/"
	PathLoginInfo    = "/passport/web/login/login_info/"
	PathQRCode       = "/aweme/v1/web/login/qrcode/"
	PathCommentList  = "/api/comment/list/"
	PathCommentReply = "/api/comment/list/reply/"
	PathSign         = "/v1/xbogus"
)

// Token values handed out by MockAPI.
const (
	MockMsToken = "mock-ms-token"
	MockTTWid   = "mock-ttwid"
	MockOdinTT  = "mock-odin-tt"
	MockXBogus  = "DFSzswVOmock"
)

// MockUser mirrors the author object of the API.
type MockUser struct {
	Nickname string `json:"nickname"`
	UID      string `json:"uid"`
	UniqueID string `json:"unique_id"`
}

// MockComment mirrors a comment object of the API.
type MockComment struct {
	CID               string   `json:"cid"`
	AwemeID           string   `json:"aweme_id"`
	Text              string   `json:"text"`
	CreateTime        int64    `json:"create_time"`
	DiggCount         int      `json:"digg_count"`
	ReplyCommentTotal int      `json:"reply_comment_total"`
	User              MockUser `json:"user"`
}

// MockResponse defines a fixed response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock server.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	counts   map[string]int

	comments    map[string][]MockComment
	replies     map[string][]MockComment
	failReplies map[string]bool
	pageDelay   time.Duration
	lastHeader  http.Header
}

// NewMockAPI starts a mock server with no comments.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		handlers:    make(map[string]http.HandlerFunc),
		counts:      make(map[string]int),
		comments:    make(map[string][]MockComment),
		replies:     make(map[string][]MockComment),
		failReplies: make(map[string]bool),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.counts[r.URL.Path]++
		m.lastHeader = r.Header.Clone()
		handler, exists := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		m.defaultHandler(w, r)
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// SignURL returns the URL of the mock signing service.
func (m *MockAPI) SignURL() string {
	return m.server.URL + PathSign
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetHandler overrides the handler for a path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// AddComments generates n comments for a video. Comment i has i%4 replies.
// It returns the generated comments.
func (m *MockAPI) AddComments(videoID string, n int) []MockComment {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MockComment, 0, n)
	for i := 0; i < n; i++ {
		cid := fmt.Sprintf("%s-c%03d", videoID, i)
		c := MockComment{
			CID:               cid,
			AwemeID:           videoID,
			Text:              fmt.Sprintf("comment %d", i),
			CreateTime:        1700000000 + int64(i),
			DiggCount:         i * 10,
			ReplyCommentTotal: i % 4,
			User: MockUser{
				Nickname: fmt.Sprintf("user %d", i),
				UID:      strconv.Itoa(6800000000 + i),
				UniqueID: fmt.Sprintf("user_%d", i),
			},
		}
		out = append(out, c)

		replies := make([]MockComment, 0, c.ReplyCommentTotal)
		for j := 0; j < c.ReplyCommentTotal; j++ {
			replies = append(replies, MockComment{
				CID:        fmt.Sprintf("%s-r%d", cid, j),
				AwemeID:    videoID,
				Text:       fmt.Sprintf("reply %d to %d", j, i),
				CreateTime: c.CreateTime + int64(j) + 1,
				User:       MockUser{Nickname: "replier", UID: "1", UniqueID: "replier"},
			})
		}
		m.replies[cid] = replies
	}
	m.comments[videoID] = append(m.comments[videoID], out...)
	return out
}

// FailReplies makes the reply endpoint return 500 for the given comments.
func (m *MockAPI) FailReplies(commentIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range commentIDs {
		m.failReplies[id] = true
	}
}

// SetPageDelay delays every comment and reply page.
func (m *MockAPI) SetPageDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageDelay = d
}

// RequestCount returns the number of requests made to a path.
func (m *MockAPI) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[path]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader.Clone()
}

// ResetCounts clears all request counters.
func (m *MockAPI) ResetCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[string]int)
}

func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case PathWeb:
		http.SetCookie(w, &http.Cookie{Name: "ttwid", Value: MockTTWid, Path: "/"})
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			w.Write([]byte("<html></html>"))
		}
	case PathLoginInfo:
		writeJSON(w, map[string]any{"data": map[string]any{"msToken": MockMsToken}})
	case PathQRCode:
		http.SetCookie(w, &http.Cookie{Name: "odin_tt", Value: MockOdinTT, Path: "/"})
		writeJSON(w, map[string]any{"status_code": 0})
	case PathSign:
		writeJSON(w, map[string]any{"status_code": 0, "X-Bogus": MockXBogus, "params": ""})
	case PathCommentList:
		m.mu.RLock()
		items := m.comments[r.URL.Query().Get("aweme_id")]
		m.mu.RUnlock()
		m.servePage(w, r, items)
	case PathCommentReply:
		id := r.URL.Query().Get("comment_id")
		m.mu.RLock()
		items := m.replies[id]
		fail := m.failReplies[id]
		m.mu.RUnlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("internal error"))
			return
		}
		m.servePage(w, r, items)
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not found"))
	}
}

// servePage answers with one cursor page of items. has_more is sent as 0/1.
func (m *MockAPI) servePage(w http.ResponseWriter, r *http.Request, items []MockComment) {
	q := r.URL.Query()
	if q.Get("X-Bogus") == "" || q.Get("msToken") == "" {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("unsigned request"))
		return
	}

	m.mu.RLock()
	delay := m.pageDelay
	m.mu.RUnlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	offset, _ := strconv.Atoi(q.Get("cursor"))
	count, err := strconv.Atoi(q.Get("count"))
	if err != nil || count <= 0 {
		count = 20
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + count
	if end > len(items) {
		end = len(items)
	}
	hasMore := 0
	if end < len(items) {
		hasMore = 1
	}

	writeJSON(w, map[string]any{
		"status_code": 0,
		"comments":    items[offset:end],
		"cursor":      end,
		"has_more":    hasMore,
		"total":       len(items),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
