package tiktok

import (
	"strconv"

	"github.com/Sternrassler/comment-crawler/pkg/signer"
)

// DefaultRegion is sent as current_region and region.
const DefaultRegion = "US"

// DefaultPageSize is the page size of comment and reply requests.
const DefaultPageSize = 20

// session carries the per-crawler values of the base parameters.
type session struct {
	deviceID  string
	webIDTime string
	region    string
	msToken   string
}

// baseParams returns the parameters a desktop browser sends with every API
// call, in the order it sends them.
func baseParams(s session) *signer.Params {
	p := signer.NewParams()
	p.Set("WebIdLastTime", s.webIDTime)
	p.Set("aid", "1988")
	p.Set("app_language", "en")
	p.Set("app_name", "tiktok_web")
	p.Set("browser_language", "en-US")
	p.Set("browser_name", "Mozilla")
	p.Set("browser_online", "true")
	p.Set("browser_platform", "Win32")
	p.Set("browser_version", "5.0 (Windows)")
	p.Set("channel", "tiktok_web")
	p.Set("cookie_enabled", "true")
	p.Set("device_id", s.deviceID)
	p.Set("odinId", "7404669909585003563")
	p.Set("device_platform", "web_pc")
	p.Set("focus_state", "true")
	p.Set("from_page", "user")
	p.Set("history_len", "4")
	p.Set("is_fullscreen", "false")
	p.Set("is_page_visible", "true")
	p.Set("language", "en")
	p.Set("os", "windows")
	p.Set("priority_region", s.region)
	p.Set("referer", "")
	p.Set("region", s.region)
	p.Set("root_referer", "https://www.tiktok.com/")
	p.Set("screen_height", "1080")
	p.Set("screen_width", "1920")
	p.Set("webcast_language", "en")
	p.Set("tz_name", "America/Tijuana")
	p.Set("msToken", s.msToken)
	return p
}

func commentParams(s session, videoID, cursor string, count int) *signer.Params {
	return baseParams(s).
		Set("aweme_id", videoID).
		Set("count", strconv.Itoa(count)).
		Set("cursor", cursor).
		Set("current_region", s.region)
}

func replyParams(s session, videoID, commentID, cursor string, count int) *signer.Params {
	return baseParams(s).
		Set("item_id", videoID).
		Set("comment_id", commentID).
		Set("count", strconv.Itoa(count)).
		Set("cursor", cursor).
		Set("current_region", s.region)
}
