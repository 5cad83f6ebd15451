package tiktok

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Cursor is the opaque position returned by the API. The API sends it as
// a number or a string; the raw text is kept either way.
type Cursor string

// UnmarshalJSON accepts a JSON number, string or null.
func (c *Cursor) UnmarshalJSON(b []byte) error {
	s, err := flexString(b)
	if err != nil {
		return fmt.Errorf("cursor: %w", err)
	}
	*c = Cursor(s)
	return nil
}

// ID is an identifier sent either as a string or a number.
type ID string

// UnmarshalJSON accepts a JSON number, string or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	s, err := flexString(b)
	if err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(s)
	return nil
}

// Flag is a boolean the API sends as true/false or 0/1.
type Flag bool

// UnmarshalJSON accepts booleans, numbers and their string forms.
func (f *Flag) UnmarshalJSON(b []byte) error {
	s, err := flexString(b)
	if err != nil {
		return fmt.Errorf("flag: %w", err)
	}
	switch s {
	case "", "0", "false":
		*f = false
	case "1", "true":
		*f = true
	default:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("flag: unexpected value %q", s)
		}
		*f = n != 0
	}
	return nil
}

func flexString(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return string(b), nil
}

// User is the comment author.
type User struct {
	Nickname string `json:"nickname"`
	UID      ID     `json:"uid"`
	UniqueID string `json:"unique_id"`
}

// Comment is a top-level comment or a reply.
type Comment struct {
	CID               ID     `json:"cid"`
	AwemeID           ID     `json:"aweme_id"`
	Text              string `json:"text"`
	CreateTime        int64  `json:"create_time"`
	DiggCount         int    `json:"digg_count"`
	ReplyCommentTotal int    `json:"reply_comment_total"`
	ReplyID           ID     `json:"reply_id"`
	User              User   `json:"user"`
}

// Page is one comment or reply list response.
type Page struct {
	StatusCode int       `json:"status_code"`
	StatusMsg  string    `json:"status_msg"`
	Comments   []Comment `json:"comments"`
	Cursor     Cursor    `json:"cursor"`
	HasMore    Flag      `json:"has_more"`
	Total      int       `json:"total"`
}
