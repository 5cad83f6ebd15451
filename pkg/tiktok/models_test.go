package tiktok

import (
	"encoding/json"
	"testing"
)

func TestPage_FlexibleFields(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		cursor  Cursor
		hasMore Flag
	}{
		{name: "numeric cursor, int flag", body: `{"cursor":20,"has_more":1}`, cursor: "20", hasMore: true},
		{name: "string cursor, bool flag", body: `{"cursor":"abc","has_more":false}`, cursor: "abc", hasMore: false},
		{name: "zero flag", body: `{"cursor":40,"has_more":0}`, cursor: "40", hasMore: false},
		{name: "bool true", body: `{"cursor":"1700000000123","has_more":true}`, cursor: "1700000000123", hasMore: true},
		{name: "null cursor", body: `{"cursor":null,"has_more":null}`, cursor: "", hasMore: false},
		{name: "missing fields", body: `{}`, cursor: "", hasMore: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Page
			if err := json.Unmarshal([]byte(tt.body), &p); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if p.Cursor != tt.cursor {
				t.Errorf("Cursor = %q, want %q", p.Cursor, tt.cursor)
			}
			if p.HasMore != tt.hasMore {
				t.Errorf("HasMore = %v, want %v", p.HasMore, tt.hasMore)
			}
		})
	}
}

func TestFlag_RejectsGarbage(t *testing.T) {
	var f Flag
	if err := json.Unmarshal([]byte(`"maybe"`), &f); err == nil {
		t.Error("expected an error for a non-boolean flag")
	}
}

func TestComment_NumericIDs(t *testing.T) {
	var c Comment
	body := `{"cid":7301234567890123456,"text":"hi","digg_count":3,"user":{"uid":6800000001,"nickname":"n","unique_id":"u"}}`
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if c.CID != "7301234567890123456" {
		t.Errorf("CID = %q", c.CID)
	}
	if c.User.UID != "6800000001" {
		t.Errorf("UID = %q", c.User.UID)
	}
}

func TestNewDeviceID(t *testing.T) {
	id := NewDeviceID()
	if len(id) != 19 || id[0] != '7' {
		t.Errorf("NewDeviceID() = %q, want 19 digits starting with 7", id)
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			t.Fatalf("NewDeviceID() = %q contains non-digit", id)
		}
	}
}

func TestDefaultHeaders(t *testing.T) {
	h := DefaultHeaders("UA/1")
	if h.Get("User-Agent") != "UA/1" {
		t.Errorf("User-Agent = %q", h.Get("User-Agent"))
	}
	if h.Get("Referer") != "https://www.tiktok.com/" {
		t.Errorf("Referer = %q", h.Get("Referer"))
	}
}
