package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFeedURL(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		platform string
		channel  string
		want     string
	}{
		{
			name:     "plain http",
			baseURL:  "http://127.0.0.1:8080",
			platform: "twitch",
			channel:  "alice",
			want:     "ws://127.0.0.1:8080/ws/feed?channel=alice&platform=twitch",
		},
		{
			name:    "https becomes wss",
			baseURL: "https://bot.example.com",
			want:    "wss://bot.example.com/ws/feed",
		},
		{
			name:     "base path preserved",
			baseURL:  "http://host/bot",
			platform: "youtube",
			want:     "ws://host/bot/ws/feed?platform=youtube",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := feedURL(tt.baseURL, tt.platform, tt.channel)
			if err != nil {
				t.Fatalf("feedURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("feedURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFeedURLRejectsOtherSchemes(t *testing.T) {
	if _, err := feedURL("ftp://host", "", ""); err == nil {
		t.Fatal("feedURL() accepted an ftp base URL")
	}
}

func TestLoadEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonl")
	data := `# captured from a stream
{"user_name": "viewer", "text": "hello there"}

{"user_name": "kaede", "text": "こんばんは", "broadcaster": true}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	events, err := loadEvents(path)
	if err != nil {
		t.Fatalf("loadEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].UserName != "viewer" || events[0].Text != "hello there" {
		t.Errorf("events[0] = %+v", events[0])
	}
	if !events[1].Broadcaster {
		t.Errorf("events[1] lost the broadcaster badge: %+v", events[1])
	}
}

func TestLoadEventsRejectsIncompleteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte(`{"text": "no author"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := loadEvents(path); err == nil {
		t.Fatal("loadEvents() accepted an event without user_name")
	}
}

func TestLoadEventsRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	if err := os.WriteFile(path, []byte("# nothing here\n\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := loadEvents(path); err == nil {
		t.Fatal("loadEvents() accepted a file with no events")
	}
}
