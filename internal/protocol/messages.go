package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Aliisa-yt/twitchbot/internal/transcript"
)

// MessageType identifies feed payload variants.
type MessageType string

const (
	TypeChatEvent  MessageType = "chat_event"
	TypeChatClear  MessageType = "chat_clear"
	TypeFeedReady  MessageType = "feed_ready"
	TypeTranscript MessageType = "transcript"
	TypeErrorEvent MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatEvent is one normalized chat line from the connected platform.
// Badge flags describe the author; the pipeline maps them to a voice
// table role. ParentUser and ParentLang are set when the line replies
// to an earlier message.
type ChatEvent struct {
	Type        MessageType `json:"type"`
	EventID     string      `json:"event_id,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	UserName    string      `json:"user_name"`
	Broadcaster bool        `json:"broadcaster,omitempty"`
	Moderator   bool        `json:"moderator,omitempty"`
	VIP         bool        `json:"vip,omitempty"`
	Subscriber  bool        `json:"subscriber,omitempty"`
	Text        string      `json:"text"`
	ParentUser  string      `json:"parent_user,omitempty"`
	ParentLang  string      `json:"parent_lang,omitempty"`
	TSMs        int64       `json:"ts_ms,omitempty"`
}

// ChatClear reports the platform clearing the chat box. An empty UserID
// clears everything; a set UserID clears that author's lines only.
type ChatClear struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"user_id,omitempty"`
}

// FeedReady is the first message sent on a new feed connection.
type FeedReady struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Platform  string      `json:"platform"`
	Channel   string      `json:"channel"`
}

// TranscriptEvent pushes one pipeline transcript entry to feed subscribers.
type TranscriptEvent struct {
	Type  MessageType      `json:"type"`
	Entry transcript.Entry `json:"entry"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatEvent:
		var msg ChatEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.UserName == "" || msg.Text == "" {
			return nil, errors.New("invalid chat_event")
		}
		return msg, nil
	case TypeChatClear:
		var msg ChatClear
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
