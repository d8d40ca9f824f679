package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Aliisa-yt/twitchbot/internal/pipeline"
	"github.com/Aliisa-yt/twitchbot/internal/protocol"
	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

const (
	feedOutboundBuffer = 256
	feedHistoryReplay  = 50
	feedReadLimit      = 1 << 20
	feedReadTimeout    = 120 * time.Second
	feedWriteTimeout   = 10 * time.Second
)

// handleFeedWS runs one feed connection: chat events in, transcript
// entries out. The connection owns a session for the lifetime of the
// socket; closing the socket ends the session.
func (s *Server) handleFeedWS(w http.ResponseWriter, r *http.Request) {
	platform := strings.TrimSpace(r.URL.Query().Get("platform"))
	if platform == "" {
		platform = "twitch"
	}
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := s.sessions.Create(platform, channel, r.RemoteAddr)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer func() {
		_, _ = s.sessions.End(sess.ID)
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The ready frame and the history replay both fit the buffer, so
	// these sends never block.
	outbound := make(chan any, feedOutboundBuffer)
	outbound <- protocol.FeedReady{
		Type:      protocol.TypeFeedReady,
		SessionID: sess.ID,
		Platform:  platform,
		Channel:   channel,
	}
	history, live, detach := s.feed.Attach(feedHistoryReplay)
	defer detach()
	for _, entry := range history {
		outbound <- protocol.TranscriptEvent{Type: protocol.TypeTranscript, Entry: entry}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-live:
				if !ok {
					return
				}
				s.pushOutbound(outbound, protocol.TranscriptEvent{Type: protocol.TypeTranscript, Entry: entry})
			}
		}
	}()

	conn.SetReadLimit(feedReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		_ = s.sessions.Touch(sess.ID)
		_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(feedWriteTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.pushOutbound(outbound, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ChatEvent:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeChatEvent)).Inc()
			_ = s.sessions.RecordEvent(sess.ID)
			s.coord.Submit(ctx, feedEvent(msg))
		case protocol.ChatClear:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeChatClear)).Inc()
			s.coord.ClearChat(strings.TrimSpace(msg.UserID))
		}
	}

	cancel()
	<-writerDone
}

// pushOutbound hands a message to the writer goroutine. Websocket writes
// stay single-threaded; when the outbound queue is saturated the message
// is dropped rather than stalling the read loop.
func (s *Server) pushOutbound(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		s.metrics.WSMessages.WithLabelValues("outbound", "dropped").Inc()
	}
}

// feedEvent maps a wire chat event onto the pipeline's form, folding the
// author badges into a voice table role.
func feedEvent(msg protocol.ChatEvent) pipeline.Event {
	ev := pipeline.Event{
		ID:         msg.EventID,
		UserID:     msg.UserID,
		UserName:   msg.UserName,
		Role:       voice.RoleFor(msg.Broadcaster, msg.Moderator, msg.VIP, msg.Subscriber),
		Text:       msg.Text,
		ParentLang: msg.ParentLang,
	}
	if msg.TSMs > 0 {
		ev.At = time.UnixMilli(msg.TSMs)
	}
	return ev
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.FeedReady:
		return m.Type, true
	case protocol.TranscriptEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
