// chatfeed replays chat events into a running bot over the feed
// websocket. It stands in for a platform bridge during development: point
// it at the bot, give it a JSON-lines capture (or use the built-in
// script), and watch the transcript come back.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Aliisa-yt/twitchbot/internal/protocol"
	"github.com/Aliisa-yt/twitchbot/internal/transcript"
)

type options struct {
	baseURL  string
	platform string
	channel  string
	file     string
	delay    time.Duration
	loops    int
	tailWait time.Duration
	verbose  bool
}

// demoScript exercises detection, a forced prefix, badges, and a voice
// tweak without needing a capture file.
var demoScript = []protocol.ChatEvent{
	{UserID: "u-1001", UserName: "night_owl", Text: "hello from berlin, first time here!"},
	{UserID: "u-1002", UserName: "kaede", Text: "みんな来てくれてありがとう", Broadcaster: true},
	{UserID: "u-1003", UserName: "sr_gamer", Text: "es: buenas noches a todos"},
	{UserID: "u-1004", UserName: "mod_ami", Text: "welcome everyone, be nice", Moderator: true},
	{UserID: "u-1005", UserName: "quiet_cat", Text: "gg wp {v80}", Subscriber: true},
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatfeed: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "chatfeed: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var delayMS, tailMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "bot base URL")
	flag.StringVar(&cfg.platform, "platform", "twitch", "platform tag for the feed session")
	flag.StringVar(&cfg.channel, "channel", "", "channel name for the feed session")
	flag.StringVar(&cfg.file, "file", "", "JSON-lines chat events to replay (default: a built-in script)")
	flag.IntVar(&delayMS, "delay-ms", 1500, "delay between chat events in milliseconds")
	flag.IntVar(&cfg.loops, "loops", 1, "number of times to replay the script")
	flag.IntVar(&tailMS, "tail-ms", 3000, "time to keep reading transcript output after the last event in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print transcript lines as they arrive")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.loops <= 0 {
		return options{}, fmt.Errorf("loops must be > 0")
	}
	if delayMS < 0 {
		delayMS = 0
	}
	if tailMS < 0 {
		tailMS = 0
	}
	cfg.delay = time.Duration(delayMS) * time.Millisecond
	cfg.tailWait = time.Duration(tailMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	events := demoScript
	if strings.TrimSpace(cfg.file) != "" {
		loaded, err := loadEvents(cfg.file)
		if err != nil {
			return fmt.Errorf("load %s: %w", cfg.file, err)
		}
		events = loaded
	}

	wsURL, err := feedURL(cfg.baseURL, cfg.platform, cfg.channel)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	var transcriptLines atomic.Int64
	readErrCh := make(chan error, 1)
	go readLoop(conn, &transcriptLines, readErrCh, cfg.verbose)

	start := time.Now()
	sent := 0
	for loop := 0; loop < cfg.loops; loop++ {
		for _, ev := range events {
			select {
			case err := <-readErrCh:
				return fmt.Errorf("ws read: %w", err)
			default:
			}

			msg := ev
			msg.Type = protocol.TypeChatEvent
			msg.TSMs = time.Now().UnixMilli()
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("send event %d: %w", sent+1, err)
			}
			sent++
			if cfg.delay > 0 {
				time.Sleep(cfg.delay)
			}
		}
	}

	// Synthesis and playback trail the last send; keep draining the
	// transcript before reporting.
	if cfg.tailWait > 0 {
		time.Sleep(cfg.tailWait)
	}

	fmt.Printf("chatfeed: sent %d events, received %d transcript lines in %s\n",
		sent, transcriptLines.Load(), time.Since(start).Round(time.Millisecond))
	return nil
}

func readLoop(conn *websocket.Conn, lines *atomic.Int64, readErrCh chan<- error, verbose bool) {
	for {
		var msg struct {
			Type   string           `json:"type"`
			Entry  transcript.Entry `json:"entry"`
			Code   string           `json:"code"`
			Detail string           `json:"detail"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		switch msg.Type {
		case string(protocol.TypeFeedReady):
			if verbose {
				fmt.Println("chatfeed: connected")
			}
		case string(protocol.TypeTranscript):
			lines.Add(1)
			if verbose {
				printEntry(msg.Entry)
			}
		case string(protocol.TypeErrorEvent):
			fmt.Fprintf(os.Stderr, "chatfeed: error_event code=%s detail=%s\n", msg.Code, msg.Detail)
		}
	}
}

func printEntry(e transcript.Entry) {
	switch {
	case e.User != "" && e.Lang != "":
		fmt.Printf("  [%s] %s: %s (%s)\n", e.Kind, e.User, e.Text, e.Lang)
	case e.User != "":
		fmt.Printf("  [%s] %s: %s\n", e.Kind, e.User, e.Text)
	default:
		fmt.Printf("  [%s] %s\n", e.Kind, e.Text)
	}
}

// feedURL derives the websocket endpoint from the bot's base URL.
func feedURL(baseURL, platform, channel string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/feed"
	q := u.Query()
	if strings.TrimSpace(platform) != "" {
		q.Set("platform", platform)
	}
	if strings.TrimSpace(channel) != "" {
		q.Set("channel", channel)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// loadEvents reads one chat event per line. Blank lines and lines
// starting with # are skipped.
func loadEvents(path string) ([]protocol.ChatEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []protocol.ChatEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var ev protocol.ChatEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if strings.TrimSpace(ev.UserName) == "" || strings.TrimSpace(ev.Text) == "" {
			return nil, fmt.Errorf("line %d: user_name and text are required", lineNo)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no chat events in file")
	}
	return events, nil
}
