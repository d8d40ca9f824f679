package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/voice"
)

// BouyomiChan application protocol command words.
const (
	bouyomiTalk   uint16 = 0x0001
	bouyomiPause  uint16 = 0x0010
	bouyomiResume uint16 = 0x0020
	bouyomiSkip   uint16 = 0x0030
	bouyomiClear  uint16 = 0x0040
)

const (
	bouyomiDefaultAddr = "127.0.0.1:50001"
	bouyomiTimeout     = 10 * time.Second
)

type BouyomichanConfig struct {
	Addr    string
	Timeout time.Duration
}

// Bouyomichan hands text to a running BouyomiChan application over its
// TCP socket. The application queues and plays the audio itself, so
// Synthesize yields no artifact.
type Bouyomichan struct {
	cfg    BouyomichanConfig
	logger *zap.Logger
}

func NewBouyomichan(logger *zap.Logger, cfg BouyomichanConfig) *Bouyomichan {
	if cfg.Addr == "" {
		cfg.Addr = bouyomiDefaultAddr
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = bouyomiTimeout
	}
	return &Bouyomichan{cfg: cfg, logger: logger}
}

func (b *Bouyomichan) Name() string { return "bouyomichan" }

func (b *Bouyomichan) Synthesize(ctx context.Context, text, _ string, params voice.Params) (*Artifact, error) {
	packet := talkPacket(text, params)
	if err := b.send(ctx, packet); err != nil {
		return nil, err
	}
	b.logger.Debug("text handed to bouyomichan", zap.Int("bytes", len(packet)))
	return nil, nil
}

// Skip tells the application to stop the line it is reading now.
func (b *Bouyomichan) Skip(ctx context.Context) error {
	return b.sendCommand(ctx, bouyomiSkip)
}

// Clear drops every line the application has queued.
func (b *Bouyomichan) Clear(ctx context.Context) error {
	return b.sendCommand(ctx, bouyomiClear)
}

func (b *Bouyomichan) sendCommand(ctx context.Context, command uint16) error {
	packet := make([]byte, 2)
	binary.LittleEndian.PutUint16(packet, command)
	return b.send(ctx, packet)
}

func (b *Bouyomichan) send(ctx context.Context, packet []byte) error {
	dialer := net.Dialer{Timeout: b.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", b.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bouyomichan at %s: %w", b.cfg.Addr, ErrEngineUnavailable)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(b.cfg.Timeout))
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("bouyomichan write: %w", err)
	}
	return nil
}

// talkPacket builds the little-endian talk message. Knob values of -1, and
// knobs left unset, tell the application to use its own configuration.
func talkPacket(text string, params voice.Params) []byte {
	message := []byte(text)
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, bouyomiTalk)
	binary.Write(buf, binary.LittleEndian, clampKnob(params.Speed, 50, 300))
	binary.Write(buf, binary.LittleEndian, clampKnob(params.Tone, 50, 200))
	binary.Write(buf, binary.LittleEndian, clampKnob(params.Volume, 0, 100))
	binary.Write(buf, binary.LittleEndian, bouyomiVoice(params.Cast))
	buf.WriteByte(0) // character code: UTF-8
	binary.Write(buf, binary.LittleEndian, uint32(len(message)))
	buf.Write(message)
	return buf.Bytes()
}

func clampKnob(v *int, lo, hi int) int16 {
	if v == nil || *v == -1 {
		return -1
	}
	n := *v
	if n < lo {
		n = lo
	}
	if n > hi {
		n = hi
	}
	return int16(n)
}

// bouyomiVoice maps the cast string to a voice id; 0 selects the voice
// configured in the application.
func bouyomiVoice(cast string) uint16 {
	id, err := strconv.Atoi(cast)
	if err != nil || id < 0 || id > 65535 {
		return 0
	}
	return uint16(id)
}
