package playback

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/hajimehoshi/oto/v2"
	"go.uber.org/zap"

	"github.com/Aliisa-yt/twitchbot/internal/audio"
)

// Device plays decoded audio through the system output via oto. The oto
// context can be created only once per process, so the first stream fixes
// the device rate and later streams are resampled to it.
type Device struct {
	logger *zap.Logger

	mu     sync.Mutex
	otoCtx *oto.Context
	rate   int
}

func NewDevice(logger *zap.Logger) *Device {
	return &Device{logger: logger}
}

func (d *Device) Play(ctx context.Context, path string, gain int) error {
	pcm, rate, err := decodeFile(path)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		d.logger.Debug("empty audio stream", zap.String("path", path))
		return nil
	}
	scaleGain(pcm, gain)

	otoCtx, deviceRate, err := d.context(rate)
	if err != nil {
		return err
	}
	if rate != deviceRate {
		d.logger.Debug("resampling to device rate",
			zap.Int("from", rate), zap.Int("to", deviceRate))
		pcm = resampleStereo16(pcm, rate, deviceRate)
	}

	player := otoCtx.NewPlayer(bytes.NewReader(pcm))
	player.Play()

	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return player.Close()
}

func (d *Device) context(rate int) (*oto.Context, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.otoCtx != nil {
		return d.otoCtx, d.rate, nil
	}
	otoCtx, ready, err := oto.NewContext(rate, 2, 2)
	if err != nil {
		return nil, 0, fmt.Errorf("audio device: %w", err)
	}
	<-ready
	d.otoCtx = otoCtx
	d.rate = rate
	d.logger.Info("audio device opened", zap.Int("rate", rate))
	return otoCtx, rate, nil
}

// decodeFile loads an artifact as 16-bit stereo PCM plus its sample rate.
func decodeFile(path string) ([]byte, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(path)
	case ".mp3":
		return decodeMP3(path)
	default:
		return nil, 0, fmt.Errorf("unsupported audio file %q", filepath.Base(path))
	}
}

func decodeWAV(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	info, pcmReader, err := audio.OpenWAV(bufio.NewReader(f))
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("decode %s: %d-bit wav not supported", filepath.Base(path), info.BitsPerSample)
	}
	pcm, err := io.ReadAll(pcmReader)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	switch info.Channels {
	case 1:
		return upmixMono(pcm), info.SampleRate, nil
	case 2:
		return pcm, info.SampleRate, nil
	default:
		return nil, 0, fmt.Errorf("decode %s: %d channels not supported", filepath.Base(path), info.Channels)
	}
}

func decodeMP3(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	// go-mp3 always yields 16-bit stereo at the stream's rate.
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return pcm, dec.SampleRate(), nil
}
