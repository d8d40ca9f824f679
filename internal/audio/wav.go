package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// Info describes the PCM stream inside a WAV container.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int
}

// Duration is the play time of the data chunk.
func (i Info) Duration() time.Duration {
	bytesPerSecond := i.SampleRate * i.Channels * i.BitsPerSample / 8
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(i.DataBytes) / float64(bytesPerSecond) * float64(time.Second))
}

// OpenWAV parses the container header and returns the stream info plus a
// reader positioned at the first PCM byte, limited to the data chunk.
func OpenWAV(r io.Reader) (Info, io.Reader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Info{}, nil, ErrNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Info{}, nil, ErrNotWAV
	}

	var info Info
	sawFmt := false
	for {
		var header [8]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return Info{}, nil, fmt.Errorf("wav chunk header: %w", err)
		}
		id := string(header[0:4])
		size := binary.LittleEndian.Uint32(header[4:8])

		switch id {
		case "fmt ":
			var f struct {
				AudioFormat   uint16
				Channels      uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if size < 16 {
				return Info{}, nil, errors.New("wav fmt chunk too short")
			}
			if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
				return Info{}, nil, fmt.Errorf("wav fmt chunk: %w", err)
			}
			if f.AudioFormat != 1 {
				return Info{}, nil, fmt.Errorf("unsupported wav encoding %d", f.AudioFormat)
			}
			info.SampleRate = int(f.SampleRate)
			info.Channels = int(f.Channels)
			info.BitsPerSample = int(f.BitsPerSample)
			sawFmt = true
			if err := skipChunk(r, int64(size)-16); err != nil {
				return Info{}, nil, err
			}
		case "data":
			if !sawFmt {
				return Info{}, nil, errors.New("wav data chunk before fmt chunk")
			}
			info.DataBytes = int(size)
			return info, io.LimitReader(r, int64(size)), nil
		default:
			if err := skipChunk(r, int64(size)); err != nil {
				return Info{}, nil, err
			}
		}
	}
}

// skipChunk discards n bytes plus the RIFF word-alignment pad byte.
func skipChunk(r io.Reader, n int64) error {
	if n%2 == 1 {
		n++
	}
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("wav chunk body: %w", err)
	}
	return nil
}

// ProbeFile reports the stream info of a WAV file on disk.
func ProbeFile(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	info, _, err := OpenWAV(bufio.NewReader(f))
	return info, err
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVPCM16LETo(f, pcm, sampleRate)
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 24000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}
