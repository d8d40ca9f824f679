package audio

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEncodeThenOpen(t *testing.T) {
	pcm := make([]byte, 24000*2) // one second of mono 16-bit at 24 kHz
	data, err := EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	info, body, err := OpenWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenWAV() error = %v", err)
	}
	if info.SampleRate != 24000 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Fatalf("OpenWAV() info = %+v", info)
	}
	if info.DataBytes != len(pcm) {
		t.Fatalf("DataBytes = %d, want %d", info.DataBytes, len(pcm))
	}
	if got := info.Duration(); got != time.Second {
		t.Fatalf("Duration() = %v, want 1s", got)
	}
	read, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading pcm body: %v", err)
	}
	if len(read) != len(pcm) {
		t.Fatalf("pcm body length = %d, want %d", len(read), len(pcm))
	}
}

func TestOpenWAVSkipsExtraChunks(t *testing.T) {
	data, err := EncodeWAVPCM16LE(make([]byte, 100), 8000)
	if err != nil {
		t.Fatal(err)
	}
	// Splice a LIST chunk between the fmt and data chunks; parsers must
	// walk past chunks they do not know.
	var buf bytes.Buffer
	buf.Write(data[:36])
	buf.WriteString("LIST")
	buf.Write([]byte{4, 0, 0, 0})
	buf.WriteString("INFO")
	buf.Write(data[36:])
	riffSize := buf.Len() - 8
	out := buf.Bytes()
	out[4] = byte(riffSize)
	out[5] = byte(riffSize >> 8)

	info, _, err := OpenWAV(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("OpenWAV() error = %v", err)
	}
	if info.DataBytes != 100 {
		t.Fatalf("DataBytes = %d, want 100", info.DataBytes)
	}
}

func TestOpenWAVRejectsOtherFormats(t *testing.T) {
	if _, _, err := OpenWAV(bytes.NewReader([]byte("ID3\x03rest of an mp3 file goes here"))); err == nil {
		t.Fatal("OpenWAV(mp3 bytes) error = nil, want ErrNotWAV")
	}
	if _, _, err := OpenWAV(bytes.NewReader(nil)); err == nil {
		t.Fatal("OpenWAV(empty) error = nil, want error")
	}
}

func TestProbeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.wav")
	if err := WriteWAVPCM16LEFile(path, make([]byte, 48000), 48000); err != nil {
		t.Fatalf("WriteWAVPCM16LEFile() error = %v", err)
	}
	info, err := ProbeFile(path)
	if err != nil {
		t.Fatalf("ProbeFile() error = %v", err)
	}
	if info.Duration() != 500*time.Millisecond {
		t.Fatalf("Duration() = %v, want 500ms", info.Duration())
	}

	if _, err := ProbeFile(filepath.Join(t.TempDir(), "absent.wav")); !os.IsNotExist(err) {
		t.Fatalf("ProbeFile(absent) error = %v, want not-exist", err)
	}
}
