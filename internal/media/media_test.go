package media

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Medal-OF-Owner/Chatlet/internal/mesh"
)

type frame struct {
	ts   uint64
	data []byte
}

// writeIVF writes a minimal IVF file with a 1/30 timebase.
func writeIVF(t *testing.T, path, fourcc string, frames []frame) {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:6], 0)
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], fourcc)
	binary.LittleEndian.PutUint16(header[12:14], 640)
	binary.LittleEndian.PutUint16(header[14:16], 480)
	binary.LittleEndian.PutUint32(header[16:20], 30)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(frames)))

	out := header
	for _, f := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(f.data)))
		binary.LittleEndian.PutUint64(fh[4:12], f.ts)
		out = append(out, fh...)
		out = append(out, f.data...)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestValidateFiles(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "cam.ivf")
	video2 := filepath.Join(dir, "screen.ivf")
	audio := filepath.Join(dir, "mic.ogg")
	empty := filepath.Join(dir, "empty.ivf")
	text := filepath.Join(dir, "notes.txt")
	for _, p := range []string{video, video2, audio, text} {
		os.WriteFile(p, []byte("x"), 0o644)
	}
	os.WriteFile(empty, nil, 0o644)

	tests := []struct {
		name    string
		paths   []string
		want    int
		wantErr string
	}{
		{"video and audio", []string{video, audio}, 2, ""},
		{"missing", []string{filepath.Join(dir, "nope.ivf")}, 0, "does not exist"},
		{"directory", []string{dir}, 0, "is a directory"},
		{"empty", []string{empty}, 0, "file is empty"},
		{"unsupported", []string{text}, 0, "unsupported format"},
		{"two videos", []string{video, video2}, 0, "second video file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			infos, err := ValidateFiles(tt.paths)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(infos) != tt.want {
				t.Fatalf("got %d infos", len(infos))
			}
		})
	}
}

func TestIVFSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ivf")
	writeIVF(t, path, "VP80", []frame{{0, []byte{1}}, {1, []byte{2, 2}}, {3, []byte{3}}})

	src, err := openSource(FileInfo{Path: path, Name: "clip.ivf", Kind: webrtc.RTPCodecTypeVideo})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	tick := time.Second / 30
	for i, want := range []time.Duration{tick, tick, 2 * tick} {
		data, d, err := src.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if d != want || len(data) == 0 {
			t.Fatalf("frame %d: %d bytes, %v, want %v", i, len(data), d, want)
		}
	}
	if _, _, err := src.Next(); !isEOF(err) {
		t.Fatalf("after last frame: %v", err)
	}
}

func TestIVFSourceRejectsOtherCodecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ivf")
	writeIVF(t, path, "VP90", []frame{{0, []byte{1}}})

	if _, err := openSource(FileInfo{Path: path, Name: "clip.ivf", Kind: webrtc.RTPCodecTypeVideo}); err == nil {
		t.Fatal("VP9 file accepted")
	}
}

func TestFileStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ivf")
	writeIVF(t, path, "VP80", []frame{{0, []byte{1}}, {1, []byte{2}}})

	s, err := FileStream([]string{path})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Tracks) != 1 || s.Tracks[0].Kind() != webrtc.RTPCodecTypeVideo {
		t.Fatalf("tracks = %v", s.Tracks)
	}
	s.Stop()
	s.Stop()

	if _, err := FileStream([]string{filepath.Join(t.TempDir(), "missing.ivf")}); !errors.Is(err, mesh.ErrMediaAcquisition) {
		t.Fatalf("err = %v", err)
	}
}

func TestReceiveOnly(t *testing.T) {
	if s := ReceiveOnly(); len(s.Tracks) != 0 {
		t.Fatalf("receive-only stream has %d tracks", len(s.Tracks))
	}
}

func TestRecorderFileName(t *testing.T) {
	r, err := NewRecorder(filepath.Join(t.TempDir(), "rec"))
	if err != nil {
		t.Fatal(err)
	}
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	got := filepath.Base(r.fileName("peer/../x", webrtc.MimeTypeOpus))
	if got != "peer____x-audio-20260102-030405.000" {
		t.Fatalf("file name = %s", got)
	}

	if _, _, err := r.open("p", "video/H264"); err == nil {
		t.Fatal("H264 accepted")
	}
	path, w, err := r.open("p", webrtc.MimeTypeVP8)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	if !strings.HasSuffix(path, ".ivf") || len(r.Files()) != 1 {
		t.Fatalf("path = %s, files = %v", path, r.Files())
	}

	// Same peer, kind and clock: the second file must not clobber the first.
	again, w, err := r.open("p", webrtc.MimeTypeVP8)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	if again != strings.TrimSuffix(path, ".ivf")+"-1.ivf" {
		t.Fatalf("second path = %s", again)
	}
}
