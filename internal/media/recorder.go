package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Medal-OF-Owner/Chatlet/internal/mesh"
)

// Recorder writes every remote VP8 and Opus track into its own file.
type Recorder struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	files []string

	logger zerolog.Logger
}

func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}
	return &Recorder{
		dir:    dir,
		now:    time.Now,
		logger: log.With().Str("component", "recorder").Logger(),
	}, nil
}

// Record blocks until the track ends. It has the signature of
// mesh.Options.OnTrack.
func (r *Recorder) Record(peerID string, t mesh.RemoteTrack) {
	track, ok := t.(*webrtc.TrackRemote)
	if !ok {
		return
	}

	mime := track.Codec().MimeType
	path, w, err := r.open(peerID, mime)
	if err != nil {
		r.logger.Warn().Err(err).Str("peer", peerID).Str("codec", mime).Msg("track not recorded")
		return
	}
	defer w.Close()

	r.logger.Info().Str("peer", peerID).Str("file", path).Msg("recording")
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if err := w.WriteRTP(pkt); err != nil {
			r.logger.Warn().Err(err).Str("file", path).Msg("write failed")
			return
		}
	}
}

// Files lists the recordings started so far.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func (r *Recorder) open(peerID, mime string) (string, pmedia.Writer, error) {
	var (
		ext string
		w   pmedia.Writer
		err error
	)
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		ext = ".ivf"
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		ext = ".ogg"
	default:
		return "", nil, fmt.Errorf("unsupported codec %s", mime)
	}

	// Hold the lock so two tracks starting together cannot pick the same name.
	r.mu.Lock()
	defer r.mu.Unlock()

	path := uniquePath(r.fileName(peerID, mime), ext)
	if ext == ".ivf" {
		w, err = ivfwriter.New(path)
	} else {
		w, err = oggwriter.New(path, opusSampleRate, 2)
	}
	if err != nil {
		return "", nil, err
	}
	r.files = append(r.files, path)
	return path, w, nil
}

// uniquePath appends -1, -2 and so on to base until no file has that name.
func uniquePath(base, ext string) string {
	path := base + ext
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
}

// fileName is the path without extension.
func (r *Recorder) fileName(peerID, mime string) string {
	kind := "video"
	if strings.EqualFold(mime, webrtc.MimeTypeOpus) {
		kind = "audio"
	}
	stamp := r.now().UTC().Format("20060102-150405.000")
	return filepath.Join(r.dir, fmt.Sprintf("%s-%s-%s", sanitize(peerID), kind, stamp))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
