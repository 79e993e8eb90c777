package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusSampleRate = 48000

// source yields encoded frames with the time each should be shown for.
type source interface {
	Next() ([]byte, time.Duration, error)
	Close() error
}

type ivfSource struct {
	f        *os.File
	r        *ivfreader.IVFReader
	timebase time.Duration
	lastTS   uint64
}

type oggSource struct {
	f           *os.File
	r           *oggreader.OggReader
	lastGranule uint64
}

// codecFor returns the capability of the track that carries info.
func codecFor(info FileInfo) webrtc.RTPCodecCapability {
	if info.Kind == webrtc.RTPCodecTypeAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func openSource(info FileInfo) (source, error) {
	f, err := os.Open(info.Path)
	if err != nil {
		return nil, err
	}

	if info.Kind == webrtc.RTPCodecTypeAudio {
		r, _, err := oggreader.NewWith(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", info.Name, err)
		}
		return &oggSource{f: f, r: r}, nil
	}

	r, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", info.Name, err)
	}
	if header.FourCC != "VP80" {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported codec %q, only VP8 is streamed", info.Name, header.FourCC)
	}
	if header.TimebaseDenominator == 0 {
		f.Close()
		return nil, fmt.Errorf("%s: invalid timebase", info.Name)
	}
	timebase := time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
	return &ivfSource{f: f, r: r, timebase: timebase}, nil
}

func (s *ivfSource) Next() ([]byte, time.Duration, error) {
	frame, fh, err := s.r.ParseNextFrame()
	if err != nil {
		return nil, 0, err
	}
	d := s.timebase
	if fh.Timestamp > s.lastTS {
		d = time.Duration(fh.Timestamp-s.lastTS) * s.timebase
	}
	s.lastTS = fh.Timestamp
	return frame, d, nil
}

func (s *ivfSource) Close() error { return s.f.Close() }

func (s *oggSource) Next() ([]byte, time.Duration, error) {
	for {
		page, ph, err := s.r.ParseNextPage()
		if err != nil {
			return nil, 0, err
		}
		// Header pages carry no audio.
		if ph.GranulePosition == 0 {
			continue
		}
		samples := ph.GranulePosition - s.lastGranule
		s.lastGranule = ph.GranulePosition
		return page, time.Duration(samples) * time.Second / opusSampleRate, nil
	}
}

func (s *oggSource) Close() error { return s.f.Close() }

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
