// Package media produces the local stream offered to peers and records the
// streams received from them.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/Medal-OF-Owner/Chatlet/internal/mesh"
)

// ReceiveOnly is a stream that sends nothing and asks for everything.
func ReceiveOnly() *mesh.LocalStream {
	return mesh.NewLocalStream("receive-only", nil, nil)
}

// FileStream plays the given IVF and Ogg files in a loop as one stream.
// Failures are wrapped in mesh.ErrMediaAcquisition.
func FileStream(paths []string) (*mesh.LocalStream, error) {
	infos, err := ValidateFiles(paths)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mesh.ErrMediaAcquisition, err)
	}

	streamID := "chatlet-" + uuid.NewString()[:8]
	ctx, cancel := context.WithCancel(context.Background())

	tracks := make([]webrtc.TrackLocal, 0, len(infos))
	for _, info := range infos {
		// Fail early on unreadable headers instead of inside the pump.
		src, err := openSource(info)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %w", mesh.ErrMediaAcquisition, err)
		}
		src.Close()

		track, err := webrtc.NewTrackLocalStaticSample(codecFor(info), info.Kind.String(), streamID)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %w", mesh.ErrMediaAcquisition, err)
		}
		tracks = append(tracks, track)
		go pump(ctx, info, track)
	}

	return mesh.NewLocalStream(streamID, tracks, cancel), nil
}

// pump writes samples paced by their durations until ctx is done,
// rewinding at end of file.
func pump(ctx context.Context, info FileInfo, track *webrtc.TrackLocalStaticSample) {
	logger := log.With().Str("component", "media").Str("file", info.Name).Logger()

	for {
		src, err := openSource(info)
		if err != nil {
			logger.Error().Err(err).Msg("reopen failed, stopping track")
			return
		}
		err = play(ctx, src, track)
		src.Close()
		if err != nil {
			if ctx.Err() == nil {
				logger.Error().Err(err).Msg("playback stopped")
			}
			return
		}
	}
}

// play returns nil at end of file.
func play(ctx context.Context, src source, track *webrtc.TrackLocalStaticSample) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		data, d, err := src.Next()
		if isEOF(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := track.WriteSample(pmedia.Sample{Data: data, Duration: d}); err != nil {
			return err
		}
		timer.Reset(d)
	}
}
