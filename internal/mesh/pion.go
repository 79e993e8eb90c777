package mesh

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/Medal-OF-Owner/Chatlet/internal/config"
)

// ICEConfiguration builds the peer connection configuration from the client
// config. Relay-only transport is used when TURN is configured and either
// forced or the network looks like it needs it.
func ICEConfiguration(cfg *config.Config) webrtc.Configuration {
	iceServers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || config.ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// PionFactory returns a LinkFactory that creates real peer connections.
func PionFactory(conf webrtc.Configuration) LinkFactory {
	return func(peerID string, ev LinkEvents) (Link, error) {
		pc, err := webrtc.NewPeerConnection(conf)
		if err != nil {
			return nil, NewPeerError("create peer connection", peerID, err)
		}
		l := &pionLink{pc: pc, sending: make(map[webrtc.RTPCodecType]bool)}
		l.setupHandlers(ev)
		return l, nil
	}
}

type pionLink struct {
	pc      *webrtc.PeerConnection
	sending map[webrtc.RTPCodecType]bool
}

func (l *pionLink) setupHandlers(ev LinkEvents) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || ev.OnCandidate == nil {
			return
		}
		ev.OnCandidate(c.ToJSON())
	})

	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if ev.OnState == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			ev.OnState(StateLinked)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			ev.OnState(StateClosed)
		}
	})

	l.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if ev.OnTrack != nil {
			ev.OnTrack(t)
		}
	})
}

func (l *pionLink) AttachStream(s *LocalStream) error {
	if s == nil {
		return nil
	}
	for _, track := range s.Tracks {
		sender, err := l.pc.AddTrack(track)
		if err != nil {
			return NewError("add track", err)
		}
		l.sending[track.Kind()] = true

		// RTCP has to be read for interceptors such as NACK to work.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

// CreateOffer asks to receive audio and video even when not sending them.
func (l *pionLink) CreateOffer() (string, error) {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if l.sending[kind] {
			continue
		}
		if _, err := l.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return "", NewError("add transceiver", err)
		}
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", NewError("create offer", err)
	}
	if err = l.pc.SetLocalDescription(offer); err != nil {
		return "", NewError("set local description", err)
	}
	return l.pc.LocalDescription().SDP, nil
}

func (l *pionLink) AcceptOffer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return "", NewError("set remote description", err)
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", NewError("create answer", err)
	}
	if err = l.pc.SetLocalDescription(answer); err != nil {
		return "", NewError("set local description", err)
	}
	return l.pc.LocalDescription().SDP, nil
}

func (l *pionLink) AcceptAnswer(sdp string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return NewError("set remote description", err)
	}
	return nil
}

func (l *pionLink) AddCandidate(c webrtc.ICECandidateInit) error {
	if err := l.pc.AddICECandidate(c); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

func (l *pionLink) Close() error {
	if err := l.pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		return NewError("close peer connection", err)
	}
	return nil
}
