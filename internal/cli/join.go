package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Medal-OF-Owner/Chatlet/internal/config"
	"github.com/Medal-OF-Owner/Chatlet/internal/media"
	"github.com/Medal-OF-Owner/Chatlet/internal/mesh"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
	"github.com/Medal-OF-Owner/Chatlet/internal/session"
	"github.com/Medal-OF-Owner/Chatlet/internal/ui"
)

var (
	joinNickname   string
	joinAvatar     string
	joinFont       string
	joinColor      string
	joinMedia      []string
	joinRecord     string
	joinSTUN       string
	joinTURN       string
	joinTURNUser   string
	joinTURNPass   string
	joinForceRelay bool
)

// joinAttempts bounds how often a taken nickname is retried with the
// server's suggestion.
const joinAttempts = 3

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a chat room",
	Long: `Join a chat room and link up with everyone in it.

Every member gets a direct WebRTC link. By default nothing is sent; pass
--media with an IVF (VP8) and/or Ogg (Opus) file to stream them in a loop,
and --record to save what the others send.

Examples:
  chatlet join lobby
  chatlet join lobby --nickname alice
  chatlet join standup --media cam.ivf --media mic.ogg --record ./calls`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{
			STUNServer: joinSTUN,
			TURNServer: joinTURN,
			TURNUser:   joinTURNUser,
			TURNPass:   joinTURNPass,
			ForceRelay: joinForceRelay,
			Nickname:   joinNickname,
			Avatar:     joinAvatar,
			FontFamily: joinFont,
			TextColor:  joinColor,
		})
		if err != nil {
			return err
		}
		if len(joinMedia) > 0 {
			files, err := media.ValidateFiles(joinMedia)
			if err != nil {
				return err
			}
			items := make([]ui.MediaItem, len(files))
			for i, f := range files {
				items[i] = ui.MediaItem{Name: f.Name, Kind: f.Kind.String(), Size: f.Size}
			}
			fmt.Println(ui.MediaView(items))
		}
		return runJoin(cmd.Context(), cfg, args[0])
	},
}

func init() {
	joinCmd.Flags().StringVarP(&joinNickname, "nickname", "n", "", "nickname to use (env CHATLET_NICKNAME)")
	joinCmd.Flags().StringVar(&joinAvatar, "avatar", "", "avatar URL shown to others")
	joinCmd.Flags().StringVar(&joinFont, "font", "", "font family hint for your messages")
	joinCmd.Flags().StringVar(&joinColor, "color", "", "text color for your messages, e.g. #ff8800")
	joinCmd.Flags().StringArrayVarP(&joinMedia, "media", "m", nil, "IVF or Ogg file to stream (repeatable)")
	joinCmd.Flags().StringVar(&joinRecord, "record", "", "directory to record incoming streams into")
	joinCmd.Flags().StringVar(&joinSTUN, "stun", "", "STUN server URL (env STUN_SERVER)")
	joinCmd.Flags().StringVar(&joinTURN, "turn", "", "TURN server URL (env TURN_SERVER)")
	joinCmd.Flags().StringVar(&joinTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&joinTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVar(&joinForceRelay, "force-relay", false, "only use TURN relay candidates")

	rootCmd.AddCommand(joinCmd)
}

func runJoin(ctx context.Context, cfg *config.Config, room string) error {
	spinner := ui.NewConnectionSpinner(fmt.Sprintf("Connecting to %s...", cfg.Server))
	spinner.Start()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	rec, err := session.EnsureRoom(connectCtx, cfg, room)
	if err != nil {
		spinner.Error("Could not reach the server")
		return err
	}

	sess, err := session.Open(connectCtx, cfg)
	if err != nil {
		spinner.Error("Could not connect")
		return err
	}
	defer sess.Close()

	var recorder *media.Recorder
	if joinRecord != "" {
		if recorder, err = media.NewRecorder(joinRecord); err != nil {
			spinner.Error("Could not prepare recording")
			return err
		}
	}

	manager := mesh.NewManager(mesh.Options{
		RoomID:  rec.ID,
		SelfID:  sess.ConnectionID(),
		Sender:  sess.Client(),
		Router:  sess.Handler(),
		Factory: mesh.PionFactory(mesh.ICEConfiguration(cfg)),
		OnTrack: func(peerID string, t mesh.RemoteTrack) {
			log.Info().Str("peer", peerID).Str("kind", t.Kind().String()).Msg("remote track")
			if recorder != nil {
				recorder.Record(peerID, t)
			}
		},
	})
	manager.Start()
	defer manager.Destroy()

	actions := &chatActions{Session: sess, manager: manager, media: joinMedia}
	if err := actions.SetMedia(len(joinMedia) > 0); err != nil {
		spinner.Error("Could not open media")
		return err
	}

	// Subscribe before joining so events sent right after the join are
	// queued until the chat screen runs.
	fwd := newForwarder()
	defer fwd.stop()
	unsubscribe := subscribeChat(sess, fwd)
	defer unsubscribe()

	spinner.UpdateMessage(fmt.Sprintf("Joining %s...", rec.Slug))
	joined, err := joinWithRetry(connectCtx, sess, rec.ID, cfg.Nickname)
	if err != nil {
		spinner.Error("Could not join " + rec.Slug)
		return err
	}
	spinner.Success(fmt.Sprintf("Joined %s as %s", rec.Slug, joined.Nickname))

	chat := ui.NewChat(rec.Slug, joined.Nickname, actions, joined.History)
	p := tea.NewProgram(chat, tea.WithAltScreen())
	go fwd.run(p)

	go func() {
		for {
			select {
			case <-manager.Changes():
				fwd.send(ui.PeersChangedMsg{})
			case <-sess.Lost():
				fwd.send(ui.DisconnectedMsg{Err: errors.New("connection to server lost")})
				return
			case <-fwd.done:
				return
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat screen: %w", err)
	}

	select {
	case <-sess.Lost():
		ui.PrintWarning("Disconnected from the server")
	default:
	}
	if recorder != nil {
		for _, f := range recorder.Files() {
			ui.PrintInfof("Recorded %s", f)
		}
	}
	return nil
}

func joinWithRetry(ctx context.Context, sess *session.Session, roomID, nickname string) (*session.Joined, error) {
	for attempt := 1; ; attempt++ {
		joined, err := sess.Join(ctx, roomID, nickname)
		var taken *session.NicknameTakenError
		if !errors.As(err, &taken) || taken.Suggestion == "" || attempt == joinAttempts {
			return joined, err
		}
		ui.PrintWarning(fmt.Sprintf("%s is taken, trying %s", nickname, taken.Suggestion))
		nickname = taken.Suggestion
	}
}

// toUIMsg maps a server event to what the chat screen shows. Events the
// screen does not care about map to nil.
func toUIMsg(msg *protocol.Message, self string) tea.Msg {
	switch msg.Type {
	case protocol.TypeNewMessage:
		var p protocol.ChatMessage
		if msg.DecodePayload(&p) != nil {
			return nil
		}
		return ui.IncomingMsg(p)
	case protocol.TypeUserJoined:
		var p protocol.UserJoinedPayload
		if msg.DecodePayload(&p) != nil {
			return nil
		}
		return ui.NoticeMsg(p.Nickname + " joined")
	case protocol.TypeUserLeft:
		var p protocol.UserLeftPayload
		if msg.DecodePayload(&p) != nil {
			return nil
		}
		return ui.NoticeMsg(p.Nickname + " left")
	case protocol.TypeNicknameChanged:
		var p protocol.NicknameChangedPayload
		if msg.DecodePayload(&p) != nil {
			return nil
		}
		if p.ConnectionID == self {
			return ui.NicknameMsg(p.NewNickname)
		}
		return ui.NoticeMsg(fmt.Sprintf("%s is now %s", p.OldNickname, p.NewNickname))
	case protocol.TypeNicknameTaken:
		var p protocol.NicknameTakenPayload
		if msg.DecodePayload(&p) != nil {
			return nil
		}
		return ui.NoticeMsg((&session.NicknameTakenError{Nickname: p.Nickname, Suggestion: p.Suggestion}).Error())
	case protocol.TypeUserTyping:
		var p protocol.UserTypingPayload
		if msg.DecodePayload(&p) != nil || p.ConnectionID == self {
			return nil
		}
		return ui.TypingMsg{Nickname: p.Nickname, Typing: p.IsTyping}
	case protocol.TypeError:
		var p protocol.ErrorPayload
		if msg.DecodePayload(&p) != nil {
			return nil
		}
		return ui.NoticeMsg("error: " + p.Error)
	}
	return nil
}

// subscribeChat forwards every event the chat screen shows.
func subscribeChat(sess *session.Session, fwd *forwarder) (unsubscribe func()) {
	self := sess.ConnectionID()
	return sess.Handler().On(func(msg *protocol.Message) {
		if m := toUIMsg(msg, self); m != nil {
			fwd.send(m)
		}
	})
}

// forwarder hands messages to the program in order without blocking the
// event router while the screen is busy. Messages queue up until run is
// given the program.
type forwarder struct {
	queue chan tea.Msg
	done  chan struct{}
}

func newForwarder() *forwarder {
	return &forwarder{queue: make(chan tea.Msg, 1024), done: make(chan struct{})}
}

func (f *forwarder) send(m tea.Msg) {
	select {
	case f.queue <- m:
	case <-f.done:
	}
}

func (f *forwarder) run(p *tea.Program) {
	for {
		select {
		case m := <-f.queue:
			p.Send(m)
		case <-f.done:
			return
		}
	}
}

func (f *forwarder) stop() { close(f.done) }

// chatActions connects the chat screen to the session and the mesh.
type chatActions struct {
	*session.Session
	manager *mesh.Manager
	media   []string
}

func (a *chatActions) Peers() []mesh.PeerInfo { return a.manager.Peers() }

// Reconnect accepts a nickname or a connection ID.
func (a *chatActions) Reconnect(who string) error {
	for _, p := range a.manager.Peers() {
		if strings.EqualFold(p.Nickname, who) || p.ID == who {
			a.manager.Reconnect(p.ID)
			return nil
		}
	}
	return fmt.Errorf("nobody called %q is here", who)
}

func (a *chatActions) SetMedia(on bool) error {
	if !on {
		a.manager.SetLocalStream(media.ReceiveOnly())
		return nil
	}
	if len(a.media) == 0 {
		return errors.New("no media files given, start with --media")
	}
	stream, err := media.FileStream(a.media)
	if err != nil {
		return err
	}
	a.manager.SetLocalStream(stream)
	return nil
}
