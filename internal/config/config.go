package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

// Default client configuration values.
const (
	DefaultServer   = "localhost:8080"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURNUser = "chatlet"
	DefaultTURNPass = "chatlet-secret"
)

// Config holds the terminal client's configuration.
type Config struct {
	// Server is the chat server's base URL, e.g. https://chat.example.com.
	Server string

	// WebSocketURL and APIURL are derived from Server.
	WebSocketURL string
	APIURL       string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Chat identity and presentation
	Nickname   string
	Avatar     string
	FontFamily string
	TextColor  string
	Token      string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Server     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	Nickname   string
	Avatar     string
	FontFamily string
	TextColor  string
	Token      string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	server := firstNonEmpty(opts.Server, os.Getenv("CHATLET_SERVER"), DefaultServer)
	base, err := normalizeServer(server)
	if err != nil {
		return nil, err
	}

	wsURL := *base
	if base.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimSuffix(base.Path, "/") + "/ws"

	cfg := &Config{
		Server:       base.String(),
		WebSocketURL: wsURL.String(),
		APIURL:       strings.TrimSuffix(base.String(), "/") + "/api",
		STUNServer:   firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN),
		TURNServer:   firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER")),
		TURNUser:     firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME"), DefaultTURNUser),
		TURNPass:     firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD"), DefaultTURNPass),
		ForceRelay:   opts.ForceRelay || os.Getenv("FORCE_RELAY") == "true",
		Nickname:     firstNonEmpty(opts.Nickname, os.Getenv("CHATLET_NICKNAME")),
		Avatar:       firstNonEmpty(opts.Avatar, os.Getenv("CHATLET_AVATAR")),
		FontFamily:   firstNonEmpty(opts.FontFamily, os.Getenv("CHATLET_FONT"), protocol.DefaultFontFamily),
		TextColor:    firstNonEmpty(opts.TextColor, os.Getenv("CHATLET_COLOR"), protocol.DefaultTextColor),
		Token:        firstNonEmpty(opts.Token, os.Getenv("CHATLET_TOKEN")),
	}
	return cfg, nil
}

// normalizeServer accepts a bare host[:port] or a URL with an http(s) or
// ws(s) scheme. Bare loopback hosts default to plain http, anything else
// to https.
func normalizeServer(server string) (*url.URL, error) {
	if !strings.Contains(server, "://") {
		scheme := "https"
		host := server
		if h, _, err := net.SplitHostPort(server); err == nil {
			host = h
		}
		if host == "localhost" || net.ParseIP(host).IsLoopback() {
			scheme = "http"
		}
		server = scheme + "://" + server
	}

	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("invalid server URL: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL: missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws")
	u.RawQuery = ""
	return u, nil
}

// WebSocketURLWithToken appends the session token, if any.
func (c *Config) WebSocketURLWithToken() string {
	if c.Token == "" {
		return c.WebSocketURL
	}
	return c.WebSocketURL + "?token=" + url.QueryEscape(c.Token)
}

// RoomURL returns the API URL for a room slug, with an optional suffix
// such as "members" or "messages".
func (c *Config) RoomURL(slug string, suffix ...string) string {
	u := c.APIURL + "/rooms/" + url.PathEscape(slug)
	for _, s := range suffix {
		u += "/" + s
	}
	return u
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", strings.TrimPrefix(c.TURNServer, "turn:")),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
