package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDerivesURLs(t *testing.T) {
	tests := []struct {
		server string
		ws     string
		api    string
	}{
		{"localhost:8080", "ws://localhost:8080/ws", "http://localhost:8080/api"},
		{"127.0.0.1:9000", "ws://127.0.0.1:9000/ws", "http://127.0.0.1:9000/api"},
		{"chat.example.com", "wss://chat.example.com/ws", "https://chat.example.com/api"},
		{"wss://chat.example.com/ws", "wss://chat.example.com/ws", "https://chat.example.com/api"},
		{"http://10.0.0.2:8080/", "ws://10.0.0.2:8080/ws", "http://10.0.0.2:8080/api"},
	}
	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			cfg, err := Load(Options{Server: tt.server})
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.WebSocketURL != tt.ws || cfg.APIURL != tt.api {
				t.Fatalf("got ws=%s api=%s", cfg.WebSocketURL, cfg.APIURL)
			}
		})
	}

	if _, err := Load(Options{Server: "ftp://example.com"}); err == nil {
		t.Fatal("expected an error for an ftp URL")
	}
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("CHATLET_NICKNAME", "from-env")
	t.Setenv("STUN_SERVER", "stun:env.example.com:3478")

	cfg, err := Load(Options{Nickname: "from-flag"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Nickname != "from-flag" {
		t.Errorf("nickname = %q, flag should win", cfg.Nickname)
	}
	if cfg.STUNServer != "stun:env.example.com:3478" {
		t.Errorf("stun = %q, env should beat the default", cfg.STUNServer)
	}
	if cfg.FontFamily != "sans-serif" || cfg.TextColor != "#ffffff" {
		t.Errorf("presentation defaults = %q %q", cfg.FontFamily, cfg.TextColor)
	}
	if cfg.GetTURNServers() != nil {
		t.Errorf("no TURN server configured, got %v", cfg.GetTURNServers())
	}

	cfg.Token = "a b"
	if got := cfg.WebSocketURLWithToken(); got != cfg.WebSocketURL+"?token=a+b" {
		t.Errorf("token URL = %s", got)
	}
	if got := cfg.RoomURL("demo", "messages"); got != cfg.APIURL+"/rooms/demo/messages" {
		t.Errorf("room URL = %s", got)
	}
}

func TestLoadServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatlet.toml")
	content := `
[server]
port = "9090"
store_driver = "sqlite"
sqlite_path = "/tmp/from-file.db"
history_limit = 500
cleanup_interval = "1m"

[accounts]
tok-1 = "Alice"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7070")
	t.Setenv("MAX_MESSAGE_LENGTH", "10")

	cfg, err := LoadServer(path)
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("port = %s, env should win over file", cfg.Port)
	}
	if cfg.StoreDriver != "sqlite" || cfg.SQLitePath != "/tmp/from-file.db" {
		t.Errorf("store = %s %s", cfg.StoreDriver, cfg.SQLitePath)
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("history limit = %d, want clamped to 50", cfg.HistoryLimit)
	}
	if cfg.CleanupInterval != time.Minute || cfg.MessageRetention != DefaultMessageRetention {
		t.Errorf("durations = %s %s", cfg.CleanupInterval, cfg.MessageRetention)
	}
	if cfg.MaxMessageLength != 10 {
		t.Errorf("max length = %d", cfg.MaxMessageLength)
	}
	if cfg.Accounts["tok-1"] != "Alice" {
		t.Errorf("accounts = %v", cfg.Accounts)
	}
}

func TestServerValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Server
		wantErr bool
	}{
		{"memory in development", Server{StoreDriver: "memory", NicknameBackend: "memory", Env: "development"}, false},
		{"memory in production", Server{StoreDriver: "memory", NicknameBackend: "memory", Env: "production"}, true},
		{"postgres without url", Server{StoreDriver: "postgres", NicknameBackend: "memory"}, true},
		{"redis nicknames without url", Server{StoreDriver: "memory", NicknameBackend: "redis"}, true},
		{"redis everything", Server{StoreDriver: "redis", NicknameBackend: "redis", RedisURL: "redis://localhost:6379"}, false},
		{"unknown driver", Server{StoreDriver: "mongo", NicknameBackend: "memory"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRelayHeuristics(t *testing.T) {
	for _, name := range []string{"tun0", "wg0", "CloudflareWARP", "ppp0"} {
		if !isTunnelInterface(name) {
			t.Errorf("%s should look like a tunnel", name)
		}
	}
	if isTunnelInterface("eth0") {
		t.Error("eth0 is not a tunnel")
	}

	if !isCGNAT(&net.IPNet{IP: net.ParseIP("100.100.1.2")}) {
		t.Error("100.100.1.2 is in the CGNAT block")
	}
	if isCGNAT(&net.IPAddr{IP: net.ParseIP("192.168.1.2")}) {
		t.Error("192.168.1.2 is not CGNAT")
	}
}
