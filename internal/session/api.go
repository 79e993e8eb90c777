package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Medal-OF-Owner/Chatlet/internal/config"
	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// RoomRecord mirrors the server's persisted room record.
type RoomRecord struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActiveRoom is one entry of the live room listing.
type ActiveRoom struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// APIError is a non-2xx answer from the HTTP API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// EnsureRoom resolves a slug to its room record, creating it if needed.
func EnsureRoom(ctx context.Context, cfg *config.Config, slug string) (*RoomRecord, error) {
	var rec RoomRecord
	if err := call(ctx, http.MethodPut, cfg.RoomURL(slug), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func ListRooms(ctx context.Context, cfg *config.Config) ([]ActiveRoom, error) {
	var resp struct {
		Rooms []ActiveRoom `json:"rooms"`
	}
	if err := call(ctx, http.MethodGet, cfg.APIURL+"/rooms", &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func Members(ctx context.Context, cfg *config.Config, slug string) ([]protocol.UserInfo, error) {
	var resp struct {
		Members []protocol.UserInfo `json:"members"`
	}
	if err := call(ctx, http.MethodGet, cfg.RoomURL(slug, "members"), &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// History returns up to limit recent messages of a room, oldest first.
func History(ctx context.Context, cfg *config.Config, slug string, limit int) ([]protocol.ChatMessage, error) {
	url := cfg.RoomURL(slug, "messages")
	if limit > 0 {
		url += "?limit=" + strconv.Itoa(limit)
	}
	var resp protocol.MessageHistoryPayload
	if err := call(ctx, http.MethodGet, url, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func call(ctx context.Context, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
