package room

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/zalo/netplaycore/internal/errs"
)

// RoomSummary is one entry in the room-discovery listing.
type RoomSummary struct {
	RoomID        string          `json:"roomId,omitempty"`
	RoomName      string          `json:"room_name"`
	Current       int             `json:"current"`
	Max           int             `json:"max"`
	HasPassword   bool            `json:"hasPassword"`
	NetplayMode   string          `json:"netplay_mode"`
	SyncConfig    json.RawMessage `json:"sync_config,omitempty"`
	SpectatorMode bool            `json:"spectator_mode"`
	RomHash       string          `json:"rom_hash,omitempty"`
	CoreType      string          `json:"core_type,omitempty"`
}

// DiscoverRooms queries the HTTP room-discovery endpoint and returns every
// open room matching domain and gameID.
func DiscoverRooms(ctx context.Context, baseURL, domain, gameID, token string) ([]RoomSummary, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/list")
	if err != nil {
		return nil, errs.Wrap(errs.ProtocolError, "parse discovery URL", err)
	}
	q := u.Query()
	q.Set("domain", domain)
	q.Set("game_id", gameID)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ProtocolError, "build discovery request", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.TransportUnavailable, "room discovery request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errs.New(errs.AuthRequired, fmt.Sprintf("room discovery returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.ProtocolError, fmt.Sprintf("room discovery returned %d", resp.StatusCode))
	}

	var byID map[string]RoomSummary
	if err := json.NewDecoder(resp.Body).Decode(&byID); err != nil {
		return nil, errs.Wrap(errs.ProtocolError, "decode room discovery response", err)
	}

	out := make([]RoomSummary, 0, len(byID))
	for id, summary := range byID {
		summary.RoomID = id
		out = append(out, summary)
	}
	return out, nil
}
