package room

import (
	"encoding/json"
	"net/http"

	"github.com/zalo/netplaycore/internal/session"
)

// DiscoveryServer answers the room-discovery HTTP endpoint from the
// authoritative session.Manager.
type DiscoveryServer struct {
	rooms *session.Manager
}

// NewDiscoveryServer wraps a session.Manager for HTTP room discovery.
func NewDiscoveryServer(rooms *session.Manager) *DiscoveryServer {
	return &DiscoveryServer{rooms: rooms}
}

// HandleList implements GET /list?domain=<host>&game_id=<id>[&token=<t>]: it
// returns every open room as roomId -> RoomSummary. domain and game_id are
// accepted for protocol compatibility; this single-realm implementation
// does not partition rooms by either.
func (d *DiscoveryServer) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	out := make(map[string]RoomSummary)
	for _, room := range d.rooms.List() {
		if room.Phase == session.PhaseClosed {
			continue
		}
		out[room.Name] = summarize(room)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func summarize(room *session.Room) RoomSummary {
	summary := RoomSummary{
		RoomName:      room.Name,
		Current:       room.Count(),
		Max:           room.MaxParticipants,
		HasPassword:   room.PasswordHash != nil,
		NetplayMode:   room.Mode.ID,
		SpectatorMode: !room.Mode.HostStreamsOnly,
	}
	if host := room.Host(); host != nil && host.Manifest != nil {
		summary.RomHash = host.Manifest.RomHash
		summary.CoreType = host.Manifest.EmulatorCore
	}
	return summary
}
