// Package netplaycfg validates the closed set of per-room configuration
// knobs a host chooses before starting a session, collecting every
// validation failure instead of stopping at the first one.
package netplaycfg

import (
	"fmt"
	"strconv"
	"strings"
)

// InputMode is DataChannelCore's channel policy.
type InputMode string

const (
	InputModeOrderedRelay   InputMode = "orderedRelay"
	InputModeUnorderedRelay InputMode = "unorderedRelay"
	InputModeOrderedP2P     InputMode = "orderedP2P"
	InputModeUnorderedP2P   InputMode = "unorderedP2P"
)

var validInputModes = map[InputMode]bool{
	InputModeOrderedRelay: true, InputModeUnorderedRelay: true,
	InputModeOrderedP2P: true, InputModeUnorderedP2P: true,
}

// SimulcastQuality is the client-side simulcast layer request.
type SimulcastQuality string

const (
	SimulcastLow  SimulcastQuality = "low"
	SimulcastHigh SimulcastQuality = "high"
)

// HostCodec is the host's announced video codec preference.
type HostCodec string

const (
	CodecAuto HostCodec = "auto"
	CodecVP9  HostCodec = "vp9"
	CodecH264 HostCodec = "h264"
	CodecVP8  HostCodec = "vp8"
)

var validHostCodecs = map[HostCodec]bool{CodecAuto: true, CodecVP9: true, CodecH264: true, CodecVP8: true}

// Spectator is the sentinel preferredSlot value meaning "no slot".
const Spectator = -1

// Config holds the validated, per-room netplay configuration.
type Config struct {
	ListenAddr string
	ICEServers []string

	TURNUsername   string
	TURNCredential string

	MaxPlayers int

	InputMode              InputMode
	FrameDelay             int
	UnorderedRetries       int
	RetryTimerSeconds      int
	HostCodec              HostCodec
	ClientSimulcastQuality SimulcastQuality
	ExclusiveSlots         bool
	MaxSlots               int
	PreferredSlot          int // Spectator, or [0, MaxSlots-1]

	Stream StreamSettings
}

// StreamSettings holds video/audio streaming configuration for the host's
// media producers.
type StreamSettings struct {
	Width         int
	Height        int
	FPS           int
	Bitrate       int
	AudioChannels int
}

const (
	minFrameDelay        = 0
	maxFrameDelay        = 20
	minUnorderedRetries  = 0
	maxUnorderedRetries  = 2
	minRetryTimerSeconds = 0
	maxRetryTimerSeconds = 5
	minMaxSlots          = 2
	maxMaxSlots          = 8
)

// Default returns a Config with the defaults the closed enumeration names
// explicitly (frameDelay 20 for delay-sync, others as spec'd).
func Default() *Config {
	return &Config{
		ListenAddr:             ":8080",
		ICEServers:             []string{"stun:stun.l.google.com:19302"},
		MaxPlayers:             4,
		InputMode:              InputModeOrderedRelay,
		FrameDelay:             20,
		UnorderedRetries:       2,
		RetryTimerSeconds:      3,
		HostCodec:              CodecAuto,
		ClientSimulcastQuality: SimulcastHigh,
		MaxSlots:               4,
		PreferredSlot:          Spectator,
		Stream: StreamSettings{
			Width: 1920, Height: 1080, FPS: 60, Bitrate: 20000, AudioChannels: 2,
		},
	}
}

// Validate checks every knob and returns a single error joining every
// violation found, or nil if cfg is well-formed.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.MaxSlots < minMaxSlots || cfg.MaxSlots > maxMaxSlots {
		errs = append(errs, fmt.Sprintf("max_slots must be between %d and %d (got %d)", minMaxSlots, maxMaxSlots, cfg.MaxSlots))
	}
	if !validInputModes[cfg.InputMode] {
		errs = append(errs, fmt.Sprintf("input_mode %q is not one of orderedRelay, unorderedRelay, orderedP2P, unorderedP2P", cfg.InputMode))
	}
	if cfg.FrameDelay < minFrameDelay || cfg.FrameDelay > maxFrameDelay {
		errs = append(errs, fmt.Sprintf("frame_delay must be between %d and %d (got %d)", minFrameDelay, maxFrameDelay, cfg.FrameDelay))
	}
	if cfg.UnorderedRetries < minUnorderedRetries || cfg.UnorderedRetries > maxUnorderedRetries {
		errs = append(errs, fmt.Sprintf("unordered_retries must be between %d and %d (got %d)", minUnorderedRetries, maxUnorderedRetries, cfg.UnorderedRetries))
	}
	if cfg.RetryTimerSeconds < minRetryTimerSeconds || cfg.RetryTimerSeconds > maxRetryTimerSeconds {
		errs = append(errs, fmt.Sprintf("retry_timer_seconds must be between %d and %d (got %d)", minRetryTimerSeconds, maxRetryTimerSeconds, cfg.RetryTimerSeconds))
	}
	if !validHostCodecs[cfg.HostCodec] {
		errs = append(errs, fmt.Sprintf("host_codec %q is not one of auto, vp9, h264, vp8", cfg.HostCodec))
	}
	if cfg.ClientSimulcastQuality != SimulcastLow && cfg.ClientSimulcastQuality != SimulcastHigh {
		errs = append(errs, fmt.Sprintf("client_simulcast_quality %q must be low or high", cfg.ClientSimulcastQuality))
	}
	if cfg.PreferredSlot != Spectator && (cfg.PreferredSlot < 0 || cfg.PreferredSlot >= cfg.MaxSlots) {
		errs = append(errs, fmt.Sprintf("preferred_slot %d must be Spectator or in [0,%d)", cfg.PreferredSlot, cfg.MaxSlots))
	}
	if cfg.ListenAddr != "" && !isValidHostPort(cfg.ListenAddr) {
		errs = append(errs, fmt.Sprintf("listen_addr must be in host:port form (got %q)", cfg.ListenAddr))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidHostPort(addr string) bool {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return false
	}
	port, err := strconv.Atoi(addr[idx+1:])
	return err == nil && port >= 0 && port <= 65535
}
