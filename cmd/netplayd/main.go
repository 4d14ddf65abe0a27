package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zalo/netplaycore/internal/netplaycfg"
	"github.com/zalo/netplaycore/internal/netplaylog"
	"github.com/zalo/netplaycore/internal/server"
	"go.uber.org/zap"
)

func main() {
	listenAddr := flag.String("listen", ":8080", "Web server listen address")
	iceServers := flag.String("ice-servers", "stun:stun.l.google.com:19302", "Comma-separated list of STUN/TURN server URLs")
	turnUsername := flag.String("turn-username", "", "TURN server username")
	turnCredential := flag.String("turn-credential", "", "TURN server credential")
	maxSlots := flag.Int("max-slots", 4, "Default max player slots per room")
	development := flag.Bool("development", false, "Enable development-mode logging")
	flag.Parse()

	if err := netplaylog.Init(*development); err != nil {
		panic(err)
	}
	ctx := context.Background()

	cfg := server.DefaultConfig()
	cfg.ListenAddr = *listenAddr
	cfg.ICEServers = splitAndTrim(*iceServers)
	cfg.TURNUsername = *turnUsername
	cfg.TURNCredential = *turnCredential
	cfg.MaxSlots = *maxSlots
	cfg.Development = *development

	if err := netplaycfg.Validate(&cfg.Config); err != nil {
		netplaylog.Error(ctx, "invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	srv, err := server.New(cfg)
	if err != nil {
		netplaylog.Error(ctx, "failed to create server", zap.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		netplaylog.Info(ctx, "shutting down")
		srv.Shutdown()
	}()

	netplaylog.Info(ctx, "netplayd starting", zap.String("addr", *listenAddr))
	if err := srv.Run(); err != nil {
		netplaylog.Error(ctx, "server error", zap.Error(err))
		os.Exit(1)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
