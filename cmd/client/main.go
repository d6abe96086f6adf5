package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DoyleJ11/davinci-client/internal/config"
	"github.com/DoyleJ11/davinci-client/internal/httpapi"
	"github.com/DoyleJ11/davinci-client/internal/view"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("client stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := httpapi.NewClient(cfg.ServerURL, logger)
	if err != nil {
		return err
	}

	// the socket dialer shares the REST client cookie jar
	v := view.New(ctx, client, view.WebsocketDialer(client, logger), view.Options{
		Policy: cfg.Policy,
		Logger: logger,
	})
	defer func() { err = multierr.Append(err, v.Close()) }()

	roomID := cfg.RoomID
	if roomID == "" {
		roomID, err = client.CreateRoom(ctx, cfg.NumPlayers)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "created room %s\n", roomID)
	}

	logger.Info("opening room", zap.String("room", roomID), zap.String("server", cfg.ServerURL))
	if err := v.Open(ctx, roomID); err != nil {
		return err
	}

	t := &terminal{view: v, api: client, players: cfg.NumPlayers, out: os.Stdout, logger: logger}
	return t.Run(ctx, os.Stdin)
}
