package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/plaza/go/internal/realtime/bus"
	"github.com/mcdev12/plaza/go/internal/realtime/config"
	"github.com/mcdev12/plaza/go/internal/realtime/natsbridge"
	"github.com/mcdev12/plaza/go/internal/realtime/reconcile"
	"github.com/mcdev12/plaza/go/internal/realtime/router"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
	"github.com/mcdev12/plaza/go/internal/realtime/wsroom"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Getenv("PLAZA_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	level, err := cfg.LogLevel()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("server_url", cfg.Server.URL).
		Str("room", cfg.Server.Room).
		Str("username", cfg.Server.Username).
		Str("nats_url", cfg.NATS.URL).
		Msg("starting plaza client")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := bus.NewLoop()
	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("dispatch loop failed")
		}
	}()

	var (
		c      *client
		bridge *natsbridge.Bridge
		nc     *nats.Conn
	)
	if bc, ok := cfg.Bridge(); ok {
		nc, err = natsbridge.Connect(bc)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		bridge = natsbridge.New(bc, nc, loop, nil)
	}

	err = loop.Do(ctx, func() {
		c = setupClient(cfg.Session(), wsroom.NewTransport(wsroom.DefaultConfig(), loop), loop)
		logEvents(c)
		if bridge != nil {
			bridge.AttachConnector(c.conn)
			bridge.AttachPlayers(c.players)
			bridge.AttachStations(c.stations)
			bridge.AttachRouter(c.router)
			if err := bridge.HandleControls(nc, c.conn); err != nil {
				log.Fatal().Err(err).Msg("failed to subscribe to control subjects")
			}
		}
		if cfg.Server.URL != "" {
			c.conn.Connect()
		} else {
			log.Info().Msg("no server url configured, waiting for a config notification")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start client")
	}

	lines := make(chan string)
	go readLines(ctx, lines)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

run:
	for {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			break run
		case line, ok := <-lines:
			if !ok {
				break run
			}
			var cmdErr error
			if err := loop.Do(ctx, func() { cmdErr = c.run(line) }); err != nil {
				break run
			}
			if errors.Is(cmdErr, errQuit) {
				break run
			}
			if cmdErr != nil {
				log.Warn().Err(cmdErr).Msg("command failed")
			}
		}
	}

	shutdown(ctx, loop, c, bridge)
	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("failed to drain NATS connection")
		}
	}
	cancel()
	log.Info().Msg("plaza client shutdown complete")
}

func setupClient(cfg session.Config, transport session.Transport, dispatch bus.Dispatcher, opts ...session.Option) *client {
	conn := session.NewConnector(cfg, transport, dispatch, opts...)
	intents := &router.Intents{}
	return &client{
		conn:     conn,
		intents:  intents,
		router:   router.New(conn.Session(), conn, intents),
		players:  reconcile.NewPlayers(conn.Session(), conn, nil),
		stations: reconcile.NewStations(conn.Session(), conn, nil),
	}
}

// shutdown leaves the room and waits briefly for the server to acknowledge.
func shutdown(ctx context.Context, loop *bus.Loop, c *client, bridge *natsbridge.Bridge) {
	left := make(chan struct{})
	err := loop.Do(ctx, func() {
		if c.conn.Session().Room() == nil {
			close(left)
		} else {
			var unsub func()
			unsub = c.conn.OnDisconnected(func(session.DisconnectedEvent) {
				unsub()
				close(left)
			})
		}
		c.conn.Disconnect(session.DisconnectOptions{})
	})
	if err != nil {
		return
	}

	select {
	case <-left:
	case <-time.After(3 * time.Second):
		log.Warn().Msg("timed out waiting for the room to acknowledge leave")
	}

	loop.Do(ctx, func() {
		if bridge != nil {
			log.Info().Int("published", bridge.Published()).Int("failed", bridge.Failed()).Msg("closing event bridge")
			bridge.Close()
		}
		c.router.Close()
		c.players.Close()
		c.stations.Close()
		c.conn.Close()
	})
}

func readLines(ctx context.Context, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("failed to read stdin")
	}
}
