package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"parlor/internal/config"
	"parlor/internal/server"
)

func main() {
	app := cli.NewApp()
	app.Name = "parlor"
	app.Usage = "line-oriented chat relay"
	app.ArgsUsage = "[port]"
	app.Flags = serverFlags()
	app.Action = runServer
	app.Commands = []cli.Command{
		{
			Name:      "server",
			ShortName: "s",
			Usage:     "Start the chat relay",
			ArgsUsage: "[port]",
			Flags:     serverFlags(),
			Action:    runServer,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func serverFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "Path to a TOML config file",
		},
		cli.IntFlag{
			Name:  "port,p",
			Usage: "TCP port to listen on",
		},
		cli.StringFlag{
			Name:  "ws-addr,w",
			Usage: "WebSocket bridge listen address (empty disables)",
		},
		cli.BoolFlag{
			Name:  "debug,d",
			Usage: "Enable debug output",
		},
	}
}

func runServer(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	log.SetFormatter(&plainFormatter{})

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("ws-addr") {
		cfg.WSAddr = c.String("ws-addr")
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}

	// A single positional port argument is accepted for compatibility with
	// older deployments; invalid input falls back to the configured port.
	if arg := c.Args().First(); arg != "" && !c.IsSet("port") {
		port, err := strconv.Atoi(arg)
		if err != nil || port < 1 || port > 65535 {
			log.Warnf("Invalid port argument %q. Using port %d", arg, cfg.Port)
		} else {
			cfg.Port = port
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	registry := server.NewRegistry(ctx, cfg.LastSeenDuration(), nil)
	listener := server.NewListener(cfg, registry, nil)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return listener.Start(gCtx)
	})

	var bridge *server.WSBridge
	if cfg.WSAddr != "" {
		bridge = server.NewWSBridge(cfg, registry, nil)
		g.Go(bridge.Start)
	}

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutting down relay...")

		listener.Stop()
		if bridge != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := bridge.Shutdown(shutdownCtx); err != nil {
				log.Warnf("WebSocket bridge shutdown error: %v", err)
			}
		}
		return nil
	})

	return g.Wait()
}
