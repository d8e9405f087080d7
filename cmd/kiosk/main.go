// Package main runs a headless scanner station: frames are image files
// dropped into a watched directory, typed lines are manual entries, and
// lookups and loans go to an equipscan server over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harrylevesque/equipscan/internal/client"
	"github.com/harrylevesque/equipscan/internal/config"
	"github.com/harrylevesque/equipscan/internal/scanner"
	"github.com/harrylevesque/equipscan/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "Config file path (YAML)")
	frames := flag.String("frames", "", "Directory watched for camera frames (default scanner.frame_dir)")
	serverFlag := flag.String("server", "", "Server base URL (default EQUIPSCAN_SERVER or "+client.DefaultServer+")")
	token := flag.String("token", os.Getenv("EQUIPSCAN_TOKEN"), "API token")
	flag.Parse()

	if err := run(*configPath, *frames, *serverFlag, *token); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, frames, server, token string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Close()

	if server == "" {
		server = utils.EnvOrDefault("EQUIPSCAN_SERVER", client.DefaultServer)
	}
	if frames == "" {
		frames = cfg.Scanner.FrameDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	term := newTerminal(os.Stdout, cfg.Scanner.Sounds, stop)
	var cam scanner.Camera
	if frames != "" {
		cam = scanner.NewDirCamera(frames, logger.Logger)
	}
	sc := cfg.Scanner
	sess := scanner.NewSession(scanner.Options{
		Camera:        cam,
		Inventory:     client.New(strings.TrimRight(server, "/"), token),
		DecoderName:   sc.Decoder,
		Formats:       sc.Formats,
		Notifier:      term,
		Navigator:     term,
		Cues:          term,
		Logger:        logger.Logger,
		BaseContext:   ctx,
		TickInterval:  sc.TickInterval,
		NavigateDelay: sc.NavigateDelay,
		Cooldown:      sc.Cooldown,
		LookupTimeout: sc.LookupTimeout,
		Station:       utils.StationID(),
	})

	states, unsubscribe := sess.Subscribe()
	defer unsubscribe()
	go term.watch(ctx, states)

	term.printf("Scanner station ready (server %s). Type a code, or :borrow, :return, :open, :quit.\n", server)
	go readCommands(ctx, os.Stdin, sess, term, stop)
	return sess.Run(ctx)
}
