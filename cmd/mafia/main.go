package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/DoyleJ11/mafia-session/internal/config"
	"github.com/DoyleJ11/mafia-session/internal/discovery"
	"github.com/DoyleJ11/mafia-session/internal/host"
	"github.com/DoyleJ11/mafia-session/internal/hub"
	"github.com/DoyleJ11/mafia-session/internal/lobby"
	"github.com/DoyleJ11/mafia-session/internal/logging"
	"github.com/DoyleJ11/mafia-session/internal/replica"
	"github.com/DoyleJ11/mafia-session/internal/transport"
	"github.com/pterm/pterm"
	"go.uber.org/zap"
)

const usage = "usage: mafia host [-code ABC123] | mafia join -code ABC123 -name Alice"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "host":
		err = runHost(ctx, cfg, logger, os.Args[2:])
	case "join":
		err = runJoin(ctx, cfg, logger, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func runHost(ctx context.Context, cfg config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("host", flag.ExitOnError)
	code := fs.String("code", "", "session code to register (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg, err := discovery.NewClient(cfg.DiscoveryURL, discovery.WithLogger(logger))
	if err != nil {
		return err
	}
	ep, err := transport.Open(ctx,
		transport.WithID(hub.NormalizeCode(*code)),
		transport.WithRegistry(reg),
		transport.WithListenAddr(cfg.PeerListenAddr),
		transport.WithAdvertiseAddr(cfg.PeerAdvertiseAddr),
		transport.WithConnectTimeout(cfg.ConnectTimeout),
		transport.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	lb := lobby.NewLobby(ctx,
		lobby.WithCapacity(cfg.SessionCapacity),
		lobby.WithCode(ep.ID()),
		lobby.WithLogger(logger),
	)
	h := host.New(ep, lb, logger)
	defer func() {
		if err := h.Leave(); err != nil {
			logger.Warn("leave failed", zap.Error(err))
		}
	}()

	served := make(chan error, 1)
	go func() { served <- h.Serve(ctx) }()

	pterm.DefaultHeader.WithFullWidth().Printfln("Hosting session %s", ep.ID())
	pterm.Info.Printfln("Share the code %s. Commands: %s", pterm.LightYellow(ep.ID()), hostCommands)

	views, cancel := lb.Views().Subscribe()
	defer cancel()
	go func() {
		for v := range views {
			renderHostView(v)
		}
	}()

	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-served:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := hostCommand(ctx, lb, line)
			if err != nil {
				pterm.Warning.Println(err)
			}
			if quit {
				return nil
			}
		}
	}
}

const hostCommands = "start, next, promote <id>, demote <id>, kill <id>, roster, quit"

func hostCommand(ctx context.Context, lb *lobby.Lobby, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	arg := func() (string, error) {
		if len(fields) != 2 {
			return "", fmt.Errorf("%s needs a participant id", fields[0])
		}
		return fields[1], nil
	}

	switch fields[0] {
	case "start":
		return false, lb.StartGame(ctx)
	case "next":
		return false, lb.Advance(ctx)
	case "promote", "demote", "kill":
		id, err := arg()
		if err != nil {
			return false, err
		}
		switch fields[0] {
		case "promote":
			return false, lb.Promote(ctx, id)
		case "demote":
			return false, lb.Demote(ctx, id)
		default:
			return false, lb.Eliminate(ctx, id)
		}
	case "roster":
		v, err := lb.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		renderHostView(v)
		return false, nil
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (%s)", fields[0], hostCommands)
	}
}

func runJoin(ctx context.Context, cfg config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	code := fs.String("code", "", "session code shared by the host")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !hub.ValidCode(hub.NormalizeCode(*code)) || strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	reg, err := discovery.NewClient(cfg.DiscoveryURL, discovery.WithLogger(logger))
	if err != nil {
		return err
	}
	ep, err := transport.Open(ctx,
		transport.WithRegistry(reg),
		transport.WithConnectTimeout(cfg.ConnectTimeout),
		transport.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer func() { _ = ep.Close() }()

	spinner, _ := pterm.DefaultSpinner.Start("Connecting to session " + hub.NormalizeCode(*code))
	client, err := replica.Join(ctx, ep, hub.NormalizeCode(*code), strings.TrimSpace(*name), logger)
	if err != nil {
		spinner.Fail()
		switch {
		case errors.Is(err, transport.ErrConnectionTimeout):
			return fmt.Errorf("the host did not answer in time, try again: %w", err)
		case errors.Is(err, transport.ErrPeerUnavailable):
			return fmt.Errorf("no session with that code is reachable, check it and try again: %w", err)
		}
		return err
	}
	spinner.Success("Joined as " + *name)

	states, cancel := client.Replica().Subscribe()
	defer cancel()
	go func() {
		for st := range states {
			renderReplica(st)
		}
	}()

	err = client.Run(ctx)
	switch {
	case errors.Is(err, replica.ErrSessionTerminated):
		pterm.Warning.Println("The host ended the session")
		return nil
	case errors.Is(err, context.Canceled):
		return client.Leave()
	}
	return err
}

// readLines feeds trimmed stdin lines to a channel that closes at EOF.
func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- strings.TrimSpace(sc.Text())
		}
	}()
	return out
}
