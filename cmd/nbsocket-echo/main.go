// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

// Command nbsocket-echo is a small diagnostic binary exercising the
// Endpoint surface end to end: "listen" binds, listens, accepts, and
// echoes whatever it reads back to the peer; "dial" connects, writes a
// line, and prints whatever comes back. Built the same way the teacher
// builds its CLI (ffcli.Command + ff.WithEnvVarPrefix), per SPEC_FULL.md
// §9.3.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"

	martianlog "github.com/google/martian/v3/log"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"nbsocket.dev"
)

func main() {
	if err := newRoot().ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "nbsocket-echo:", err)
		os.Exit(1)
	}
}

func newRoot() *ffcli.Command {
	var verbose bool
	rootFS := flag.NewFlagSet("nbsocket-echo", flag.ExitOnError)
	rootFS.BoolVar(&verbose, "verbose", false, "enable debug logging")

	listen := newListenCommand(&verbose)
	dial := newDialCommand(&verbose)

	return &ffcli.Command{
		Name:        "nbsocket-echo",
		ShortUsage:  "nbsocket-echo [flags] <subcommand>",
		ShortHelp:   "exercise the nbsocket Endpoint surface from the command line",
		FlagSet:     rootFS,
		Subcommands: []*ffcli.Command{listen, dial},
		Options:     []ff.Option{ff.WithEnvVarPrefix("NBSOCKET")},
		Exec: func(ctx context.Context, args []string) error {
			return flag.ErrHelp
		},
	}
}

func setupLogging(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else {
		// Silence the vendored martian HTTP logger pulled in transitively by
		// the teacher's dependency set; this is the one place outside
		// run.go itself that exercises the teacher's martian/v3/log import.
		martianlog.SetLevel(martianlog.Silent)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func newListenCommand(verbose *bool) *ffcli.Command {
	fs := flag.NewFlagSet("nbsocket-echo listen", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:0", "address to bind and listen on")
	backlog := fs.Int("backlog", 0, "accept backlog (0 = package default)")
	timeoutMS := fs.Int64("timeout", 0, "SO_TIMEOUT in milliseconds for accept/read (0 = infinite)")
	nodelay := fs.Bool("nodelay", true, "set TCP_NODELAY on accepted connections")

	return &ffcli.Command{
		Name:       "listen",
		ShortUsage: "nbsocket-echo listen [flags]",
		ShortHelp:  "bind, listen, accept, and echo bytes back to each peer",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			logger := setupLogging(*verbose)

			ap, err := netip.ParseAddrPort(*addr)
			if err != nil {
				return fmt.Errorf("parse -addr: %w", err)
			}

			ln := nbsocket.NewEndpoint(true, nbsocket.WithLogger(logger))
			if err := ln.Create(nbsocket.DomainOf(ap.Addr()), true); err != nil {
				return fmt.Errorf("create: %w", err)
			}
			if err := ln.Bind(ap.Addr(), int(ap.Port())); err != nil {
				return fmt.Errorf("bind: %w", err)
			}
			if err := ln.Listen(*backlog); err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			if err := ln.SetOption(nbsocket.SO_TIMEOUT, *timeoutMS); err != nil {
				return fmt.Errorf("setOption SO_TIMEOUT: %w", err)
			}
			fmt.Println("listening")

			for {
				conn, err := ln.Accept(nil)
				if err != nil {
					logger.Error("accept failed", "err", err)
					continue
				}
				if *nodelay {
					conn.SetOption(nbsocket.TCP_NODELAY, true)
				}
				conn.SetOption(nbsocket.SO_TIMEOUT, *timeoutMS)
				go echo(logger, conn)
			}
		},
	}
}

func echo(logger *slog.Logger, conn *nbsocket.Endpoint) {
	defer conn.Close()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			logger.Debug("echo: read ended", "err", err)
			return
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			logger.Debug("echo: write failed", "err", err)
			return
		}
	}
}

func newDialCommand(verbose *bool) *ffcli.Command {
	fs := flag.NewFlagSet("nbsocket-echo dial", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:7", "address to connect to")
	timeoutMS := fs.Int64("timeout", 3000, "connect/read SO_TIMEOUT in milliseconds (0 = infinite)")
	line := fs.String("line", "hello from nbsocket-echo\n", "line to write after connecting")

	return &ffcli.Command{
		Name:       "dial",
		ShortUsage: "nbsocket-echo dial [flags]",
		ShortHelp:  "connect, write a line, and print the response",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			logger := setupLogging(*verbose)

			ap, err := netip.ParseAddrPort(*addr)
			if err != nil {
				return fmt.Errorf("parse -addr: %w", err)
			}

			conn := nbsocket.NewEndpoint(false, nbsocket.WithLogger(logger))
			if err := conn.Create(nbsocket.DomainOf(ap.Addr()), true); err != nil {
				return fmt.Errorf("create: %w", err)
			}
			defer conn.Close()

			if err := conn.Connect(ap.Addr(), int(ap.Port()), *timeoutMS); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			if err := conn.SetOption(nbsocket.SO_TIMEOUT, *timeoutMS); err != nil {
				return fmt.Errorf("setOption SO_TIMEOUT: %w", err)
			}

			if _, err := fmt.Fprint(conn.Writer(), *line); err != nil {
				return fmt.Errorf("write: %w", err)
			}

			reply, err := bufio.NewReader(conn.Reader()).ReadString('\n')
			if err != nil && reply == "" {
				return fmt.Errorf("read: %w", err)
			}
			fmt.Print(reply)
			return nil
		},
	}
}
