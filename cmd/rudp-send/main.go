// Command rudp-send reads one line from standard input and delivers it
// reliably to a rudp-recv peer over UDP.
//
// Usage:
//
//	rudp-send <recv_host> <recv_port>
//
// Diagnostics go to standard error. Protocol tuning is taken from RUDP_
// environment variables; see the endpoint package.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/seqio/rudp/endpoint"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rudp-send:", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) != 3 {
		return fmt.Errorf("usage: %s <recv_host> <recv_port>", os.Args[0])
	}
	host := os.Args[1]
	port, err := strconv.ParseUint(os.Args[2], 10, 16)
	if err != nil || port == 0 {
		return fmt.Errorf("invalid port %q", os.Args[2])
	}

	tun, err := endpoint.TunablesFromEnv(context.Background())
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: tun.LogLevel}))

	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, os.Args[2]))
	if err != nil {
		return fmt.Errorf("resolve %s:%d: %w", host, port, err)
	}

	tr, err := endpoint.ListenUDP("127.0.0.1", log)
	if err != nil {
		return err
	}
	defer tr.Close()
	log.Info("bound", slog.String("local", tr.LocalAddrPort().String()), slog.String("remote", raddr.String()))

	s := endpoint.NewSender(tr, raddr.AddrPort(), os.Stdin, tun, log)
	return s.Run()
}
