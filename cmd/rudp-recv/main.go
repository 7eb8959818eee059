// Command rudp-recv binds a UDP socket on 127.0.0.1, announces its port on
// standard error and writes the byte stream received from a rudp-send peer to
// standard output.
//
// The first stderr line, "Bound to port <N>", is the only way the sending
// operator learns the port. The process keeps acknowledging the peer's final
// FIN indefinitely unless RUDP_TIME_WAIT bounds the linger.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/seqio/rudp/endpoint"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rudp-recv:", err)
		os.Exit(1)
	}
}

func run() error {
	tun, err := endpoint.TunablesFromEnv(context.Background())
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: tun.LogLevel}))

	tr, err := endpoint.ListenUDP("127.0.0.1", log)
	if err != nil {
		return err
	}
	defer tr.Close()
	fmt.Fprintf(os.Stderr, "Bound to port %d\n", tr.LocalAddrPort().Port())

	r := endpoint.NewReceiver(tr, os.Stdout, tun, log)
	return r.Run()
}
