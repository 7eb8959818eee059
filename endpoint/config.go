package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/seqio/rudp"
)

// Tunables collects the protocol constants. The defaults reproduce the
// reference wire behavior exactly; deployments may override them through
// RUDP_-prefixed environment variables since the command line surface carries
// no flags.
type Tunables struct {
	// MSS is the maximum payload carried by one data segment.
	MSS int `env:"MSS,default=1440"`
	// LocalWindow is the receive window advertised in every header.
	LocalWindow uint16 `env:"WINDOW,default=7000"`
	// CwndFloor and CwndCeil clamp the congestion window, in segments.
	CwndFloor int `env:"CWND_FLOOR,default=2"`
	CwndCeil  int `env:"CWND_CEIL,default=42"`
	// InitialRTT seeds the smoothed round-trip estimate; the first
	// retransmission timeout is twice this value.
	InitialRTT time.Duration `env:"RTT_INITIAL,default=400ms"`
	MinRTT     time.Duration `env:"RTT_MIN,default=5ms"`
	MaxRTT     time.Duration `env:"RTT_MAX,default=900ms"`
	// ControlRTO paces the receiver's SYN|ACK retransmission while the
	// handshake is incomplete.
	ControlRTO time.Duration `env:"CONTROL_RTO,default=1s"`
	// FinAckPeriod is the interval at which a finished receiver re-sends its
	// FIN|ACK so the peer's final FIN retransmits stay acknowledged.
	FinAckPeriod time.Duration `env:"FINACK_PERIOD,default=30ms"`
	// TimeWait bounds how long a finished receiver lingers before exiting.
	// Zero keeps it lingering indefinitely.
	TimeWait time.Duration `env:"TIME_WAIT,default=0s"`
	// MaxRetransmits bounds per-segment retransmissions. Zero retries forever.
	MaxRetransmits int `env:"MAX_RETRANSMITS,default=0"`
	// LogLevel selects diagnostic verbosity on the standard error channel.
	LogLevel slog.Level `env:"LOG_LEVEL,default=INFO"`
}

// DefaultTunables returns the reference constants without consulting the
// environment.
func DefaultTunables() Tunables {
	return Tunables{
		MSS:          1440,
		LocalWindow:  7000,
		CwndFloor:    2,
		CwndCeil:     42,
		InitialRTT:   400 * time.Millisecond,
		MinRTT:       5 * time.Millisecond,
		MaxRTT:       900 * time.Millisecond,
		ControlRTO:   time.Second,
		FinAckPeriod: 30 * time.Millisecond,
		LogLevel:     slog.LevelInfo,
	}
}

// TunablesFromEnv resolves the tunables from RUDP_-prefixed environment
// variables, falling back to the defaults.
func TunablesFromEnv(ctx context.Context) (Tunables, error) {
	var tun Tunables
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &tun,
		Lookuper: envconfig.PrefixLookuper("RUDP_", envconfig.OsLookuper()),
	})
	if err != nil {
		return tun, fmt.Errorf("resolve tunables: %w", err)
	}
	return tun, tun.Validate()
}

// Validate rejects tunable combinations the protocol cannot operate with.
func (tun Tunables) Validate() error {
	switch {
	case tun.MSS <= 0 || tun.MSS > rudp.MaxPayload:
		return fmt.Errorf("endpoint: MSS %d outside (0, %d]", tun.MSS, rudp.MaxPayload)
	case tun.CwndFloor < 1 || tun.CwndCeil < tun.CwndFloor:
		return errors.New("endpoint: congestion window clamp empty")
	case tun.MinRTT <= 0 || tun.MaxRTT < tun.MinRTT:
		return errors.New("endpoint: round-trip clamp empty")
	case tun.InitialRTT < tun.MinRTT || tun.InitialRTT > tun.MaxRTT:
		return errors.New("endpoint: initial round-trip outside clamp")
	case tun.ControlRTO <= 0 || tun.FinAckPeriod <= 0:
		return errors.New("endpoint: control timers must be positive")
	}
	return nil
}
