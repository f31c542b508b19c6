// Package serialcomm implements the serial link (spec.md C4): a
// single-owner byte channel to the motor controller, with framing,
// timeouts, and a mutex-guarded request/response and batch transaction
// API so no other goroutine can interleave bytes into the stream.
//
// It is grounded on comm.RemoteDevice's embeddable-transport, lock-guarded
// Open/Send/Recv pattern, adapted to the project's exact serial
// parameters (9600 baud, seven data bits, even parity) and its multi-line
// "Mclennan" banner reply, which RemoteDevice's single-terminator Recv
// does not itself support.
package serialcomm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"

	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/dserrors"
)

// CommandTerminator is appended to every outgoing command.
const CommandTerminator = '\r'

// ReplyTerminator ends every line read from the controller.
const ReplyTerminator = '\n'

// bannerPrefix identifies the start of a multi-line "query all" reply,
// which is read line by line until an empty line closes it.
const bannerPrefix = "Mclennan"

// DefaultSettleDelay is the pause between writing a command and reading
// its reply, giving the controller time to process before the UART buffer
// is drained.
const DefaultSettleDelay = 100 * time.Millisecond

// RealDeviceTimeout is the read deadline used against physical hardware.
const RealDeviceTimeout = 3 * time.Second

// SimulatorTimeout is the read deadline used against the in-process
// simulator, which replies far faster than real hardware.
const SimulatorTimeout = 100 * time.Millisecond

// transport is the minimal surface serialcomm needs from a byte channel;
// *serial.Port satisfies it, and tests substitute a fake.
type transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Config describes how to open the link.
type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	SettleDelay time.Duration
	// Simulator marks this link as talking to the in-process simulator;
	// the controller client uses it to suppress telemetry unconditionally.
	Simulator bool
}

// RealLinkConfig returns the configuration for the physical controller:
// 9600 baud, seven data bits, even parity, ~3 s read timeout.
func RealLinkConfig(port string) Config {
	return Config{
		Port:        port,
		Baud:        9600,
		ReadTimeout: RealDeviceTimeout,
		SettleDelay: DefaultSettleDelay,
	}
}

// SimulatorLinkConfig returns the configuration used when Port addresses
// the in-process simulator: same framing, a far shorter read timeout.
func SimulatorLinkConfig(port string) Config {
	cfg := RealLinkConfig(port)
	cfg.ReadTimeout = SimulatorTimeout
	cfg.Simulator = true
	return cfg
}

// Stats reports simple transaction bookkeeping, grounded on
// comm.RemoteDevice's lastComm field.
type Stats struct {
	Transactions int
	LastError    error
	LastComm     time.Time
}

// Link owns the byte channel exclusively. The zero value is not usable;
// build one with New.
type Link struct {
	mu     sync.Mutex
	cfg    Config
	conn   transport
	reader *bufio.Reader
	// opener is overridden in tests to avoid touching a real serial port.
	opener func(Config) (transport, error)

	stats Stats
}

// New builds a Link for cfg, not yet open.
func New(cfg Config) *Link {
	return &Link{cfg: cfg, opener: openSerialPort}
}

// NewWithTransport builds a Link already bound to conn, bypassing the
// usual opener. This is how the controller client talks to the in-process
// simulator (simulator.Simulator satisfies the same Read/Write/Close
// surface as a real serial.Port) and how tests substitute a fake channel
// without touching hardware.
func NewWithTransport(cfg Config, conn io.ReadWriteCloser) *Link {
	return &Link{
		cfg:    cfg,
		opener: func(Config) (transport, error) { return conn, nil },
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func openSerialPort(cfg Config) (transport, error) {
	sc := &serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		Size:        7,
		Parity:      serial.ParityEven,
		ReadTimeout: cfg.ReadTimeout,
	}
	return serial.OpenPort(sc)
}

// Open establishes the connection, retrying with exponential backoff the
// way comm.RemoteDevice.Open does. Calling Open on an already-open Link is
// a no-op, matching the idempotence spec.md requires.
func (l *Link) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}

	var conn transport
	op := func() error {
		c, err := l.opener(l.cfg)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return dserrors.LinkUnavailable{Port: l.cfg.Port, Err: err}
	}
	l.conn = conn
	l.reader = bufio.NewReader(conn)
	return nil
}

// Close idempotently releases the connection. Reopening after Close
// re-applies the configured defaults, since Open always rebuilds the
// transport from cfg.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	l.reader = nil
	return err
}

// IsSimulator reports whether this link was configured against the
// in-process simulator.
func (l *Link) IsSimulator() bool { return l.cfg.Simulator }

// Stats returns a snapshot of transaction bookkeeping.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Transact sends one command and returns its reply lines. For an ordinary
// reply this is a single line; for a banner reply ("Mclennan...") it
// collects every line up to the terminating blank line.
//
// The mutex spans the entire write-settle-read cycle so a concurrent
// caller's bytes can never be interleaved into this one's reply.
func (l *Link) Transact(cmd string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transactLocked(cmd)
}

// Batch sends every command in order, holding the link exclusively across
// the whole list, matching spec.md's "batch API that holds the port
// exclusively across a list of requests" requirement.
func (l *Link) Batch(cmds []string) ([][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([][]string, len(cmds))
	for i, cmd := range cmds {
		lines, err := l.transactLocked(cmd)
		if err != nil {
			return out, err
		}
		out[i] = lines
	}
	return out, nil
}

func (l *Link) transactLocked(cmd string) ([]string, error) {
	if l.conn == nil {
		return nil, fmt.Errorf("serialcomm: transact on closed link")
	}

	_, err := l.conn.Write(append([]byte(cmd), CommandTerminator))
	if err != nil {
		l.stats.LastError = err
		return nil, fmt.Errorf("serialcomm: write: %w", err)
	}
	l.stats.Transactions++
	l.stats.LastComm = time.Now()

	time.Sleep(l.cfg.SettleDelay)

	first, err := readLine(l.reader)
	if err != nil {
		l.stats.LastError = err
		if err == io.EOF || isTimeout(err) {
			return nil, nil // read-timeout: empty body, not an error callers must unwrap
		}
		return nil, fmt.Errorf("serialcomm: read: %w", err)
	}

	lines := []string{first}
	if !strings.Contains(first, bannerPrefix) {
		return lines, nil
	}

	more, err := l.drainUntilBlankLocked()
	lines = append(lines, more...)
	return lines, err
}

// DrainUntilBlank keeps reading lines from the link until a blank line is
// seen, for callers (the controller client) that detect mid-parse that a
// reply is continuing beyond its first line (e.g. a body containing
// "Sequence"), matching drivesystemlib's
// serial_port_read_multiple_lines(True) drain-after-detection pattern.
func (l *Link) DrainUntilBlank() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drainUntilBlankLocked()
}

func (l *Link) drainUntilBlankLocked() ([]string, error) {
	if l.conn == nil {
		return nil, fmt.Errorf("serialcomm: drain on closed link")
	}
	var lines []string
	for {
		line, err := readLine(l.reader)
		if err != nil {
			l.stats.LastError = err
			return lines, fmt.Errorf("serialcomm: read banner: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			break
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func readLine(r *bufio.Reader) (string, error) {
	buf, err := r.ReadBytes(ReplyTerminator)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf, "\r\n")), nil
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}
