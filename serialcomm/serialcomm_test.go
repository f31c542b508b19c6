package serialcomm

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

// fakeTransport is an in-memory transport: writes are discarded, reads
// come from a canned buffer, mimicking a controller's scripted replies.
type fakeTransport struct {
	reply *bytes.Buffer
	sent  []string
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.sent = append(f.sent, string(p))
	return len(p), nil
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if f.reply.Len() == 0 {
		return 0, io.EOF
	}
	return f.reply.Read(p)
}

func (f *fakeTransport) Close() error { return nil }

func newTestLink(reply string) (*Link, *fakeTransport) {
	ft := &fakeTransport{reply: bytes.NewBufferString(reply)}
	l := New(Config{Port: "fake", SettleDelay: 0})
	l.opener = func(Config) (transport, error) { return ft, nil }
	return l, ft
}

func TestTransactStandardReply(t *testing.T) {
	l, ft := newTestLink("\r01:1234\r\n")
	if err := l.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	lines, err := l.Transact("01oa")
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "1234") {
		t.Errorf("lines = %v, want single line containing 1234", lines)
	}
	if len(ft.sent) != 1 || !strings.HasSuffix(ft.sent[0], "\r") {
		t.Errorf("sent = %v, want command terminated with \\r", ft.sent)
	}
}

func TestTransactBannerReply(t *testing.T) {
	l, _ := newTestLink("Mclennan Servo Supervisor\nfirmware 1.0\n\n")
	l.Open()
	lines, err := l.Transact("01qa")
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %v, want 2 banner lines", lines)
	}
}

func TestTransactOnClosedLinkErrors(t *testing.T) {
	l := New(Config{Port: "fake"})
	if _, err := l.Transact("01oa"); err == nil {
		t.Fatal("expected error transacting on unopened link")
	}
}

func TestOpenIdempotent(t *testing.T) {
	l, _ := newTestLink("")
	calls := 0
	baseOpener := l.opener
	l.opener = func(c Config) (transport, error) {
		calls++
		return baseOpener(c)
	}
	if err := l.Open(); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := l.Open(); err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if calls != 1 {
		t.Errorf("opener called %d times, want 1 (Open must be idempotent)", calls)
	}
}

func TestCloseIdempotent(t *testing.T) {
	l, _ := newTestLink("")
	l.Open()
	if err := l.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestBatchHoldsLinkAcrossAllRequests(t *testing.T) {
	l, _ := newTestLink("\r01:OK\r\n\r02:OK\r\n")
	l.Open()
	results, err := l.Batch([]string{"01ab", "02ab"})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %v, want 2 entries", results)
	}
}

func TestDrainUntilBlankAfterSequenceDetection(t *testing.T) {
	l, _ := newTestLink("\r01:Sequence running\r\nstep one\r\nstep two\r\n\r\n")
	l.Open()
	lines, err := l.Transact("01co")
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "Sequence") {
		t.Fatalf("lines = %v, want single line mentioning Sequence", lines)
	}
	more, err := l.DrainUntilBlank()
	if err != nil {
		t.Fatalf("DrainUntilBlank: %v", err)
	}
	if len(more) != 2 {
		t.Fatalf("drained = %v, want 2 trailing lines", more)
	}
}

func TestStatsTracksTransactions(t *testing.T) {
	l, _ := newTestLink("\r01:OK\r\n")
	l.Open()
	l.Transact("01co")
	if got := l.Stats().Transactions; got != 1 {
		t.Errorf("Transactions = %d, want 1", got)
	}
}

func TestRealAndSimulatorConfigsDifferInTimeout(t *testing.T) {
	real := RealLinkConfig("/dev/ttyS0")
	sim := SimulatorLinkConfig("sim://0")
	if real.ReadTimeout <= sim.ReadTimeout {
		t.Errorf("expected simulator timeout %v to be shorter than real timeout %v", sim.ReadTimeout, real.ReadTimeout)
	}
	if !sim.Simulator || real.Simulator {
		t.Errorf("Simulator flag not set correctly: real=%v sim=%v", real.Simulator, sim.Simulator)
	}
}
