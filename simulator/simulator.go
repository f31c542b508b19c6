// Package simulator implements the controller simulator (spec.md C9): a
// drop-in stand-in for the real motor controller, exposing the same
// byte-channel framing serialcomm.Link expects, so the rest of the stack
// is unaware it is talking to a model instead of hardware.
//
// It is grounded on MotorSim/MotorBoxSim: each axis runs a deterministic
// stepwise motion model advanced on a fast internal tick, and the command
// parser recognises the same small verb set with the same reply bodies.
package simulator

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// TickInterval is the simulated motion model's internal step period.
const TickInterval = 100 * time.Millisecond

const (
	defaultCreepSpeed = 100
	defaultSlewSpeed  = 2000
)

// axis models one simulated motor, mirroring MotorSim's fields.
type axis struct {
	num        int
	encoder    int
	target     int
	creepSpeed int
	slewSpeed  int
	aborted    bool
	status     string
}

func newAxis(num int) *axis {
	return &axis{
		num:        num,
		creepSpeed: defaultCreepSpeed,
		slewSpeed:  defaultSlewSpeed,
		status:     "STATUS",
	}
}

// step advances the axis model by one tick, matching MotorSim.run's body.
func (a *axis) step() {
	if a.target != a.encoder && !a.aborted {
		direction := 1
		if a.target < a.encoder {
			direction = -1
		}
		distStep := int(float64(direction) * TickInterval.Seconds() * float64(a.slewSpeed))
		if abs(a.encoder-a.target) < abs(distStep) {
			a.encoder = a.target
			a.status = "Idle (TO BE CHECKED)"
		} else {
			a.encoder += distStep
		}
	}
	if a.aborted {
		a.target = a.encoder
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (a *axis) move(newEncoder int) {
	a.target = newEncoder
	a.status = fmt.Sprintf("%02d:! MOVING TO %d", a.num, newEncoder)
}

func (a *axis) setPosition(encoder int) {
	a.encoder = encoder
	a.target = encoder
}

func (a *axis) abort() {
	a.aborted = true
	a.target = a.encoder
	a.status = fmt.Sprintf("%02d:! COMMAND ABORT", a.num)
}

func (a *axis) reset() {
	if a.aborted {
		a.status = fmt.Sprintf("%02d: RESET", a.num)
	} else {
		a.status = fmt.Sprintf("%02d:! NOT ABORTED", a.num)
	}
	a.aborted = false
}

var cmdPattern = regexp.MustCompile(`^(\d*)(\D\D)(-?\d*)\r$`)

// Simulator implements the same Read/Write/Close surface as a serial
// port: Write hands it a raw command (terminated by \r), and the reply
// becomes available to the next Read calls, framed with \r\n exactly as
// the real controller frames its replies.
type Simulator struct {
	mu      sync.Mutex
	axes    map[int]*axis
	outbuf  bytes.Buffer
	stopCh  chan struct{}
	stopped bool
}

// New builds a simulator with NumAxes axes (default 7, matching
// MotorBoxSim's motor_list), numbered 1..NumAxes, starting at zero
// position, and launches the background tick that advances motion.
func New(numAxes int) *Simulator {
	if numAxes <= 0 {
		numAxes = 7
	}
	s := &Simulator{
		axes:   make(map[int]*axis, numAxes),
		stopCh: make(chan struct{}),
	}
	for i := 1; i <= numAxes; i++ {
		s.axes[i] = newAxis(i)
	}
	go s.run()
	return s
}

// SetInitialPositions seeds every axis's starting encoder value, in axis
// order starting at 1, mirroring set_initial_encoder_positions.
func (s *Simulator) SetInitialPositions(positions []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range positions {
		if a, ok := s.axes[i+1]; ok {
			a.setPosition(p)
		}
	}
}

func (s *Simulator) run() {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			for _, a := range s.axes {
				a.step()
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the simulator's background tick. Safe to call once.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	return nil
}

// Write processes one raw command and appends its reply to the outbound
// buffer for the next Read calls to drain, mirroring process_command's
// instant, synchronous reply generation.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbuf.WriteString(s.processCommand(string(p)))
	return len(p), nil
}

// Read drains bytes already queued by a prior Write.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbuf.Read(p)
}

// processCommand mirrors MotorBoxSim.process_command's dispatch and reply
// bodies, including the "UNKNOWN COMMAND" fallback and the fixed qa
// banner. Notably absent is "co" (current operation/status): the
// original simulator never implemented it either, so coordinated
// operations that poll status only ever ran against real hardware. A
// "co" sent here falls through to the unknown-command reply, same as
// upstream.
func (s *Simulator) processCommand(input string) string {
	if input == "" {
		return ""
	}
	m := cmdPattern.FindStringSubmatch(input)
	if m == nil {
		return "\r00:! UNKNOWN COMMAND RECEIVED BY SIMULATION!\r\n"
	}
	axisNum, err := strconv.Atoi(m[1])
	if err != nil {
		return "\r00:! UNKNOWN COMMAND RECEIVED BY SIMULATION!\r\n"
	}
	a, ok := s.axes[axisNum]
	if !ok {
		return "\r00:! UNKNOWN COMMAND RECEIVED BY SIMULATION!\r\n"
	}
	cmd := m[2]
	arg := m[3]

	// reply frames a status as "\r<axis>:<body>\r\n"; the statuses the
	// motion model sets ("STATUS", "Idle (TO BE CHECKED)") carry no
	// "<axis>:" prefix of their own.
	reply := func(status string) string {
		prefix := fmt.Sprintf("%02d:", axisNum)
		if len(status) < len(prefix) || status[:len(prefix)] != prefix {
			status = prefix + status
		}
		return "\r" + status + "\r\n"
	}

	switch cmd {
	case "oa":
		return fmt.Sprintf("\r%02d:%d\r\n", axisNum, a.encoder)
	case "ma":
		if a.aborted {
			return reply(a.status)
		}
		status := a.status
		n, _ := strconv.Atoi(arg)
		a.move(n)
		return reply(status)
	case "mr":
		if a.aborted {
			return reply(a.status)
		}
		status := a.status
		n, _ := strconv.Atoi(arg)
		a.move(n + a.encoder)
		return reply(status)
	case "ap":
		n, _ := strconv.Atoi(arg)
		a.setPosition(n)
		return fmt.Sprintf("\r%02d:! OK\r\n", axisNum)
	case "ab":
		a.abort()
		return "\r" + a.status + "\r\n"
	case "rs":
		a.reset()
		return "\r" + a.status + "\r\n"
	case "qa":
		return queryAllBanner(axisNum, a)
	default:
		return "\r" + input + "00:! UNKNOWN COMMAND RECEIVED BY SIMULATION!\r\n"
	}
}

// queryAllBanner reproduces the fixed, multi-line "Mclennan" block,
// terminated by an empty line so callers know when to stop reading.
func queryAllBanner(axisNum int, a *axis) string {
	return fmt.Sprintf(
		"\r%02dqa\rMclennan Digiloop Motor Controller V1.04   Servo mode\r\n"+
			"Input command: %dqa\r\n"+
			"Address = %d                          Privilege level = 8\r\n"+
			"Mode = %s\r\n"+
			"Slew speed = %d                     Limit decel = 20000000\r\n"+
			"Creep speed = %d                    Creep steps = 0\r\n"+
			"Command pos = 0                      Actual pos = %d\r\n"+
			"\r\n",
		axisNum, axisNum, axisNum, a.status, a.slewSpeed, a.creepSpeed, a.encoder)
}
