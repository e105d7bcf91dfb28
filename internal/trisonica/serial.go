package trisonica

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// portReadTimeout bounds a single low-level read so line assembly can check
// its own deadline between chunks.
const portReadTimeout = 500 * time.Millisecond

// probeTokens are substrings that identify anemometer output during port
// detection. Any one of them on a line is enough.
var probeTokens = []string{"S ", "S2", "D ", "T ", "U ", "V "}

// SerialConfig configures the physical device link.
type SerialConfig struct {
	Port        string // explicit device path; empty enables discovery
	Baud        int
	ProbeLines  int           // lines to inspect per candidate port
	ProbeWindow time.Duration // how long to listen per candidate
}

// SerialProvider reads the anemometer over a USB serial link. The mutex
// guards the port handle against a Close racing a pending read; everything
// else runs on the acquisition loop's goroutine.
type SerialProvider struct {
	cfg SerialConfig
	log *logrus.Entry

	mu   sync.Mutex
	port serial.Port
	path string
	rx   []byte
}

func NewSerialProvider(cfg SerialConfig, log *logrus.Entry) *SerialProvider {
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ProbeLines <= 0 {
		cfg.ProbeLines = 10
	}
	if cfg.ProbeWindow <= 0 {
		cfg.ProbeWindow = 3 * time.Second
	}
	return &SerialProvider{cfg: cfg, log: log}
}

func (s *SerialProvider) Name() string { return "Trisonica Mini" }

func (s *SerialProvider) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: s.cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Connect finds and opens the device. With an explicit port configured only
// that path is used; otherwise the previous path is re-probed first (a
// replugged device usually re-enumerates at the same node), then all
// candidates in discovery order. One full pass with no hit is ErrNoDevice.
func (s *SerialProvider) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}

	path := s.cfg.Port
	if path == "" && s.path != "" && s.probe(s.path) {
		path = s.path
	}
	if path == "" {
		found, err := s.locate()
		if err != nil {
			return err
		}
		path = found
	}

	port, err := serial.Open(path, s.mode())
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(portReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("set timeout on %s: %w", path, err)
	}

	s.port = port
	s.path = path
	s.rx = nil
	s.log.WithFields(logrus.Fields{"port": path, "baud": s.cfg.Baud}).Info("connected")
	return nil
}

func (s *SerialProvider) locate() (string, error) {
	candidates := CandidatePorts()
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no serial ports present", ErrNoDevice)
	}
	for _, path := range candidates {
		s.log.WithField("port", path).Debug("probing")
		if s.probe(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %d ports probed", ErrNoDevice, len(candidates))
}

// probe listens on a candidate port for a few lines and accepts it when one
// looks like anemometer output.
func (s *SerialProvider) probe(path string) bool {
	port, err := serial.Open(path, s.mode())
	if err != nil {
		return false
	}
	defer port.Close()
	port.SetReadTimeout(portReadTimeout)

	deadline := time.Now().Add(s.cfg.ProbeWindow)
	var carry []byte
	for n := 0; n < s.cfg.ProbeLines; n++ {
		line, err := readPortLine(port, &carry, deadline)
		if err != nil {
			return false
		}
		if looksLikeAnemometer(line) {
			return true
		}
	}
	return false
}

func looksLikeAnemometer(line string) bool {
	for _, tok := range probeTokens {
		if strings.Contains(line, tok) {
			return true
		}
	}
	return false
}

// ReadLine returns the next full line from the device. Crossing the timeout
// without one means the stream has gone quiet; an unplug surfaces as
// ErrDisconnected and releases the port so Connect can search again.
func (s *SerialProvider) ReadLine(timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return "", ErrNotConnected
	}
	line, err := readPortLine(s.port, &s.rx, time.Now().Add(timeout))
	if errors.Is(err, ErrDisconnected) {
		s.closeLocked()
	}
	return line, err
}

func (s *SerialProvider) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Close releases the port. Safe to call repeatedly; the last known path is
// kept for the reopen shortcut.
func (s *SerialProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *SerialProvider) closeLocked() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.rx = nil
	s.log.WithField("port", s.path).Info("port closed")
	return err
}

// readPortLine accumulates chunks into carry until a newline shows up or the
// deadline passes. A zero-byte nil-error read is the port-level timeout tick
// and just re-checks the deadline.
func readPortLine(port serial.Port, carry *[]byte, deadline time.Time) (string, error) {
	chunk := make([]byte, 512)
	for {
		if i := bytes.IndexByte(*carry, '\n'); i >= 0 {
			line := strings.TrimRight(string((*carry)[:i]), "\r")
			*carry = (*carry)[i+1:]
			return line, nil
		}
		if !time.Now().Before(deadline) {
			return "", ErrReadTimeout
		}

		n, err := port.Read(chunk)
		if err != nil {
			if isDisconnectError(err) {
				return "", fmt.Errorf("%w: %v", ErrDisconnected, err)
			}
			return "", fmt.Errorf("serial read: %w", err)
		}
		if n > 0 {
			*carry = append(*carry, chunk[:n]...)
		}
	}
}

// isDisconnectError classifies read failures that mean the device went away
// rather than a local configuration problem.
func isDisconnectError(err error) bool {
	if err == nil {
		return false
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, io.EOF) {
		return true
	}

	// OS-level errors come through unwrapped; match the usual suspects.
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"input/output error",
		"device not configured",
		"no such device",
		"no such file or directory",
		"broken pipe",
		"device disconnected",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
