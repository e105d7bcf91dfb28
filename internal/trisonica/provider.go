package trisonica

import (
	"errors"
	"time"
)

// DefaultBaud is the factory serial rate of the Trisonica Mini.
const DefaultBaud = 115200

var (
	// ErrNoDevice means a full search pass found nothing that talks like an
	// anemometer. The caller decides whether to back off and retry.
	ErrNoDevice = errors.New("no anemometer found")

	// ErrNotConnected is returned by reads before Connect or after the link
	// dropped.
	ErrNotConnected = errors.New("not connected")

	// ErrReadTimeout means no complete line arrived inside the read window.
	// The device nominally streams continuously, so the caller treats this
	// as the link having gone quiet.
	ErrReadTimeout = errors.New("read timed out")

	// ErrDisconnected wraps I/O failures classified as the device going
	// away (unplug, port vanished, EOF).
	ErrDisconnected = errors.New("device disconnected")
)

// Provider supplies raw anemometer lines from some source, physical or
// simulated.
type Provider interface {
	Name() string
	Connect() error
	Close() error
	IsConnected() bool

	// ReadLine blocks until one full line arrives or the timeout elapses.
	// The returned line has its trailing CR/LF stripped.
	ReadLine(timeout time.Duration) (string, error)
}
