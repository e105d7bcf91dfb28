package notify

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Notifier receives write-activity callbacks from the acquisition loop. It
// must never block and never return errors into the data path.
type Notifier interface {
	Wrote()
}

// Nop is the default notifier for hosts with no indicator hardware.
type Nop struct{}

func (Nop) Wrote() {}

// SysfsLED blinks a Linux LED by toggling its brightness attribute, the
// usual /sys/class/leds path on a Pi. A missing or unwritable LED is logged
// once and the notifier keeps quiet afterwards.
type SysfsLED struct {
	path   string
	log    *logrus.Entry
	lit    bool
	warned bool
}

func NewSysfsLED(path string, log *logrus.Entry) *SysfsLED {
	return &SysfsLED{path: path, log: log}
}

func (l *SysfsLED) Wrote() {
	l.lit = !l.lit
	b := []byte("0")
	if l.lit {
		b = []byte("1")
	}
	if err := os.WriteFile(l.path, b, 0644); err != nil && !l.warned {
		l.warned = true
		l.log.WithError(err).WithField("led", l.path).Warn("write indicator unavailable")
	}
}
