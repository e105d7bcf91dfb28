package trisonica

import (
	"testing"
	"time"
)

func TestDemoProviderEmitsParseableLines(t *testing.T) {
	d := NewDemoProvider()
	if err := d.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer d.Close()

	p := newTestParser(t, SepAuto)
	line, err := d.ReadLine(2 * time.Second)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	frame, err := p.Parse(line, time.Now())
	if err != nil {
		t.Fatalf("demo line %q failed to parse: %v", line, err)
	}
	for _, code := range []string{"S", "D", "T", "H", "P"} {
		if _, ok := frame.Values[code]; !ok {
			t.Errorf("demo line missing %s: %q", code, line)
		}
	}
}

func TestDemoProviderNotConnected(t *testing.T) {
	d := NewDemoProvider()
	if _, err := d.ReadLine(time.Second); err != ErrNotConnected {
		t.Errorf("ReadLine before Connect: err = %v, want ErrNotConnected", err)
	}
	if d.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
}
