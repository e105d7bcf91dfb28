package trisonica

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// demoInterval approximates the real device's ~2 Hz output rate.
const demoInterval = 500 * time.Millisecond

// DemoProvider synthesizes anemometer output so the full pipeline, parser
// included, can run without hardware.
type DemoProvider struct {
	mu   sync.Mutex
	open bool
	t    float64 // virtual time accumulator, seconds
}

func NewDemoProvider() *DemoProvider {
	return &DemoProvider{}
}

func (d *DemoProvider) Name() string { return "Demo (Simulated)" }

func (d *DemoProvider) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

func (d *DemoProvider) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

func (d *DemoProvider) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// ReadLine emits one synthetic line per tick: a slowly wandering breeze with
// gusts, plus the occasional fault so the validation path gets exercise.
func (d *DemoProvider) ReadLine(timeout time.Duration) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return "", ErrNotConnected
	}
	if timeout < demoInterval {
		time.Sleep(timeout)
		return "", ErrReadTimeout
	}
	time.Sleep(demoInterval)
	d.t += demoInterval.Seconds()

	speed := 5 + 3*math.Sin(d.t/30) + rand.Float64()*2
	dir := math.Mod(180+60*math.Sin(d.t/45)+rand.Float64()*10, 360)
	u := speed * math.Cos(dir*math.Pi/180)
	v := speed * math.Sin(dir*math.Pi/180)
	w := rand.Float64()*0.6 - 0.3
	temp := 21 + 2*math.Sin(d.t/600) + rand.Float64()*0.3
	hum := 45 + 5*math.Sin(d.t/300) + rand.Float64()
	press := 1013 + 2*math.Sin(d.t/900)

	// Simulate a blocked acoustic path now and then
	if rand.Float64() < 0.02 {
		speed = Sentinel - 0.5
	}
	// And a rare corrupt direction word
	if rand.Float64() < 0.005 {
		dir = 9999
	}

	return fmt.Sprintf("S %06.2f S2 %06.2f D %05.1f U %+07.2f V %+07.2f W %+06.2f T %+06.2f H %05.1f P %07.2f",
		speed, math.Hypot(u, v), dir, u, v, w, temp, hum, press), nil
}
