// Package hx711sim is a virtual HX711 that plugs into the driver's clock and
// data pin interfaces.
//
// It shifts out one 24-bit frame per conversion on rising clock edges, counts
// the trailing pulses to learn the selector for the next conversion, and
// powers down when the clock is held high for 60µs of virtual time. Virtual
// time only advances through Sleep, so a driver configured with Chip.Sleep
// runs deterministically.
package hx711sim

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Selectors, by trailing pulse count.
const (
	A128 = 1
	B32  = 2
	A64  = 3
)

const powerDownAfter = 60 * time.Microsecond

// Chip is a simulated HX711. It implements hx711.ClockPin and hx711.DataPin.
type Chip struct {
	mu sync.Mutex

	now       time.Duration
	clk       gpio.Level
	clkHighAt time.Duration

	sel     int    // selector for the next conversion
	count   int    // rising edges since the frame started
	ready   bool   // conversion latched, DOUT low
	shift   uint32 // frame being shifted out
	dout    gpio.Level
	stalled bool
	queues  map[int][]int32
	source  func(sel int) int32
	frames  []int
	cycles  int
	polls   int
	edge    gpio.Edge
	edges   chan struct{}
}

// New returns a chip that has just powered on at gain 128 with every input
// reading zero.
func New() *Chip {
	return &Chip{
		sel:    A128,
		dout:   gpio.High,
		queues: map[int][]int32{},
		edges:  make(chan struct{}, 1),
	}
}

func (c *Chip) String() string {
	return "hx711sim"
}

// SetValue makes every following conversion for sel return raw.
func (c *Chip) SetValue(sel int, raw int32) {
	c.Queue(sel, raw)
}

// Queue replaces the pending values for sel. Conversions consume them in
// order and the last one repeats.
func (c *Chip) Queue(sel int, raws ...int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[sel] = append([]int32(nil), raws...)
}

// SetSource makes conversions call fn instead of consuming queued values.
func (c *Chip) SetSource(fn func(sel int) int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = fn
}

// Stall stops conversions from completing, so DOUT stays high.
func (c *Chip) Stall(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalled = on
}

// Sleep advances virtual time.
func (c *Chip) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// Out drives PD_SCK.
func (c *Chip) Out(l gpio.Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l == c.clk {
		return nil
	}
	c.clk = l
	if l == gpio.High {
		c.clkHighAt = c.now
		c.rising()
		return nil
	}
	if c.now-c.clkHighAt >= powerDownAfter {
		c.powerOn()
	}
	return nil
}

func (c *Chip) rising() {
	switch {
	case c.count == 0 && !c.ready:
		// Clocking a busy chip does nothing.
	case c.count < 24:
		c.ready = false
		c.count++
		if c.shift&(1<<(24-c.count)) != 0 {
			c.dout = gpio.High
		} else {
			c.dout = gpio.Low
		}
	default:
		c.count++
		c.dout = gpio.High
	}
}

// powerOn models the wake up after power down: the selector returns to A128
// and any frame in progress is lost.
func (c *Chip) powerOn() {
	c.count = 0
	c.ready = false
	c.sel = A128
	c.dout = gpio.High
	c.cycles++
}

func (c *Chip) poweredDown() bool {
	return c.clk == gpio.High && c.now-c.clkHighAt >= powerDownAfter
}

// finish closes a frame once its trailing pulses are in.
func (c *Chip) finish() {
	extra := c.count - 24
	c.frames = append(c.frames, extra)
	if extra >= A128 && extra <= A64 {
		c.sel = extra
	}
	c.count = 0
}

func (c *Chip) convert() {
	if c.stalled || c.poweredDown() {
		return
	}
	var v int32
	if c.source != nil {
		v = c.source(c.sel)
	} else if q := c.queues[c.sel]; len(q) > 0 {
		v = q[0]
		if len(q) > 1 {
			c.queues[c.sel] = q[1:]
		}
	}
	c.shift = uint32(v) & 0xFFFFFF
	c.ready = true
	c.dout = gpio.Low
}

// settle runs any conversion the chip would have finished by now.
func (c *Chip) settle() {
	if c.poweredDown() {
		return
	}
	if c.count > 24 && c.clk == gpio.Low {
		c.finish()
	}
	if c.count == 0 && !c.ready {
		c.convert()
	}
}

// Read samples DOUT.
func (c *Chip) Read() gpio.Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poweredDown() {
		return gpio.High
	}
	if c.count == 0 || c.count > 24 {
		c.settle()
		if !c.ready {
			c.polls++
			return gpio.High
		}
		return gpio.Low
	}
	return c.dout
}

// In records the requested edge detection.
func (c *Chip) In(pull gpio.Pull, edge gpio.Edge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edge = edge
	if edge == gpio.NoEdge {
		select {
		case <-c.edges:
		default:
		}
	}
	return nil
}

// WaitForEdge waits for a data ready edge raised by Trigger.
func (c *Chip) WaitForEdge(timeout time.Duration) bool {
	if timeout < 0 {
		<-c.edges
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.edges:
		return true
	case <-t.C:
		return false
	}
}

// Trigger completes any pending conversion and, when a falling edge is armed
// and DOUT goes low, wakes WaitForEdge.
func (c *Chip) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settle()
	if !c.ready || (c.edge != gpio.FallingEdge && c.edge != gpio.BothEdges) {
		return
	}
	select {
	case c.edges <- struct{}{}:
	default:
	}
}

// Selected returns the selector the chip will apply to its next conversion,
// counting trailing pulses of a frame still in progress.
func (c *Chip) Selected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if extra := c.count - 24; extra >= A128 && extra <= A64 {
		return extra
	}
	return c.sel
}

// LastPulses returns the trailing pulse count of the most recent frame,
// including one still waiting for its next conversion.
func (c *Chip) LastPulses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count > 24 {
		return c.count - 24
	}
	if len(c.frames) == 0 {
		return 0
	}
	return c.frames[len(c.frames)-1]
}

// Frames returns the trailing pulse count of every completed frame.
func (c *Chip) Frames() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.frames...)
}

// PoweredDown reports whether the chip is in power down.
func (c *Chip) PoweredDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poweredDown()
}

// PowerCycles counts wake ups from power down.
func (c *Chip) PowerCycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

// Polls counts DOUT reads that found the chip busy.
func (c *Chip) Polls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

// Dump describes the chip state for test failure output.
func (c *Chip) Dump() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("sel=%d count=%d ready=%v clk=%s now=%s frames=%v cycles=%d",
		c.sel, c.count, c.ready, c.clk, c.now, c.frames, c.cycles)
}
