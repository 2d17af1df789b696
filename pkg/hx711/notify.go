package hx711

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// edgePoll bounds each WaitForEdge so the watcher notices a stop request.
const edgePoll = 100 * time.Millisecond

type watcher struct {
	stop chan struct{}
	done chan struct{}
}

// EnableReadyCallback arms a falling edge on DOUT and calls h with every
// frame read in response. h runs on a dedicated goroutine. Reads triggered by
// the edge do not wait for the device lock: if a polling read is in flight
// the edge is dropped. h must not call DisableReadyCallback or Close.
func (d *Dev) EnableReadyCallback(h func(Frame)) error {
	if h == nil {
		return fmt.Errorf("hx711: nil ready callback")
	}
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	if d.watch != nil {
		return ErrCallbackActive
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	err := d.data.In(gpio.PullNoChange, gpio.FallingEdge)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("hx711: arm data ready edge: %w", err)
	}
	w := &watcher{stop: make(chan struct{}), done: make(chan struct{})}
	d.watch = w
	go d.watchReady(w, h)
	return nil
}

// DisableReadyCallback stops the watcher started by EnableReadyCallback and
// waits for it to exit. It is a no-op when no callback is registered.
func (d *Dev) DisableReadyCallback() error {
	d.watchMu.Lock()
	w := d.watch
	d.watch = nil
	d.watchMu.Unlock()
	if w == nil {
		return nil
	}
	close(w.stop)
	<-w.done

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.data.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return fmt.Errorf("hx711: disarm data ready edge: %w", err)
	}
	return nil
}

// LastFrame returns the most recent frame delivered to the ready callback.
func (d *Dev) LastFrame() (Frame, bool) {
	d.lastMu.Lock()
	defer d.lastMu.Unlock()
	return d.last, d.haveLast
}

func (d *Dev) watchReady(w *watcher, h func(Frame)) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		default:
		}
		if !d.data.WaitForEdge(edgePoll) {
			continue
		}
		f, ok, err := d.TryRawBytes()
		if err != nil {
			d.log.Warn().Err(err).Msg("ready callback read failed")
			continue
		}
		if !ok {
			continue
		}
		d.lastMu.Lock()
		d.last, d.haveLast = f, true
		d.lastMu.Unlock()
		h(f)
	}
}
