package bridge

import "time"

// Clock abstracts ticker creation so the pacer can be driven deterministically
// in tests. Production code uses [SystemClock].
type Clock interface {
	// NewTicker returns a Ticker delivering ticks every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of [time.Ticker] the pacer needs.
type Ticker interface {
	// C returns the tick channel.
	C() <-chan time.Time

	// Stop halts tick delivery. It does not close the channel.
	Stop()
}

// SystemClock returns the wall-clock [Clock] backed by [time.NewTicker].
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

var _ Clock = systemClock{}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }
