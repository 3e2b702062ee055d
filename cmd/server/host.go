package main

import (
	"context"
	"time"

	"walkersim.dev/internal/sim/population"
	"walkersim.dev/internal/sim/sandbox"
)

const hostFrameRate = 20

// runHost stands in for the game's frame callback: it advances the sandbox
// world and runs the activation pipeline once per frame.
func runHost(ctx context.Context, w *sandbox.World, sim *population.Simulation) error {
	t := time.NewTicker(time.Second / hostFrameRate)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			dt := now.Sub(last).Seconds()
			last = now
			w.Advance(dt)
			sim.Update(dt)
		}
	}
}
