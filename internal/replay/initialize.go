package replay

import (
	"context"
	"fmt"

	"github.com/weisiCeltics/teacp/internal/sim"
	"github.com/weisiCeltics/teacp/internal/trace"
)

// DefaultBootTime is the simulator tick at which every node boots.
const DefaultBootTime int64 = 10000

// Initialize hands the noise trace and boot schedule to the simulator for
// every node, in discovery order. It must run before the first event is
// advanced, otherwise early events see an unmodelled channel.
func Initialize(ctx context.Context, s sim.Simulator, nodes []trace.NodeID, noise []int, bootTime int64) error {
	if len(noise) == 0 {
		return fmt.Errorf("initialize: empty noise trace")
	}
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, v := range noise {
			if err := s.AddNoiseReading(node, v); err != nil {
				return fmt.Errorf("add noise reading to node %d: %w", node, err)
			}
		}
		if err := s.CreateNoiseModel(node); err != nil {
			return fmt.Errorf("create noise model for node %d: %w", node, err)
		}
		if err := s.BootAtTime(node, bootTime); err != nil {
			return fmt.Errorf("schedule boot for node %d: %w", node, err)
		}
	}
	logf("initialized %d nodes with %d noise readings, boot at %d", len(nodes), len(noise), bootTime)
	return nil
}
