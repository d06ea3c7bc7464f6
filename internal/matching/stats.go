package matching

import (
	"time"

	"github.com/obsidianex/darkpool/pkg/metrics"
)

// Stats reports per-cycle matching statistics
type Stats struct {
	Cycles           uint64        `json:"cycles"`
	Matches          uint64        `json:"matches"`
	AvgCycleDuration time.Duration `json:"avg_cycle_duration"`
	PendingDepth     int           `json:"pending_depth"`
}

// emaAlpha is the smoothing factor for the cycle duration moving average
const emaAlpha = 0.1

// recordCycle updates cycle statistics after one matching pass
func (e *Engine) recordCycle(elapsed time.Duration, matched int) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.cycleCount++
	e.matchCount += uint64(matched)
	if e.avgCycleDur == 0 {
		e.avgCycleDur = elapsed
	} else {
		e.avgCycleDur = time.Duration(float64(e.avgCycleDur)*(1-emaAlpha) + float64(elapsed)*emaAlpha)
	}

	metrics.MatchCycleDuration.Observe(elapsed.Seconds())
}

// Stats returns a copy of the current statistics
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return Stats{
		Cycles:           e.cycleCount,
		Matches:          e.matchCount,
		AvgCycleDuration: e.avgCycleDur,
		PendingDepth:     e.store.PendingDepth(),
	}
}
