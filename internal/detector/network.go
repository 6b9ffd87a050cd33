package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	gonet "github.com/shirou/gopsutil/v4/net"

	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/models"
)

const networkSampleWindow = 2 * time.Second

// Network watches aggregate throughput across all interfaces.
type Network struct {
	mbPerSecThreshold float64
}

// NewNetwork returns a network throughput detector.
func NewNetwork(cfg config.DetectorConfig) *Network {
	return &Network{mbPerSecThreshold: cfg.NetworkMBPerSecThreshold}
}

// Check samples interface counters twice over a short window and emits a
// P3 event when combined rx+tx throughput exceeds the threshold.
func (d *Network) Check(ctx context.Context) []models.Event {
	before, err := gonet.IOCountersWithContext(ctx, false)
	if err != nil || len(before) == 0 {
		log.Debug().Err(err).Msg("Network counters unavailable")
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(networkSampleWindow):
	}
	after, err := gonet.IOCountersWithContext(ctx, false)
	if err != nil || len(after) == 0 {
		return nil
	}

	elapsed := networkSampleWindow.Seconds()
	rxRate := float64(after[0].BytesRecv-before[0].BytesRecv) / elapsed / (1024 * 1024)
	txRate := float64(after[0].BytesSent-before[0].BytesSent) / elapsed / (1024 * 1024)
	total := rxRate + txRate
	if total < d.mbPerSecThreshold {
		return nil
	}
	return []models.Event{{
		ID:       models.NewID("net"),
		Source:   "detector.network",
		Type:     models.EventHighNetworkUsage,
		Severity: models.SeverityP3,
		Summary:  fmt.Sprintf("High network throughput: %.1f MB/s", total),
		Raw: map[string]any{
			"rx_mb_per_sec":    rxRate,
			"tx_mb_per_sec":    txRate,
			"total_mb_per_sec": total,
			"threshold":        d.mbPerSecThreshold,
		},
		TS:         time.Now().UTC(),
		AssetIDs:   []string{"host"},
		Confidence: 0.8,
	}}
}
