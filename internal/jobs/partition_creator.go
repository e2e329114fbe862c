// partition_creator.go implements the PartitionCreator background job, which
// keeps monthly event partitions provisioned ahead of need. Events whose
// month has no explicit partition still land in the default partition, so a
// missed run degrades query pruning rather than losing writes.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/jcom-dev/zmanim-audit/internal/telemetry"
)

// partitionEnsurer is the slice of the partition repository the job uses.
type partitionEnsurer interface {
	EnsureMonthlyPartition(ctx context.Context, year int, month time.Month) (bool, error)
}

// PartitionCreator periodically ensures the current month's partition and a
// configured number of future months exist.
type PartitionCreator struct {
	partitions partitionEnsurer
	leadMonths int
	interval   time.Duration
	stopChan   chan struct{}

	// now is swapped in tests to pin the clock.
	now func() time.Time
}

// NewPartitionCreator creates a new PartitionCreator. leadMonths is how many
// months beyond the current one to keep provisioned; intervalHours controls
// how often the check runs (default 24h).
func NewPartitionCreator(partitions partitionEnsurer, leadMonths, intervalHours int) *PartitionCreator {
	if intervalHours <= 0 {
		intervalHours = 24
	}
	return &PartitionCreator{
		partitions: partitions,
		leadMonths: leadMonths,
		interval:   time.Duration(intervalHours) * time.Hour,
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
}

// Start begins the background partition-provisioning loop. It runs an initial
// check immediately, then repeats on the configured interval. The loop exits
// when ctx is cancelled or Stop() is called.
func (p *PartitionCreator) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("partition creator started",
		"interval", p.interval, "lead_months", p.leadMonths)

	p.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			p.runCheck(ctx)
		case <-p.stopChan:
			slog.Info("partition creator stopped")
			return
		case <-ctx.Done():
			slog.Info("partition creator context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (p *PartitionCreator) Stop() {
	close(p.stopChan)
}

// runCheck ensures partitions for the current month through leadMonths ahead.
// Individual failures are logged and do not stop the remaining months; the
// ensure operation is idempotent, so the next run retries anything missed.
func (p *PartitionCreator) runCheck(ctx context.Context) {
	// Iterate from the first of the month: AddDate on day 29-31 normalizes
	// past short months (Jan 31 + 1 month = Mar 3) and would skip them.
	base := p.now().UTC()
	first := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i <= p.leadMonths; i++ {
		target := first.AddDate(0, i, 0)
		year, month := target.Year(), target.Month()

		created, err := p.partitions.EnsureMonthlyPartition(ctx, year, month)
		if err != nil {
			slog.Error("partition creator: ensure failed",
				"year", year, "month", int(month), "error", err)
			continue
		}
		if created {
			telemetry.PartitionsEnsuredTotal.WithLabelValues("created").Inc()
			slog.Info("partition created", "year", year, "month", int(month))
		} else {
			telemetry.PartitionsEnsuredTotal.WithLabelValues("exists").Inc()
		}
	}
}
