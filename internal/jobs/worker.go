package jobs

import (
	"context"
	"log"
	"time"

	"github.com/cloo-solutions/docpipe/internal/service"
)

// Repairer defines the interface for running a reconciliation pass
type Repairer interface {
	Repair(ctx context.Context, minAge time.Duration, limit int) (*service.RepairReport, error)
}

// RepairWorker periodically reconciles the vector collection with the
// metadata table.
type RepairWorker struct {
	repairer     Repairer
	pollInterval time.Duration
	minAge       time.Duration
	batchLimit   int
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// NewRepairWorker creates a new RepairWorker instance
func NewRepairWorker(repairer Repairer, pollInterval, minAge time.Duration, batchLimit int) *RepairWorker {
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &RepairWorker{
		repairer:     repairer,
		pollInterval: pollInterval,
		minAge:       minAge,
		batchLimit:   batchLimit,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start begins the worker's polling loop
func (w *RepairWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("Repair worker started with poll interval: %v", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("Repair worker stopped: context cancelled")
			return
		case <-w.stopChan:
			log.Println("Repair worker stopped: stop signal received")
			return
		case <-ticker.C:
			report, err := w.repairer.Repair(ctx, w.minAge, w.batchLimit)
			if err != nil {
				log.Printf("Error running repair pass: %v", err)
				continue
			}
			if report.Checked > 0 {
				log.Printf("Repair pass: checked=%d orphans_deleted=%d demoted=%d",
					report.Checked, report.OrphansDeleted, report.Demoted)
			}
		}
	}
}

// Stop gracefully stops the worker
func (w *RepairWorker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	log.Println("Repair worker shutdown complete")
}
