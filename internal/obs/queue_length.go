// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mqc3/scheduler/internal/queue"
)

// StartQueueLengthUpdater samples every backend queue's length and byte
// accounting on interval and publishes them as gauges, replacing the
// teacher's Redis LLEN poll with direct reads of the in-memory container.
func StartQueueLengthUpdater(ctx context.Context, queues *queue.Container, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, backend := range queues.Backends() {
					q, err := queues.Get(backend)
					if err != nil {
						log.Debug("queue length poll error", String("backend", backend), Err(err))
						continue
					}
					QueueLength.WithLabelValues(backend).Set(float64(q.Len()))
					QueueBytes.WithLabelValues(backend).Set(float64(q.CurrentBytes()))
				}
			}
		}
	}()
}
