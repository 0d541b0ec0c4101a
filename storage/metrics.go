package storage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	blockApplied  metric.Int64Counter
	blockRejected metric.Int64Counter
	txRejected    metric.Int64Counter
	commits       metric.Int64Counter
	// stops observing the gauges of the storage
	unregister func() error
}

func newMetrics(m metric.Meter, s *StorageImpl) (*metrics, error) {
	var err error
	mtr := &metrics{}
	if mtr.blockApplied, err = m.Int64Counter("block.applied", metric.WithDescription("Number of blocks applied to mutable storage"), metric.WithUnit("{block}")); err != nil {
		return nil, fmt.Errorf("creating block.applied counter: %w", err)
	}
	if mtr.blockRejected, err = m.Int64Counter("block.rejected", metric.WithDescription("Number of blocks which failed to apply"), metric.WithUnit("{block}")); err != nil {
		return nil, fmt.Errorf("creating block.rejected counter: %w", err)
	}
	if mtr.txRejected, err = m.Int64Counter("tx.rejected", metric.WithDescription("Number of transactions rejected by temporary wsv"), metric.WithUnit("{transaction}")); err != nil {
		return nil, fmt.Errorf("creating tx.rejected counter: %w", err)
	}
	if mtr.commits, err = m.Int64Counter("commit", metric.WithDescription("Number of commits of the world state view")); err != nil {
		return nil, fmt.Errorf("creating commit counter: %w", err)
	}
	topHeight, err := m.Int64ObservableGauge("top_height", metric.WithDescription("Height of the last committed block"))
	if err != nil {
		return nil, fmt.Errorf("creating top_height gauge: %w", err)
	}
	reg, err := m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(topHeight, int64(s.LedgerState().Height)) /* #nosec G115 height does not exceed int64 max value */
		return nil
	}, topHeight)
	if err != nil {
		return nil, fmt.Errorf("registering top_height callback: %w", err)
	}
	mtr.unregister = reg.Unregister
	return mtr, nil
}
