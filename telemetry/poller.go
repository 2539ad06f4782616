package telemetry

import (
	"context"
	"time"

	"asset_editor/apiclient"

	"go.uber.org/zap"
)

// DefaultPollInterval matches the health refresh of the editor.
const DefaultPollInterval = 10 * time.Second

// HealthChecker is satisfied by *apiclient.Client.
type HealthChecker interface {
	Health(ctx context.Context) (*apiclient.Stats, error)
}

// Poller calls Health on an interval. Each result (or error) goes to
// report; successful results are also pushed to History when set.
type Poller struct {
	checker  HealthChecker
	interval time.Duration
	report   func(*apiclient.Stats, error)
	history  *History
	logger   *zap.Logger
	online   bool
	started  bool
}

// NewPoller returns a poller; a non-positive interval uses the default.
func NewPoller(checker HealthChecker, interval time.Duration, report func(*apiclient.Stats, error), logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if report == nil {
		report = func(*apiclient.Stats, error) {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		checker:  checker,
		interval: interval,
		report:   report,
		logger:   logger.Named("health"),
	}
}

// WithHistory records successful polls into h.
func (p *Poller) WithHistory(h *History) *Poller {
	p.history = h
	return p
}

// Run checks once immediately, then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Poller) check(ctx context.Context) {
	stats, err := p.checker.Health(ctx)
	if ctx.Err() != nil {
		return
	}
	online := err == nil
	if !p.started || online != p.online {
		if online {
			p.logger.Info("backend online", zap.String("model", stats.CurrentModel))
		} else {
			p.logger.Warn("backend offline", zap.Error(err))
		}
	}
	p.started, p.online = true, online
	if online && p.history != nil {
		p.history.Push(Snapshot{At: time.Now(), Stats: *stats})
	}
	p.report(stats, err)
}
