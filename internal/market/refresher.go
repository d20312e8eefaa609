package market

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Warmer refreshes cached market data.
type Warmer interface {
	Warm(ctx context.Context) error
}

// Refresher runs Warm on a cron schedule.
type Refresher struct {
	cron    *cron.Cron
	warmer  Warmer
	timeout time.Duration
	log     logrus.FieldLogger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRefresher registers the warm job. spec accepts standard five-field
// cron lines and descriptors such as "@every 15m".
func NewRefresher(spec string, w Warmer, log logrus.FieldLogger) (*Refresher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Refresher{
		cron:    cron.New(),
		warmer:  w,
		timeout: time.Minute,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	if _, err := r.cron.AddFunc(spec, r.RunNow); err != nil {
		cancel()
		return nil, fmt.Errorf("register market refresh %q: %w", spec, err)
	}
	return r, nil
}

// Start starts the scheduler in its own goroutine.
func (r *Refresher) Start() {
	r.cron.Start()
	r.log.Info("market refresher started")
}

// Stop cancels any running refresh and waits for it to return.
func (r *Refresher) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
	r.log.Info("market refresher stopped")
}

// RunNow refreshes immediately on the calling goroutine.
func (r *Refresher) RunNow() {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	start := time.Now()
	if err := r.warmer.Warm(ctx); err != nil {
		r.log.WithError(err).Warn("market refresh failed")
		return
	}
	r.log.WithField("took", time.Since(start).Round(time.Millisecond)).Debug("market caches refreshed")
}
