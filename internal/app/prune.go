package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

const pruneTimeout = 30 * time.Second

// pruner deletes old read messages on a cron schedule.
type pruner struct {
	c         *cron.Cron
	store     storage.Store
	retention time.Duration
	now       func() time.Time
	log       logx.Logger
}

func newPruner(store storage.Store, spec string, retention time.Duration, log logx.Logger) (*pruner, error) {
	p := &pruner{
		c:         cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		store:     store,
		retention: retention,
		now:       time.Now,
		log:       log,
	}
	if _, err := p.c.AddJob(spec, cron.FuncJob(p.run)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()
	before := p.now().Add(-p.retention)
	n, err := p.store.PruneRead(ctx, before)
	if err != nil {
		p.log.Warn("prune failed", logx.Err(err))
		return
	}
	p.log.Info("pruned read messages", logx.Int64("deleted", n), logx.Time("before", before))
}

func (p *pruner) Start() { p.c.Start() }

// Stop waits for a running prune to finish or ctx to end.
func (p *pruner) Stop(ctx context.Context) error {
	select {
	case <-p.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
