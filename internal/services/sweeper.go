package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically purges long-expired invites.
type Sweeper struct {
	cron *cron.Cron
	svc  *InviteService
}

func NewSweeper(svc *InviteService, schedule string) (*Sweeper, error) {
	s := &Sweeper{cron: cron.New(), svc: svc}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop waits for a running sweep to finish, up to ctx's deadline.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.svc.Sweep(ctx)
	if err != nil {
		slog.Error("invite sweep failed", "err", err)
		return
	}
	if n > 0 {
		slog.Info("purged expired invites", "count", n)
	}
}
