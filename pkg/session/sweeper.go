package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically expires stale sessions and purges long-expired ones.
type Sweeper struct {
	manager   *Manager
	cron      *cron.Cron
	retention time.Duration
}

// NewSweeper creates a sweeper that marks overdue active sessions expired
// and deletes expired sessions older than retention. A zero retention
// defaults to 7 days.
func NewSweeper(manager *Manager, retention time.Duration) *Sweeper {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Sweeper{
		manager:   manager,
		cron:      cron.New(),
		retention: retention,
	}
}

// Start schedules the sweep on the given cron spec (e.g. "@every 10m").
func (s *Sweeper) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.Sweep(context.Background()); err != nil {
			log.Printf("session sweep: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one pass: expire overdue sessions, then delete those expired
// longer ago than the retention window.
func (s *Sweeper) Sweep(ctx context.Context) error {
	expired, err := s.manager.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("expire stale: %w", err)
	}
	deleted, err := s.manager.CleanupExpired(ctx, s.retention)
	if err != nil {
		return fmt.Errorf("cleanup expired: %w", err)
	}
	if expired > 0 || deleted > 0 {
		log.Printf("session sweep: expired=%d deleted=%d", expired, deleted)
	}
	return nil
}
