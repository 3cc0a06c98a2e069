package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sender delivers a payload to a named peer.
type Sender interface {
	Send(ctx context.Context, to string, payload []byte) error
}

// Scheduler delays outbound state sends by a fixed interval to cap the
// propagation rate. Pending sends are never rescheduled.
type Scheduler struct {
	sender Sender
	delay  time.Duration
	log    *zap.Logger
	wg     sync.WaitGroup
}

func NewScheduler(sender Sender, delay time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		sender: sender,
		delay:  delay,
		log:    log.Named("scheduler"),
	}
}

// Schedule sends payload to the named peer once delay has elapsed, unless ctx
// is done first.
func (s *Scheduler) Schedule(ctx context.Context, to string, payload []byte) {
	s.after(ctx, s.delay, to, payload)
}

// Dispatch sends payload without the propagation delay. It never blocks the caller.
func (s *Scheduler) Dispatch(ctx context.Context, to string, payload []byte) {
	s.after(ctx, 0, to, payload)
}

func (s *Scheduler) after(ctx context.Context, delay time.Duration, to string, payload []byte) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			s.log.Debug("dropped pending send", zap.String("to", to), zap.Error(ctx.Err()))
			return
		case <-timer.C:
		}

		if err := s.sender.Send(ctx, to, payload); err != nil {
			s.log.Warn("send failed", zap.String("to", to), zap.Error(err))
			return
		}
		s.log.Debug("sent", zap.String("to", to))
	}()
}

// Wait blocks until every scheduled send has finished or been dropped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
