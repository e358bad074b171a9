package websocket

import (
	"time"

	"go.uber.org/zap"
)

// RecordingExpirer abandons recordings older than maxAge
type RecordingExpirer interface {
	ExpireRecordings(maxAge time.Duration) int
}

// RecordingSweeper periodically abandons recordings whose client never sent
// stop_recording, so their transcription streams are released
type RecordingSweeper struct {
	expirer  RecordingExpirer
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopped  chan struct{}
}

// NewRecordingSweeper creates a sweeper checking every quarter of maxAge
func NewRecordingSweeper(expirer RecordingExpirer, maxAge time.Duration, logger *zap.Logger) *RecordingSweeper {
	interval := maxAge / 4
	if interval < time.Second {
		interval = time.Second
	}
	return &RecordingSweeper{
		expirer:  expirer,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins the background sweep
func (s *RecordingSweeper) Start() {
	go s.sweepLoop()
	s.logger.Info("Recording sweeper started",
		zap.Duration("maxAge", s.maxAge),
		zap.Duration("interval", s.interval))
}

// Stop halts the sweep and waits for it to exit
func (s *RecordingSweeper) Stop() {
	close(s.stopChan)
	<-s.stopped
	s.logger.Info("Recording sweeper stopped")
}

func (s *RecordingSweeper) sweepLoop() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *RecordingSweeper) sweep() {
	if expired := s.expirer.ExpireRecordings(s.maxAge); expired > 0 {
		s.logger.Info("Abandoned stale recordings", zap.Int("count", expired))
	}
}
