package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

// AlertFunc is invoked once per detected error spike.
type AlertFunc func(ctx context.Context, errors int, window time.Duration)

// Recorder counts named events durably and watches the error rate. It is
// advisory: nothing it does can fail the caller.
type Recorder struct {
	repo      database.MetricRepository
	collector *Collector
	now       func() time.Time
	window    time.Duration
	threshold int

	mu    sync.RWMutex
	alert AlertFunc
}

func NewRecorder(repo database.MetricRepository, collector *Collector) *Recorder {
	return &Recorder{
		repo:      repo,
		collector: collector,
		now:       time.Now,
		window:    consts.ErrorSpikeWindow,
		threshold: consts.ErrorSpikeThreshold,
	}
}

// SetAlertFunc installs the spike hook. Passing nil removes it.
func (r *Recorder) SetAlertFunc(fn AlertFunc) {
	r.mu.Lock()
	r.alert = fn
	r.mu.Unlock()
}

func (r *Recorder) IncrementMetric(ctx context.Context, name string) {
	if r == nil {
		return
	}
	now := r.now()
	r.collector.IncEvent(name)

	if r.repo == nil {
		return
	}

	if err := r.repo.IncrementMetric(ctx, name, now); err != nil {
		logger.Warn("Failed to persist metric", map[string]interface{}{
			"metric": name,
			"error":  err.Error(),
		})
	}

	if name == consts.MetricErrors {
		r.trackError(ctx, now)
	}
}

func (r *Recorder) trackError(ctx context.Context, now time.Time) {
	nowMs := now.UnixMilli()
	cutoff := nowMs - r.window.Milliseconds()
	spiked := 0

	_, err := r.repo.UpdateErrorSpike(ctx, func(timestamps []int64) []int64 {
		spiked = 0
		recent := make([]int64, 0, len(timestamps)+1)
		for _, ts := range timestamps {
			if ts > cutoff {
				recent = append(recent, ts)
			}
		}
		recent = append(recent, nowMs)

		if len(recent) >= r.threshold {
			spiked = len(recent)
			return []int64{}
		}
		return recent
	})
	if err != nil {
		logger.Warn("Failed to update error spike window", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	if spiked == 0 {
		return
	}

	logger.Warn("[ALERT] Error spike detected", map[string]interface{}{
		"errors":         spiked,
		"window_minutes": r.window.Minutes(),
	})
	r.collector.IncSpikeAlert()

	r.mu.RLock()
	alert := r.alert
	r.mu.RUnlock()
	if alert != nil {
		alert(ctx, spiked, r.window)
	}
}
