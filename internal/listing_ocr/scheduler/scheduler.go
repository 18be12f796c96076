package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/processor"
)

// Runner 一次完整的对账运行
type Runner interface {
	Run(ctx context.Context) (processor.Summary, error)
}

// Worker 定时触发 Runner。同一时刻只有一轮在跑：下一轮在上一轮结束后才开始计时。
type Worker struct {
	Log      *zap.Logger
	Runner   Runner
	Every    time.Duration
	Location *time.Location

	now func() time.Time
}

// nextAnchor 下一个对齐点：从当地零点起每隔 every 一个点位。
// every 不能整除一天时退化为 now+every。
func nextAnchor(now time.Time, loc *time.Location, every time.Duration) time.Time {
	if every <= 0 {
		every = time.Hour
	}
	day := 24 * time.Hour
	if day%every != 0 {
		return now.Add(every).UTC()
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	for t := midnight; ; t = t.Add(every) {
		if t.After(local) {
			return t.UTC()
		}
	}
}

// Run 立即跑一次，然后每次睡到下一个点位，直到 ctx 取消
func (w *Worker) Run(ctx context.Context) {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	now := w.now
	if now == nil {
		now = time.Now
	}

	w.runOnce(ctx)
	for {
		next := nextAnchor(now(), loc, w.Every)
		sleep := next.Sub(now())
		if sleep < 0 {
			sleep = 0
		}
		w.Log.Info("Next run scheduled", zap.Time("at", next), zap.Duration("in", sleep))

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.Log.Info("Scheduler stopped")
			return
		case <-timer.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce 单轮失败只记日志，等下一个点位再试
func (w *Worker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sum, err := w.Runner.Run(ctx)
	if err != nil {
		w.Log.Error("Scheduled run failed", zap.String("run_id", sum.RunID), zap.Error(err))
		return
	}
	w.Log.Info("Scheduled run completed",
		zap.String("run_id", sum.RunID),
		zap.Int("processed", sum.Processed),
		zap.Int("totalRecords", sum.Totals.Total),
	)
}
