// 包 poller：在服务进程内按固定间隔运行后台刷新任务
package poller

import (
	"context"
	"sync"
	"time"

	"region-sync/internal/logger"
)

// Job：一次刷新；错误只记录，不中断调度
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// 文档注释：周期调度器
// 背景：推送通道断开期间数据仍需保持新鲜，顶层区域与附近用户按间隔拉取一次。
// 约束：同一任务不会重叠执行；单次执行受 timeout 限制；ctx 取消后 Start 返回。
type Poller struct {
	interval time.Duration
	timeout  time.Duration
	jobs     []Job
	wg       sync.WaitGroup
}

func New(interval, timeout time.Duration, jobs ...Job) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Poller{interval: interval, timeout: timeout, jobs: jobs}
}

// Start：每个任务一个协程；首次执行在一个间隔之后
func (p *Poller) Start(ctx context.Context) {
	for _, j := range p.jobs {
		p.wg.Add(1)
		go func(j Job) {
			defer p.wg.Done()
			t := time.NewTicker(p.interval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					p.runOnce(ctx, j)
				}
			}
		}(j)
	}
}

// Wait：等待所有任务协程退出
func (p *Poller) Wait() { p.wg.Wait() }

func (p *Poller) runOnce(ctx context.Context, j Job) {
	l := logger.L()
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	start := time.Now()
	if err := j.Run(cctx); err != nil {
		l.Warn("poll_error", "job", j.Name, "err", err, "dur_ms", time.Since(start).Milliseconds())
		return
	}
	l.Debug("poll_done", "job", j.Name, "dur_ms", time.Since(start).Milliseconds())
}

// nextDailyAt：下一次 loc 时区 hour 整点；当天已过则顺延一天
func nextDailyAt(now time.Time, loc *time.Location, hour int) time.Time {
	now = now.In(loc)
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// 文档注释：每日定点任务
// 背景：日志表按保留天数清理，放在低峰时段执行一次即可。
// 约束：错误由日志记录，任务继续调度；ctx 取消后协程退出。
func StartDaily(ctx context.Context, loc *time.Location, hour int, j Job) {
	if loc == nil {
		loc = time.Local
	}
	l := logger.L()
	go func() {
		for {
			next := nextDailyAt(time.Now(), loc, hour)
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			l.Info("daily_job_start", "job", j.Name, "at", next)
			if err := j.Run(ctx); err != nil {
				l.Error("daily_job_error", "job", j.Name, "err", err)
			} else {
				l.Info("daily_job_done", "job", j.Name)
			}
		}
	}()
}
