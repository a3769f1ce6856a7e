package app

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/talkincode/toughwa/internal/whatsapp"
	"github.com/talkincode/toughwa/pkg/metrics"
	"go.uber.org/zap"
)

const oprLogRetentionDays = 365

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, err := time.LoadLocation(a.appConfig.System.Location)
	if err != nil {
		loc = time.Local
	}
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedSystemMonitorTask()
		go a.SchedProcessMonitorTask()
		go a.SchedSessionMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", a.SchedClearExpireData)
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedSystemMonitorTask system monitor
func (a *Application) SchedSystemMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	if usage, err := cpu.Percent(0, false); err == nil && len(usage) > 0 {
		metrics.SetGauge("system_cpuuse", int64(usage[0]*100))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		metrics.SetGauge("system_memuse", int64(vm.Used/1024/1024)) //nolint:gosec // G115: memory MB value fits in int64
	}
}

// SchedProcessMonitorTask app process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PID is always within int32 range
	if err != nil {
		return
	}
	if usage, err := p.CPUPercent(); err == nil {
		metrics.SetGauge("toughwa_cpuuse", int64(usage*100))
	}
	if info, err := p.MemoryInfo(); err == nil {
		metrics.SetGauge("toughwa_memuse", int64(info.RSS/1024/1024)) //nolint:gosec // G115: memory MB value fits in int64
	}
}

// SchedSessionMonitorTask samples how many sessions and campaigns are live.
func (a *Application) SchedSessionMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	metrics.SetGauge("wa_sessions", int64(a.registry.Count()))
	metrics.SetGauge("wa_sessions_ready", int64(a.registry.CountState(whatsapp.StateReady)))
	metrics.SetGauge("campaign_running", int64(a.dispatcher.RunningCount()))
}

// SchedClearExpireData prunes operation logs older than a year.
func (a *Application) SchedClearExpireData() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := a.oprlogs.DeleteOlderThan(ctx, oprLogRetentionDays)
	if err != nil {
		zap.L().Error("app: prune operation logs failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("app: pruned operation logs", zap.Int64("rows", n))
	}
}
