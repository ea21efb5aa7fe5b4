// Package metrics метрики процесса сервера: CPU и память из gopsutil,
// выставленные как Prometheus gauges и снимок для админ-API.
package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/annel0/tileverse/internal/logging"
)

// Snapshot последние снятые показатели процесса
type Snapshot struct {
	Uptime      string    `json:"uptime"`
	CPUPercent  float64   `json:"cpu_percent"`
	SystemCPU   float64   `json:"system_cpu"`
	RSSMB       float64   `json:"rss_mb"`
	HeapAllocMB float64   `json:"heap_alloc_mb"`
	HeapSysMB   float64   `json:"heap_sys_mb"`
	NumGC       uint32    `json:"num_gc"`
	Goroutines  int       `json:"goroutines"`
	TakenAt     time.Time `json:"taken_at"`
}

// ProcessCollector периодически снимает показатели процесса
type ProcessCollector struct {
	startTime time.Time
	proc      *process.Process
	logger    *logging.Logger

	cpuPercent prometheus.Gauge
	systemCPU  prometheus.Gauge
	rssBytes   prometheus.Gauge
	heapBytes  prometheus.Gauge
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	mu   sync.RWMutex
	last Snapshot
}

// NewProcessCollector создаёт сборщик и регистрирует gauges в reg;
// nil reg оставляет их незарегистрированными
func NewProcessCollector(reg prometheus.Registerer) (*ProcessCollector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("процесс %d: %w", os.Getpid(), err)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tileverse",
			Subsystem: "process",
			Name:      name,
			Help:      help,
		})
	}
	c := &ProcessCollector{
		startTime:  time.Now(),
		proc:       proc,
		logger:     logging.GetComponentLogger("metrics"),
		cpuPercent: gauge("cpu_percent", "Загрузка CPU процессом, проценты."),
		systemCPU:  gauge("system_cpu_percent", "Загрузка CPU системы, проценты."),
		rssBytes:   gauge("resident_memory_bytes", "Резидентная память процесса."),
		heapBytes:  gauge("heap_alloc_bytes", "Занятая куча Go."),
		goroutines: gauge("goroutines", "Число горутин."),
		uptime:     gauge("uptime_seconds", "Время работы процесса."),
	}
	if reg != nil {
		reg.MustRegister(c.cpuPercent, c.systemCPU, c.rssBytes, c.heapBytes, c.goroutines, c.uptime)
	}
	return c, nil
}

// Refresh снимает показатели, обновляет gauges и возвращает снимок.
// Ошибки gopsutil не прерывают снятие: недоступный показатель остаётся нулём.
func (c *ProcessCollector) Refresh() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s := Snapshot{
		Uptime:      FormatUptime(time.Since(c.startTime)),
		HeapAllocMB: float64(m.HeapAlloc) / 1024 / 1024,
		HeapSysMB:   float64(m.HeapSys) / 1024 / 1024,
		NumGC:       m.NumGC,
		Goroutines:  runtime.NumGoroutine(),
		TakenAt:     time.Now().UTC(),
	}

	if pct, err := c.proc.CPUPercent(); err == nil {
		s.CPUPercent = pct
	} else {
		c.logger.Debug("CPU процесса недоступен: %v", err)
	}
	// без интервала cpu.Percent сравнивает с предыдущим вызовом
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		s.SystemCPU = pcts[0]
	}
	var rss uint64
	if mem, err := c.proc.MemoryInfo(); err == nil && mem != nil {
		rss = mem.RSS
		s.RSSMB = float64(rss) / 1024 / 1024
	} else if err != nil {
		c.logger.Debug("память процесса недоступна: %v", err)
	}

	c.cpuPercent.Set(s.CPUPercent)
	c.systemCPU.Set(s.SystemCPU)
	c.rssBytes.Set(float64(rss))
	c.heapBytes.Set(float64(m.HeapAlloc))
	c.goroutines.Set(float64(s.Goroutines))
	c.uptime.Set(time.Since(c.startTime).Seconds())

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
	return s
}

// Snapshot последний снимок; до первого Refresh снимает показатели сразу
func (c *ProcessCollector) Snapshot() Snapshot {
	c.mu.RLock()
	s := c.last
	c.mu.RUnlock()
	if s.TakenAt.IsZero() {
		return c.Refresh()
	}
	return s
}

// StartTime момент создания сборщика
func (c *ProcessCollector) StartTime() time.Time { return c.startTime }

// Run обновляет показатели каждые interval до отмены ctx
func (c *ProcessCollector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh()
		}
	}
}

// FormatUptime время работы в виде "1д 2ч 3м 4с"
func FormatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}
