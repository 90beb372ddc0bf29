package supervisor

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrNotRunning is returned when an operation needs a live service process.
var ErrNotRunning = errors.New("service is not running")

// Usage is a point-in-time snapshot of the service's resource consumption.
type Usage struct {
	RSS        uint64
	CPUPercent float64
	Threads    int32
}

func (u Usage) String() string {
	return fmt.Sprintf("rss=%.1fMiB cpu=%.1f%% threads=%d", float64(u.RSS)/(1024*1024), u.CPUPercent, u.Threads)
}

// ResourceUsage samples the memory, CPU and thread usage of the running service.
func (s *Supervisor) ResourceUsage() (Usage, error) {
	p := s.Process()
	if !p.Running {
		return Usage{}, ErrNotRunning
	}
	proc, err := process.NewProcess(int32(p.PID))
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}
	u.RSS = mem.RSS
	if u.CPUPercent, err = proc.CPUPercent(); err != nil {
		return Usage{}, err
	}
	if u.Threads, err = proc.NumThreads(); err != nil {
		return Usage{}, err
	}
	return u, nil
}
