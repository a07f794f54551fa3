package ratelimit

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemLoad samples host CPU and memory utilisation with gopsutil.
type SystemLoad struct{}

func (SystemLoad) Sample(ctx context.Context) (float64, float64, error) {
	// Zero interval compares against the previous call instead of blocking.
	cpus, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, 0, err
	}
	var cpuPct float64
	if len(cpus) > 0 {
		cpuPct = cpus[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return cpuPct, vm.UsedPercent, nil
}
