package runctl

import (
	"syscall"

	"github.com/pkuNucExp/pixie16-daq/internal/health"
)

// HealthAdapter wraps a RunController to satisfy health.StatusProvider
// and health.SystemInfoProvider. RunController can't implement
// health.StatusProvider directly: its own Status() already returns
// StatusSnapshot, not health.CrateStatus.
type HealthAdapter struct {
	rc *RunController
}

// NewHealthAdapter builds the health.Handler-facing view of rc.
func NewHealthAdapter(rc *RunController) *HealthAdapter {
	return &HealthAdapter{rc: rc}
}

// Status adapts StatusSnapshot to health.CrateStatus.
func (a *HealthAdapter) Status() health.CrateStatus {
	s := a.rc.Status()
	return health.CrateStatus{
		State:      s.State,
		RunNumber:  s.RunNumber,
		TotalTime:  s.TotalTime,
		DataRate:   s.DataRate,
		HadError:   s.HadError,
		MCARunTime: s.MCARunTime,
		FileOpen:   s.FileOpen,
	}
}

// SystemInfo delegates to RunController.SystemInfo.
func (a *HealthAdapter) SystemInfo() health.SystemInfo {
	return a.rc.SystemInfo()
}

// diskLowWarningFraction is the free-space fraction below which
// SystemInfo reports DiskLowWarning.
const diskLowWarningFraction = 0.05

// SystemInfo reports free/total space on the output filesystem, so a
// nearly-full disk surfaces through /healthz and /metrics before it
// stalls acquisition outright.
func (rc *RunController) SystemInfo() health.SystemInfo {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(rc.cfg.OutputDir, &stat); err != nil {
		return health.SystemInfo{}
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)

	info := health.SystemInfo{
		DiskFreeBytes:  free,
		DiskTotalBytes: total,
	}
	if total > 0 && float64(free)/float64(total) < diskLowWarningFraction {
		info.DiskLowWarning = true
	}
	return info
}
