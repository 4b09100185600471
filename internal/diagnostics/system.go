// Package diagnostics inspects the host machine before long scan sessions.
// The doctor command renders its output.
package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Headroom thresholds below which a multi-hour scan is at risk.
const (
	minAvailMemMB = 2048
	minFreeDiskGB = 1.0
)

// SystemInfo is a one-shot snapshot of host resources that matter to a scan:
// deep dives hold large prompt contexts in memory, checkpoints and the index
// accumulate on disk, and local providers compete for CPU.
type SystemInfo struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`

	CPUModel   string `json:"cpu_model,omitempty"`
	CPUCores   int    `json:"cpu_cores"`
	CPUThreads int    `json:"cpu_threads"`

	MemTotalMB float64 `json:"mem_total_mb"`
	MemAvailMB float64 `json:"mem_avail_mb"`
	MemPercent float64 `json:"mem_percent"`

	StatePath   string  `json:"state_path"`
	DiskFreeGB  float64 `json:"disk_free_gb"`
	DiskPercent float64 `json:"disk_percent"`

	LoadAvg1 float64 `json:"load_avg_1"`

	GPUs []string `json:"gpus,omitempty"`
}

// CollectSystem gathers the snapshot. Probes that fail leave their fields
// zero; doctor reports whatever the host exposes.
func CollectSystem(statePath string) SystemInfo {
	info := SystemInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		StatePath: statePath,
	}
	collectCPU(&info)
	collectMemory(&info)
	collectDisk(&info)
	collectLoad(&info)
	collectGPUs(&info)
	return info
}

// Warnings flags conditions that tend to abort or crawl through long runs.
func (s SystemInfo) Warnings() []string {
	var warns []string
	if s.MemAvailMB > 0 && s.MemAvailMB < minAvailMemMB {
		warns = append(warns, fmt.Sprintf("available memory %.0f MB is below %d MB; deep dives on large files may exhaust it", s.MemAvailMB, minAvailMemMB))
	}
	if s.DiskFreeGB > 0 && s.DiskFreeGB < minFreeDiskGB {
		warns = append(warns, fmt.Sprintf("only %.2f GB free under %s; checkpoints and the session index may fill it", s.DiskFreeGB, s.StatePath))
	}
	if s.CPUThreads > 0 && s.LoadAvg1 > float64(s.CPUThreads) {
		warns = append(warns, fmt.Sprintf("load average %.1f exceeds %d hardware threads; local providers will run slowly", s.LoadAvg1, s.CPUThreads))
	}
	return warns
}

// ProbeWritable verifies the state directory accepts new files, creating it
// if missing.
func ProbeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("writing to state dir %s: %w", dir, err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

func collectCPU(info *SystemInfo) {
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		info.CPUModel = strings.TrimSpace(infos[0].ModelName)
	}
	if cores, err := cpu.Counts(false); err == nil && cores > 0 {
		info.CPUCores = cores
	}
	if threads, err := cpu.Counts(true); err == nil && threads > 0 {
		info.CPUThreads = threads
	}
}

func collectMemory(info *SystemInfo) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	info.MemTotalMB = float64(vm.Total) / 1024 / 1024
	info.MemAvailMB = float64(vm.Available) / 1024 / 1024
	info.MemPercent = vm.UsedPercent
}

// collectDisk measures the filesystem holding the state directory. The
// directory may not exist before the first scan, so walk up to the nearest
// existing ancestor.
func collectDisk(info *SystemInfo) {
	path := info.StatePath
	for path != "" {
		if _, err := os.Stat(path); err == nil {
			break
		}
		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return
	}
	info.DiskFreeGB = float64(usage.Free) / 1024 / 1024 / 1024
	info.DiskPercent = usage.UsedPercent
}

func collectLoad(info *SystemInfo) {
	avg, err := load.Avg()
	if err != nil {
		return
	}
	info.LoadAvg1 = avg.Load1
}

// collectGPUs lists graphics cards by name. Local ollama inference depends on
// one being present; utilization is out of scope for a one-shot probe.
func collectGPUs(info *SystemInfo) {
	gpu, err := ghw.GPU()
	if err != nil || gpu == nil {
		return
	}
	for _, card := range gpu.GraphicsCards {
		name := ""
		if card.DeviceInfo != nil {
			switch {
			case card.DeviceInfo.Vendor != nil && card.DeviceInfo.Product != nil:
				name = strings.TrimSpace(card.DeviceInfo.Vendor.Name + " " + card.DeviceInfo.Product.Name)
			case card.DeviceInfo.Product != nil:
				name = strings.TrimSpace(card.DeviceInfo.Product.Name)
			case card.DeviceInfo.Vendor != nil:
				name = strings.TrimSpace(card.DeviceInfo.Vendor.Name)
			}
		}
		if name == "" {
			name = fmt.Sprintf("GPU %d", card.Index)
		}
		info.GPUs = append(info.GPUs, name)
	}
}
