package diagnostics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCollectSystemSnapshot(t *testing.T) {
	dir := t.TempDir()
	info := CollectSystem(dir)

	if info.OS == "" || info.Arch == "" {
		t.Fatalf("OS/Arch not set: %+v", info)
	}
	if info.StatePath != dir {
		t.Errorf("StatePath = %q, want %q", info.StatePath, dir)
	}
	// Hardware probes are best-effort; negative values would mean a broken
	// conversion rather than a missing probe.
	if info.MemTotalMB < 0 || info.DiskFreeGB < 0 || info.CPUThreads < 0 {
		t.Errorf("negative resource values: %+v", info)
	}
}

func TestCollectSystemMissingStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not", "created", "yet")
	info := CollectSystem(dir)
	if info.StatePath != dir {
		t.Errorf("StatePath = %q, want %q", info.StatePath, dir)
	}
	// Disk usage must come from the nearest existing ancestor, not fail.
	if info.DiskFreeGB < 0 {
		t.Errorf("DiskFreeGB = %v", info.DiskFreeGB)
	}
}

func TestWarnings(t *testing.T) {
	tests := []struct {
		name string
		info SystemInfo
		want []string
	}{
		{
			name: "healthy host",
			info: SystemInfo{MemAvailMB: 8192, DiskFreeGB: 120, CPUThreads: 8, LoadAvg1: 1.2},
			want: nil,
		},
		{
			name: "low memory",
			info: SystemInfo{MemAvailMB: 512, DiskFreeGB: 120, CPUThreads: 8},
			want: []string{"available memory"},
		},
		{
			name: "low disk",
			info: SystemInfo{MemAvailMB: 8192, DiskFreeGB: 0.4, CPUThreads: 8, StatePath: "/var/lib/vulnhound"},
			want: []string{"free under /var/lib/vulnhound"},
		},
		{
			name: "overloaded",
			info: SystemInfo{MemAvailMB: 8192, DiskFreeGB: 120, CPUThreads: 4, LoadAvg1: 9.5},
			want: []string{"load average"},
		},
		{
			name: "unprobed fields stay quiet",
			info: SystemInfo{},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warns := tt.info.Warnings()
			if len(warns) != len(tt.want) {
				t.Fatalf("got %d warnings %v, want %d", len(warns), warns, len(tt.want))
			}
			for i, frag := range tt.want {
				if !strings.Contains(warns[i], frag) {
					t.Errorf("warning %d = %q, want fragment %q", i, warns[i], frag)
				}
			}
		})
	}
}

func TestProbeWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	if err := ProbeWritable(dir); err != nil {
		t.Fatalf("ProbeWritable(%s) = %v", dir, err)
	}

	// The probe file must not survive.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("probe left %d entries behind", len(entries))
	}
}

func TestProbeWritableRejectsFilePath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ProbeWritable(file); err == nil {
		t.Fatal("expected error when state path is a regular file")
	}
}
