//go:build profile

package prof

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStartCPUFailsWhenActive(t *testing.T) {
	var buf bytes.Buffer
	if err := StartCPU(&buf); err != nil {
		t.Fatalf("StartCPU() error = %v, want nil", err)
	}
	defer StopCPU()

	if !IsCPUActive() {
		t.Error("IsCPUActive() = false, want true")
	}
	if err := StartCPU(&bytes.Buffer{}); !errors.Is(err, ErrCPUProfileActive) {
		t.Errorf("StartCPU() error = %v, want %v", err, ErrCPUProfileActive)
	}
}

func TestStopCPUIdempotent(t *testing.T) {
	StopCPU()
	StopCPU()
	if IsCPUActive() {
		t.Error("IsCPUActive() = true after StopCPU")
	}
}

func TestWriteTo(t *testing.T) {
	tests := []struct {
		profile Profile
		wantErr error
	}{
		{ProfileHeap, nil},
		{ProfileGoroutine, nil},
		{ProfileCPU, ErrInvalidProfile},
		{Profile("bogus"), ErrInvalidProfile},
	}
	for _, tt := range tests {
		t.Run(tt.profile.String(), func(t *testing.T) {
			var buf bytes.Buffer
			err := WriteTo(tt.profile, &buf, 1)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("WriteTo() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && buf.Len() == 0 {
				t.Error("WriteTo() wrote nothing")
			}
		})
	}
}

func TestStartWritesSelectedProfiles(t *testing.T) {
	dir := t.TempDir()
	o := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Heap:  filepath.Join(dir, "heap.prof"),
		Mutex: filepath.Join(dir, "mutex.prof"),
	}
	stop, err := Start(o)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !IsCPUActive() {
		t.Error("CPU profile not active after Start")
	}
	if err := stop(); err != nil {
		t.Fatalf("stop() error = %v", err)
	}
	if IsCPUActive() {
		t.Error("CPU profile still active after stop")
	}

	for _, path := range []string{o.CPU, o.Heap, o.Mutex} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("%s: %v", path, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", path)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "block.prof")); !os.IsNotExist(err) {
		t.Error("unselected block profile was written")
	}
}

func TestStartBadPath(t *testing.T) {
	_, err := Start(Options{CPU: "/nonexistent/directory/cpu.prof"})
	if err == nil {
		StopCPU()
		t.Fatal("Start() error = nil, want error for invalid path")
	}
	if IsCPUActive() {
		t.Error("CPU profile active after failed Start")
	}
}
