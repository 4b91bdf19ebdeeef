//go:build profile

package prof

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/ on the default mux
	"os"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/ardnew/softaudio/pkg"
)

// Enabled reports whether profiling support is compiled in.
const Enabled = true

// Profiling errors.
var (
	// ErrCPUProfileActive indicates CPU profiling is already active.
	ErrCPUProfileActive = errors.New("cpu profile already active")

	// ErrInvalidProfile indicates an unknown profile, or ProfileCPU where
	// only snapshot profiles are accepted.
	ErrInvalidProfile = errors.New("invalid profile")
)

var (
	cpuMutex  sync.Mutex
	cpuActive bool
)

// StartCPU starts CPU profiling to w.
func StartCPU(w io.Writer) error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	if cpuActive {
		return ErrCPUProfileActive
	}
	if err := pprof.StartCPUProfile(w); err != nil {
		return err
	}
	cpuActive = true
	return nil
}

// StopCPU stops CPU profiling. It is a no-op when profiling is not active.
func StopCPU() {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	if !cpuActive {
		return
	}
	pprof.StopCPUProfile()
	cpuActive = false
}

// IsCPUActive reports whether CPU profiling is active.
func IsCPUActive() bool {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	return cpuActive
}

// WriteTo writes a snapshot profile to w. Debug 0 is protobuf for
// go tool pprof; 1 is text.
func WriteTo(profile Profile, w io.Writer, debug int) error {
	if profile == ProfileCPU {
		return fmt.Errorf("%w: %s needs StartCPU", ErrInvalidProfile, profile)
	}
	p := pprof.Lookup(string(profile))
	if p == nil {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, profile)
	}
	return p.WriteTo(w, debug)
}

func writeFile(profile Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTo(profile, f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Start begins what o asks for and returns a function that ends CPU
// profiling and writes the snapshot profiles.
func Start(o Options) (stop func() error, err error) {
	var cpuFile *os.File
	if o.CPU != "" {
		if cpuFile, err = os.Create(o.CPU); err != nil {
			return nil, err
		}
		if err = StartCPU(cpuFile); err != nil {
			cpuFile.Close()
			return nil, err
		}
	}
	if o.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if o.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}
	if o.HTTP != "" {
		go func() {
			pkg.LogInfo(pkg.ComponentDevice, "pprof listening", "addr", o.HTTP)
			if err := http.ListenAndServe(o.HTTP, nil); err != nil {
				pkg.LogWarn(pkg.ComponentDevice, "pprof server stopped", "error", err)
			}
		}()
	}

	return func() error {
		var errs []error
		if cpuFile != nil {
			StopCPU()
			errs = append(errs, cpuFile.Close())
		}
		for _, s := range o.snapshots() {
			errs = append(errs, writeFile(s.profile, s.path))
		}
		return errors.Join(errs...)
	}, nil
}
