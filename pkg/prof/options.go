package prof

// Profile names a runtime/pprof profile.
type Profile string

// Profile types.
const (
	ProfileCPU       Profile = "cpu"
	ProfileHeap      Profile = "heap"
	ProfileAllocs    Profile = "allocs"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
)

// String returns the profile name.
func (p Profile) String() string { return string(p) }

// Options selects the profiles collected for one run of a command. Empty
// fields are off.
type Options struct {
	CPU   string `help:"Write a CPU profile to this file." type:"path"`
	Heap  string `help:"Write a heap profile to this file on exit." type:"path"`
	Block string `help:"Write a blocking profile to this file on exit." type:"path"`
	Mutex string `help:"Write a mutex contention profile to this file on exit." type:"path"`
	HTTP  string `help:"Serve /debug/pprof on this address." placeholder:"HOST:PORT"`
}

// Requested reports whether any profile is selected.
func (o Options) Requested() bool {
	return o != Options{}
}

type snapshot struct {
	profile Profile
	path    string
}

func (o Options) snapshots() []snapshot {
	var out []snapshot
	for _, s := range []snapshot{
		{ProfileHeap, o.Heap},
		{ProfileBlock, o.Block},
		{ProfileMutex, o.Mutex},
	} {
		if s.path != "" {
			out = append(out, s)
		}
	}
	return out
}
