//go:build !profile

package prof

import (
	"fmt"

	"github.com/ardnew/softaudio/pkg"
)

// Enabled reports whether profiling support is compiled in.
const Enabled = false

// Start returns a no-op stop function, or ErrNotSupported when o selects
// a profile.
func Start(o Options) (stop func() error, err error) {
	if o.Requested() {
		return nil, fmt.Errorf("profiling needs the profile build tag: %w", pkg.ErrNotSupported)
	}
	return func() error { return nil }, nil
}
