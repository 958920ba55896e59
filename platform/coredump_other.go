//go:build !linux && !darwin

package platform

// DisableCoreDumps is a no-op on platforms without rlimit support.
func DisableCoreDumps() error {
	return nil
}
