// Package gpio turns physical push buttons into "taken" commands.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads GPIO button states.
type Reader interface {
	// Read returns the pressed state of every configured line,
	// keyed by BCM offset.
	Read() (map[int]bool, error)

	// Close releases GPIO resources.
	Close() error
}
