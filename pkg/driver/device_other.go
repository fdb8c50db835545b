//go:build !linux

package driver

// Open always fails outside of linux.
func Open(path string) (Channel, error) {
	return nil, &OpenError{Path: path, Err: ErrUnsupported}
}
