// Package diskspace guards transcode jobs against filling the scratch disk.
package diskspace

import (
	"errors"
	"fmt"
)

// ErrInsufficient is returned when the filesystem holding a path does not
// have the required free space. Jobs failing with it are not retried.
var ErrInsufficient = errors.New("insufficient disk space")

// EstimateRequired returns the scratch space needed to transcode an input of
// the given size: the input itself, working copies and the output renditions.
func EstimateRequired(inputSize int64) int64 {
	return 3 * inputSize
}

// Ensure verifies the filesystem holding path has at least required bytes
// free.
func Ensure(path string, required int64) error {
	avail, err := Available(path)
	if err != nil {
		return fmt.Errorf("query free space at %s: %w", path, err)
	}
	if avail < required {
		return fmt.Errorf("%w: need %d bytes at %s, %d available", ErrInsufficient, required, path, avail)
	}
	return nil
}
