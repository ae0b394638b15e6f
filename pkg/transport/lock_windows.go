//go:build windows

package transport

import "os"

// Windows builds rely on the in-process semaphore only
func tryLockFile(f *os.File) (bool, error) {
	return true, nil
}

func unlockFile(f *os.File) error {
	return nil
}
