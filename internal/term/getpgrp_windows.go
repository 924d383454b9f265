//go:build windows

package term

import "os"

func getpgrp() (int, error) {
	return os.Getpid(), nil
}
