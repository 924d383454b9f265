//go:build !windows

package term

import "syscall"

func getpgrp() (int, error) {
	return syscall.Getpgrp(), nil
}
