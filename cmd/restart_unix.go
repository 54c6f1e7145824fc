//go:build unix

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// reexec заменяет процесс новым экземпляром с теми же аргументами.
func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	return unix.Exec(exe, os.Args, os.Environ())
}
