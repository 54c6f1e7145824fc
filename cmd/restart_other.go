//go:build !unix

package main

import "errors"

func reexec() error {
	return errors.New("restart is not supported on this platform")
}
