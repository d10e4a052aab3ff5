package utils

import (
	"fmt"
	"net"
	"os"
)

// GetEnv returns the value of the named environment variable, or def if it is unset or empty.
func GetEnv(name string, def string) string {
	val := os.Getenv(name)
	if len(val) > 0 {
		return val
	} else {
		return def
	}
}

// FreePort asks the kernel for a currently unused TCP port on host.
func FreePort(host string) (int, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:0", host))
	if err != nil {
		return -1, err
	}
	defer func() { _ = listener.Close() }()

	return listener.Addr().(*net.TCPAddr).Port, nil
}
