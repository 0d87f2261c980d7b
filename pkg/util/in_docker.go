package util

import (
	"bytes"
	"os"
	"sync"
)

var inContainer = sync.OnceValue(func() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	cgroup, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}

	return bytes.Contains(cgroup, []byte("docker")) || bytes.Contains(cgroup, []byte("containerd"))
})

// IsRunningInDocker reports whether the process runs inside a container.
// The result is computed once.
func IsRunningInDocker() bool {
	return inContainer()
}
