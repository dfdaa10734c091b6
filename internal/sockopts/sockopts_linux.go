//go:build linux

package sockopts

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func bindToDevice(fd uintptr, iface string) error {
	return unix.BindToDevice(int(fd), iface)
}

func setKeepaliveProbeCount(fd uintptr, count int) error {
	return syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, unix.TCP_KEEPCNT, count)
}

func setIPv6Only(c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, syscall.IPV6_V6ONLY, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
