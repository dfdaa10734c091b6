//go:build !linux

package sockopts

import (
	"syscall"

	"github.com/relaymesh/relaymesh/internal/rerrors"
)

func bindToDevice(fd uintptr, iface string) error {
	return rerrors.New("bind_interface is not supported on this platform").AtWarning()
}

func setKeepaliveProbeCount(fd uintptr, count int) error {
	return rerrors.New("tcp_keepalive_probe is not supported on this platform").AtWarning()
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
