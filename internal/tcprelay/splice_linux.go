//go:build linux

package tcprelay

import (
	"context"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/relaymesh/relaymesh/internal/rerrors"
	"github.com/relaymesh/relaymesh/internal/task"
)

const spliceBufSize = 1 << 20

// trySplice relays client<->remote with unix.Splice through an
// intermediate pipe, avoiding a userspace copy on each direction. It
// only applies to plain *net.TCPConn pairs; anything else (including a
// PROXY-protocol-wrapped conn) falls through to bufferedCopy. Any
// error here, including an EINVAL the kernel returns when splice isn't
// supported for this socket pair, must fall back transparently rather
// than fail the connection.
func trySplice(client, remote net.Conn) (tx, rx int64, err error) {
	cTCP, ok := client.(*net.TCPConn)
	if !ok {
		return 0, 0, rerrors.New("client is not a TCPConn").AtDebug()
	}
	rTCP, ok := remote.(*net.TCPConn)
	if !ok {
		return 0, 0, rerrors.New("remote is not a TCPConn").AtDebug()
	}

	err = task.Run(context.Background(),
		func() error {
			n, e := spliceOneWay(cTCP, rTCP)
			tx = n
			closeWrite(rTCP)
			return e
		},
		func() error {
			n, e := spliceOneWay(rTCP, cTCP)
			rx = n
			closeWrite(cTCP)
			return e
		},
	)
	return tx, rx, err
}

func spliceOneWay(from, to *net.TCPConn) (int64, error) {
	fromFile, err := from.File()
	if err != nil {
		return 0, err
	}
	defer fromFile.Close()
	toFile, err := to.File()
	if err != nil {
		return 0, err
	}
	defer toFile.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, err
	}
	defer pr.Close()
	defer pw.Close()

	var total int64
	for {
		n, err := unix.Splice(int(fromFile.Fd()), nil, int(pw.Fd()), nil, spliceBufSize, unix.SPLICE_F_MOVE)
		if n == 0 && err == nil {
			return total, nil // EOF
		}
		if err != nil {
			return total, err
		}
		written := int64(0)
		for written < n {
			m, err := unix.Splice(int(pr.Fd()), nil, int(toFile.Fd()), nil, int(n-written), unix.SPLICE_F_MOVE)
			if err != nil {
				return total, err
			}
			written += m
		}
		total += n
	}
}
