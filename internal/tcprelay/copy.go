package tcprelay

import (
	"context"
	"io"
	"net"

	"github.com/relaymesh/relaymesh/internal/task"
)

// relay runs the bidirectional copy between client and remote, trying
// the platform's zero-copy splice path first and falling back to a
// buffered copy. The returned byte counts are the single authoritative
// source assigned to the connection's metrics, never summed
// incrementally during the copy itself.
func relay(client, remote net.Conn) (tx, rx int64, err error) {
	if tx, rx, err = trySplice(client, remote); err == nil {
		return tx, rx, nil
	}
	return bufferedCopy(client, remote)
}

func bufferedCopy(client, remote net.Conn) (tx, rx int64, err error) {
	err = task.Run(context.Background(),
		func() error {
			n, e := io.Copy(remote, client)
			tx = n
			closeWrite(remote)
			return e
		},
		func() error {
			n, e := io.Copy(client, remote)
			rx = n
			closeWrite(client)
			return e
		},
	)
	return tx, rx, err
}

// closeWrite half-closes the write side once one direction finishes,
// so the other direction's io.Copy observes EOF instead of blocking
// forever on a connection whose peer will never write again.
func closeWrite(conn net.Conn) {
	type halfCloser interface {
		CloseWrite() error
	}
	if hc, ok := conn.(halfCloser); ok {
		hc.CloseWrite()
	}
}
