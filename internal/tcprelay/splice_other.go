//go:build !linux

package tcprelay

import (
	"net"

	"github.com/relaymesh/relaymesh/internal/rerrors"
)

// trySplice has no zero-copy path outside Linux; callers always fall
// back to bufferedCopy.
func trySplice(client, remote net.Conn) (tx, rx int64, err error) {
	return 0, 0, rerrors.New("splice not supported on this platform").AtDebug()
}
