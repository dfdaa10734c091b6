package rerrors

import "github.com/relaymesh/relaymesh/internal/rlog"

// Kind classifies an error by cause, so callers at the API boundary
// and in the relay loops can dispatch on cause rather than
// string-matching messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidConfig
	KindBindFailed
	KindConnectTimeout
	KindConnectFailed
	KindPeerIO
	KindProxyProtocol
	KindIdleTimeout
	KindUnauthorized
	KindDuplicate
	KindNotFound
	KindInternal
)

type kindedError struct {
	err  *Error
	kind Kind
}

func (k *kindedError) Error() string           { return k.err.Error() }
func (k *kindedError) Unwrap() error           { return k.err }
func (k *kindedError) Severity() rlog.Severity { return k.err.Severity() }

// WithKind tags e with a Kind, returning an error whose kind can be
// read back by KindOf.
func (e *Error) WithKind(k Kind) error {
	return &kindedError{err: e, kind: k}
}

// KindOf extracts the Kind attached via WithKind, or KindUnknown if
// err was never tagged.
func KindOf(err error) Kind {
	for err != nil {
		if k, ok := err.(*kindedError); ok {
			return k.kind
		}
		inner, ok := err.(hasInnerError)
		if !ok {
			return KindUnknown
		}
		err = inner.Unwrap()
	}
	return KindUnknown
}
