// Package apperr defines the error taxonomy shared across every component.
//
// Errors are plain sentinel values wrapped with fmt.Errorf's %w verb;
// callers classify with errors.Is/As rather than string matching. KindOf
// maps a wrapped error back to its Kind without re-deriving its category.
package apperr

import "errors"

// Kind is the abstract error category (§7 of the design spec).
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotFound
	KindPermission
	KindIntegrityMismatch
	KindDeserialize
	KindTimeout
	KindTransportClosed
	KindRPCError
	KindPreconditionFailed
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindIntegrityMismatch:
		return "integrity_mismatch"
	case KindDeserialize:
		return "deserialize"
	case KindTimeout:
		return "timeout"
	case KindTransportClosed:
		return "transport_closed"
	case KindRPCError:
		return "rpc_error"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Sentinel errors. Wrap with fmt.Errorf("context: %w", Sentinel) at the
// call site; Kind(err) recovers the category via errors.Is.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrPermission         = errors.New("permission denied")
	ErrIntegrityMismatch  = errors.New("integrity mismatch")
	ErrDeserialize        = errors.New("deserialize failed")
	ErrTimeout            = errors.New("timed out")
	ErrTransportClosed    = errors.New("transport closed")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInternal           = errors.New("internal error")
)

var sentinelKinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrNotFound, KindNotFound},
	{ErrPermission, KindPermission},
	{ErrIntegrityMismatch, KindIntegrityMismatch},
	{ErrDeserialize, KindDeserialize},
	{ErrTimeout, KindTimeout},
	{ErrTransportClosed, KindTransportClosed},
	{ErrPreconditionFailed, KindPreconditionFailed},
	{ErrInternal, KindInternal},
}

// KindOf classifies err by walking its wrap chain against the known
// sentinels. Returns KindUnknown if err doesn't wrap any of them, or
// KindRPCError if it's an *RPCError.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return KindRPCError
	}
	for _, sk := range sentinelKinds {
		if errors.Is(err, sk.err) {
			return sk.kind
		}
	}
	return KindUnknown
}

// RPCError carries a JSON-RPC error response's code and message.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return "rpc error " + itoa(e.Code) + ": " + e.Message
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
