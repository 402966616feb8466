package addressindex

import "errors"

// Sentinel error kinds. Wrapped with fmt.Errorf("...: %w", ...) at each
// layer rather than modeled as distinct exception types, so callers can
// match them with errors.Is. The RPC/wire boundary writes every error's
// message into the same JSON fault shape, whatever its kind.
var (
	// ErrIndexUnavailable is returned by every query when the store has not
	// been opened, or the index was disabled at startup.
	ErrIndexUnavailable = errors.New("addressindex: index unavailable")

	// ErrInvalidInput covers malformed RPC parameters (including an xpubkey
	// without the "xpub" prefix), an unknown RPC method, and a block input
	// whose prevout the CoinView cannot resolve. Undecodable xpubs and
	// addresses are reported with hdwallet's ErrInvalidXPub/ErrInvalidAddress.
	ErrInvalidInput = errors.New("addressindex: invalid input")

	// ErrStorage wraps an underlying store read/write failure. Never
	// retried inside the core; propagated verbatim to the caller.
	ErrStorage = errors.New("addressindex: storage error")

	// ErrConfiguration covers a disabled full-transaction index required by
	// an operation, or other missing host-side configuration.
	ErrConfiguration = errors.New("addressindex: configuration error")
)
