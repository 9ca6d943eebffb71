// Package xerrors defines the sentinel error taxonomy shared by every
// flowmesh subsystem. Components wrap these with fmt.Errorf("...: %w", ...)
// so callers can still use errors.Is/errors.As against the sentinel.
package xerrors

import "errors"

var (
	// ErrInvalidArgument is returned for a bad parameter to a setter,
	// factory, or constructor.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBufferConvert is returned when no conversion path exists for a
	// requested element-type pair.
	ErrBufferConvert = errors.New("buffer convert error")

	// ErrBufferPush is returned when a buffer is returned to a manager
	// that did not mint it.
	ErrBufferPush = errors.New("buffer push error")

	// ErrDomain is returned when two ends of a flow declare incompatible
	// non-empty buffer-manager domains.
	ErrDomain = errors.New("domain error")

	// ErrTopologyConnect is returned for a missing port, a type mismatch,
	// or an activation failure during topology commit.
	ErrTopologyConnect = errors.New("topology connect error")

	// ErrThreadPool is returned for an unsupported affinity/yield mode or
	// an out-of-range priority.
	ErrThreadPool = errors.New("thread pool error")

	// ErrPluginRegistry is returned for a registry lookup failure.
	ErrPluginRegistry = errors.New("plugin registry error")

	// ErrPluginPath is returned for a malformed plugin path.
	ErrPluginPath = errors.New("plugin path error")

	// ErrObjectConvert is returned when an opaque value cannot be
	// converted to the requested runtime type.
	ErrObjectConvert = errors.New("object convert error")

	// ErrObjectCompare is returned when two opaque values cannot be
	// compared.
	ErrObjectCompare = errors.New("object compare error")

	// ErrDataFormatError is returned for malformed wire or text input.
	ErrDataFormatError = errors.New("data format error")
)
