package netio

import (
	"fmt"
	"net"
	"strings"

	"github.com/flowmeshio/flowmesh/pkg/xerrors"
)

// parseTCPURI splits a "tcp://host[:port]" URI into host and port, per
// spec.md §6. A missing port means "auto-assign" (port 0).
func parseTCPURI(uri string) (host, port string, err error) {
	const prefix = "tcp://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", fmt.Errorf("%w: netio uri %q missing tcp:// scheme", xerrors.ErrInvalidArgument, uri)
	}
	hostport := strings.TrimPrefix(uri, prefix)
	if hostport == "" {
		return "", "", fmt.Errorf("%w: netio uri %q has no host", xerrors.ErrInvalidArgument, uri)
	}
	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		// bare host, no port: treat the whole thing as host, auto-assign port.
		return hostport, "0", nil
	}
	return h, p, nil
}

// formatTCPURI renders a host and port as a "tcp://host:port" URI.
func formatTCPURI(host, port string) string {
	return fmt.Sprintf("tcp://%s:%s", host, port)
}
