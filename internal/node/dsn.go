// SPDX-License-Identifier: MIT
package node

import (
	"fmt"
	"net"
)

func splitHostPort(id string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(id)
	if err != nil {
		return "", "", fmt.Errorf("invalid node id %q: %w", id, err)
	}
	return host, port, nil
}
