//nolint:revive // types is a common Go package naming convention
package types

import (
	"net"
	"strconv"
)

// ConnID identifies a live connection. Values are assigned by the server in
// accept order and are never reused within a process.
type ConnID uint64

func (id ConnID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Peer identifies the remote end of a connection.
type Peer struct {
	ConnID ConnID
	// Addr is the remote "ip:port".
	Addr string
}

// Host returns the IP part of Addr, or Addr itself when it has no port.
func (p Peer) Host() string {
	host, _, err := net.SplitHostPort(p.Addr)
	if err != nil {
		return p.Addr
	}
	return host
}

// AgentRecord is the persisted form of a known agent.
type AgentRecord struct {
	Addr  string   `json:"addr" yaml:"addr"`
	Roles []string `json:"roles" yaml:"roles"`
}

// Equal reports whether two records have the same address and roles in the same order.
func (r AgentRecord) Equal(o AgentRecord) bool {
	if r.Addr != o.Addr || len(r.Roles) != len(o.Roles) {
		return false
	}
	for i := range r.Roles {
		if r.Roles[i] != o.Roles[i] {
			return false
		}
	}
	return true
}

// DefaultRole is assigned to every agent on connect.
const DefaultRole = "agent"
