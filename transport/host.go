package transport

import "github.com/gocql/gocql"

// Distance rates how a load-balancing policy views a host; it drives how
// many connections the connector opens for it.
type Distance int

const (
	DistanceLocal Distance = iota
	DistanceRemote
	DistanceIgnore
)

func (d Distance) String() string {
	switch d {
	case DistanceLocal:
		return "local"
	case DistanceRemote:
		return "remote"
	case DistanceIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// Host is an opaque identity handed to us by the registry. It is comparable
// (every field is), so it can be used directly as a map key and compared
// with ==; two hosts are equal iff all four fields (ID, Addr, Datacenter,
// Rack) match, so the registry decides equality by what it puts in them.
type Host struct {
	ID         gocql.UUID
	Addr       string
	Datacenter string
	Rack       string
}

func (h Host) String() string {
	return h.Addr
}
