package wire

import "net"

// PeerAddress is {peer_id, ip, port} (spec.md §3). Port==0 means invalid.
// On the wire it is always 14 bytes: port(2) ∥ peer_id(8) ∥ ip(4).
type PeerAddress struct {
	PeerID PeerID
	IP     [4]byte
	Port   uint16
}

const peerAddressSize = 2 + 8 + 4

// Valid reports whether the address has a non-zero port, per spec.md §3.
func (a PeerAddress) Valid() bool { return a.Port != 0 }

// IPString renders the address's IPv4 octets in dotted form.
func (a PeerAddress) IPString() string {
	return net.IPv4(a.IP[0], a.IP[1], a.IP[2], a.IP[3]).String()
}

func appendAddress(buf []byte, a PeerAddress) []byte {
	buf = writeU16(buf, a.Port)
	buf = writeU64(buf, uint64(a.PeerID))
	buf = append(buf, a.IP[0], a.IP[1], a.IP[2], a.IP[3])
	return buf
}

func readAddress(b []byte) (a PeerAddress, rest []byte, ok bool) {
	if len(b) < peerAddressSize {
		return PeerAddress{}, nil, false
	}
	port, _ := readU16(b[0:2])
	pid, _ := readU64(b[2:10])
	a = PeerAddress{
		PeerID: PeerID(pid),
		Port:   port,
	}
	copy(a.IP[:], b[10:14])
	return a, b[peerAddressSize:], true
}

// AddressFromNetIP builds a PeerAddress from a net.IP (must resolve to 4
// bytes), a port and a peer id.
func AddressFromNetIP(ip net.IP, port uint16, peerID PeerID) (PeerAddress, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return PeerAddress{}, false
	}
	a := PeerAddress{PeerID: peerID, Port: port}
	copy(a.IP[:], v4)
	return a, true
}
