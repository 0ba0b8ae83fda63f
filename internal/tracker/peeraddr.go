package tracker

import (
	"encoding/binary"
	"net"

	"github.com/kasimir-dev/gotorrent-core/internal/ids"
)

const (
	compactV4Len = 4 + 2
	compactV6Len = 16 + 2
)

// DecodeCompactPeers parses BEP-23 compact peer entries: 6 bytes per
// entry for IPv4 (network-order address + network-order port) or 18
// bytes for IPv6. PeerId is always nil in the result.
func DecodeCompactPeers(raw []byte, v6 bool) ([]PeerAddress, error) {
	entryLen := compactV4Len
	ipLen := net.IPv4len
	if v6 {
		entryLen = compactV6Len
		ipLen = net.IPv6len
	}
	if len(raw)%entryLen != 0 {
		return nil, &DecodeError{Detail: "compact peer list length is not a multiple of the entry size"}
	}

	count := len(raw) / entryLen
	out := make([]PeerAddress, count)
	for i := 0; i < count; i++ {
		entry := raw[i*entryLen : (i+1)*entryLen]
		ip := make(net.IP, ipLen)
		copy(ip, entry[:ipLen])
		port := binary.BigEndian.Uint16(entry[ipLen:])
		out[i] = PeerAddress{IP: ip, Port: port}
	}
	return out, nil
}

// EncodeCompactPeers renders addrs in the BEP-23 compact form. Every
// address must carry an IP of the requested family (v6 selects IPv6).
func EncodeCompactPeers(addrs []PeerAddress, v6 bool) ([]byte, error) {
	entryLen := compactV4Len
	ipLen := net.IPv4len
	to := func(ip net.IP) net.IP { return ip.To4() }
	if v6 {
		entryLen = compactV6Len
		ipLen = net.IPv6len
		to = func(ip net.IP) net.IP { return ip.To16() }
	}

	out := make([]byte, 0, len(addrs)*entryLen)
	for _, a := range addrs {
		ip := to(a.IP)
		if ip == nil || len(ip) != ipLen {
			return nil, &DecodeError{Detail: "peer address family mismatch for compact encoding"}
		}
		entry := make([]byte, entryLen)
		copy(entry, ip)
		binary.BigEndian.PutUint16(entry[ipLen:], a.Port)
		out = append(out, entry...)
	}
	return out, nil
}

// peerDictEntry is the bencoded dictionary shape of one announce
// response peer: keys "ip", "peer id" (optional), "port".
type peerDictEntry struct {
	IP     string `bencode:"ip"`
	PeerId string `bencode:"peer id,omitempty"`
	Port   int    `bencode:"port"`
}

func (p peerDictEntry) toPeerAddress() (PeerAddress, error) {
	ip := net.ParseIP(p.IP)
	if ip == nil {
		return PeerAddress{}, &DecodeError{Detail: "invalid peer dictionary ip: " + p.IP}
	}
	addr := PeerAddress{IP: ip, Port: uint16(p.Port)}
	if p.PeerId != "" {
		id, err := ids.PeerIdFromBytes([]byte(p.PeerId))
		if err != nil {
			return PeerAddress{}, &DecodeError{Detail: "invalid peer dictionary peer id", Cause: err}
		}
		addr.PeerId = &id
	}
	return addr, nil
}

func peerAddressToDictEntry(p PeerAddress) peerDictEntry {
	entry := peerDictEntry{IP: p.IP.String(), Port: int(p.Port)}
	if p.PeerId != nil {
		entry.PeerId = string(p.PeerId.Bytes())
	}
	return entry
}
