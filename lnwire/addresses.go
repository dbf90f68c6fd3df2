package lnwire

import (
	"fmt"
	"net"
)

// Address type octets, per BOLT 7.
const (
	addrTypeIPv4       = 1
	addrTypeIPv6       = 2
	addrTypeTorV2      = 3
	addrTypeTorV3      = 4
)

// NetAddress is one entry of a node_announcement's address list: an IP (or
// onion) host plus the port the node accepts connections on.
type NetAddress struct {
	Type byte
	Host []byte
	Port uint16
}

func (a NetAddress) String() string {
	switch a.Type {
	case addrTypeIPv4, addrTypeIPv6:
		return fmt.Sprintf("%s:%d", net.IP(a.Host).String(), a.Port)
	default:
		return fmt.Sprintf("onion(type=%d):%d", a.Type, a.Port)
	}
}

func addrHostLen(addrType byte) (int, bool) {
	switch addrType {
	case addrTypeIPv4:
		return 4, true
	case addrTypeIPv6:
		return 16, true
	case addrTypeTorV2:
		return 10, true
	case addrTypeTorV3:
		return 35, true
	default:
		return 0, false
	}
}

// decodeAddresses parses a node_announcement's addresses blob.
//
// BOLT 7 is silent on what to do with a type the parser has never heard of.
// Walking past an unknown type using a fixed record size would desync the
// cursor for every following address the moment one appears, corrupting the
// rest of the list. This parser instead stops at the first unrecognized
// type and returns the addresses decoded so far, since those are still
// sound.
func decodeAddresses(blob []byte) ([]NetAddress, error) {
	var addrs []NetAddress
	pos := 0
	for pos < len(blob) {
		addrType := blob[pos]
		hostLen, known := addrHostLen(addrType)
		if !known {
			return addrs, nil
		}
		if pos+1+hostLen+2 > len(blob) {
			return nil, malformedf("node_announcement: address type %d overruns addresses blob", addrType)
		}
		host := make([]byte, hostLen)
		copy(host, blob[pos+1:pos+1+hostLen])
		port := beUint(blob[pos+1+hostLen : pos+1+hostLen+2])
		addrs = append(addrs, NetAddress{Type: addrType, Host: host, Port: uint16(port)})
		pos += 1 + hostLen + 2
	}
	return addrs, nil
}

func encodeAddresses(addrs []NetAddress) []byte {
	var out []byte
	for _, a := range addrs {
		out = append(out, a.Type)
		out = append(out, a.Host...)
		out = append(out, PutUint(uint64(a.Port), 2)...)
	}
	return out
}
