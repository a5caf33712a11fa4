package tlv

import (
	"github.com/m-lab/muacc/addr"
)

// nodeHeaderSize is the fixed-size prefix of each encoded addrinfo node:
// flags, family, socktype, protocol, addrlen (5 x int32) followed by one
// byte of presence flags and 3 bytes of padding.
const nodeHeaderSize = 4*5 + 4

const (
	presenceAddr = 1 << iota
	presenceCanon
	presenceNext
)

func encodeNodeHeader(n *addr.AddrInfo) []byte {
	buf := make([]byte, nodeHeaderSize)
	nativeOrder.PutUint32(buf[0:4], uint32(n.Flags))
	nativeOrder.PutUint32(buf[4:8], uint32(n.Family))
	nativeOrder.PutUint32(buf[8:12], uint32(n.SockType))
	nativeOrder.PutUint32(buf[12:16], uint32(n.Protocol))
	addrLen := 0
	if n.Addr != nil {
		addrLen = len(n.Addr.Raw)
	}
	nativeOrder.PutUint32(buf[16:20], uint32(addrLen))
	var presence byte
	if n.Addr != nil {
		presence |= presenceAddr
	}
	if n.CanonName != nil {
		presence |= presenceCanon
	}
	if n.Next != nil {
		presence |= presenceNext
	}
	buf[20] = presence
	return buf
}

type decodedHeader struct {
	flags, family, sockType, protocol, addrLen int32
	hasAddr, hasCanon, hasNext                 bool
}

func decodeNodeHeader(buf []byte) (decodedHeader, error) {
	if len(buf) < nodeHeaderSize {
		return decodedHeader{}, ErrTruncatedChain
	}
	h := decodedHeader{
		flags:    int32(nativeOrder.Uint32(buf[0:4])),
		family:   int32(nativeOrder.Uint32(buf[4:8])),
		sockType: int32(nativeOrder.Uint32(buf[8:12])),
		protocol: int32(nativeOrder.Uint32(buf[12:16])),
		addrLen:  int32(nativeOrder.Uint32(buf[16:20])),
	}
	presence := buf[20]
	h.hasAddr = presence&presenceAddr != 0
	h.hasCanon = presence&presenceCanon != 0
	h.hasNext = presence&presenceNext != 0
	return h, nil
}

// encodeAddrInfoChain serializes the full chain starting at head.
func encodeAddrInfoChain(head *addr.AddrInfo) ([]byte, error) {
	var out []byte
	for n := head; n != nil; n = n.Next {
		out = append(out, encodeNodeHeader(n)...)
		if n.Addr != nil {
			out = append(out, n.Addr.Raw...)
		}
		if n.CanonName != nil {
			lenBuf := make([]byte, wordSize)
			putWord(lenBuf, uint64(len(*n.CanonName)))
			out = append(out, lenBuf...)
			out = append(out, []byte(*n.CanonName)...)
		}
	}
	return out, nil
}

// ExtractAddrInfo decodes a chain encoded by PushAddrInfo, mirroring the
// encoder exactly. Every encoded presence flag is rewritten to a freshly
// owned object; the last node's hasNext is always false. Fails on any
// short sub-buffer without leaking a partially built chain (spec §4.1
// extract_addrinfo).
func ExtractAddrInfo(data []byte) (*addr.AddrInfo, error) {
	var head, tail *addr.AddrInfo
	for {
		h, err := decodeNodeHeader(data)
		if err != nil {
			return nil, err
		}
		data = data[nodeHeaderSize:]

		node := &addr.AddrInfo{
			Flags:    h.flags,
			Family:   addr.Family(h.family),
			SockType: h.sockType,
			Protocol: h.protocol,
		}
		if h.hasAddr {
			if int(h.addrLen) > len(data) {
				return nil, ErrTruncatedChain
			}
			a, err := addr.ExtractSockaddr(node.Family, data[:h.addrLen])
			if err != nil {
				return nil, err
			}
			node.Addr = a
			data = data[h.addrLen:]
		}
		if h.hasCanon {
			if len(data) < wordSize {
				return nil, ErrTruncatedChain
			}
			n := getWord(data)
			data = data[wordSize:]
			if uint64(len(data)) < n {
				return nil, ErrTruncatedChain
			}
			s := string(data[:n])
			node.CanonName = &s
			data = data[n:]
		}

		if head == nil {
			head = node
		} else {
			tail.Next = node
		}
		tail = node

		if !h.hasNext {
			break
		}
	}
	return head, nil
}
