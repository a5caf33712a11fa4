// Package tlv implements the length-prefixed, host-byte-order,
// schema-free binary wire encoding the muacc client and the MAM daemon
// speak to each other (spec §4.1, §6). Records are tag:u32 length:word
// value:length. The length's word size and the byte order are the
// platform's native ones, matching the original C implementation's use of size_t; we borrow
// github.com/vishvananda/netlink/nl's NativeEndian helper for that decision
// rather than hand-rolling a host/network byte-order detector, the same
// way the teacher leans on it for its own raw netlink message parsing.
package tlv

import (
	"errors"
	"io"
	"unsafe"

	"github.com/vishvananda/netlink/nl"

	"github.com/m-lab/muacc/addr"
	"github.com/m-lab/muacc/optlist"
)

// Tag identifies the meaning of a TLV record's value. This is the closed
// set named in spec §4.1.
type Tag uint32

// The closed tag set.
const (
	TagAction Tag = iota + 1
	TagBindSaReq
	TagBindSaRes
	TagRemoteSaReq
	TagRemoteSaRes
	TagRemoteHostname
	TagRemoteSrvname
	TagRemotePort
	TagRemoteAddrinfoHint
	TagRemoteAddrinfoRes
	TagSockoptsCurrent
	TagSockoptsSuggested
	TagSocketsetFile
	TagCtxid
	TagEOF
	TagActionErrorCodes
)

func (t Tag) String() string {
	switch t {
	case TagAction:
		return "action"
	case TagBindSaReq:
		return "bind_sa_req"
	case TagBindSaRes:
		return "bind_sa_res"
	case TagRemoteSaReq:
		return "remote_sa_req"
	case TagRemoteSaRes:
		return "remote_sa_res"
	case TagRemoteHostname:
		return "remote_hostname"
	case TagRemoteSrvname:
		return "remote_srvname"
	case TagRemotePort:
		return "remote_port"
	case TagRemoteAddrinfoHint:
		return "remote_addrinfo_hint"
	case TagRemoteAddrinfoRes:
		return "remote_addrinfo_res"
	case TagSockoptsCurrent:
		return "sockopts_current"
	case TagSockoptsSuggested:
		return "sockopts_suggested"
	case TagSocketsetFile:
		return "socketset_file"
	case TagCtxid:
		return "ctxid"
	case TagEOF:
		return "eof"
	case TagActionErrorCodes:
		return "action-error-codes"
	default:
		return "unknown"
	}
}

// wordSize is the platform's native unsigned word width in bytes, matching
// the original's size_t length field (spec §4.1, §9: "the codec does not
// network-normalize").
var wordSize = int(unsafe.Sizeof(uintptr(0)))

// TagSize is the wire width of a tag field.
const TagSize = 4

// nativeOrder is the byte order used for both the tag and length fields.
var nativeOrder = nl.NativeEndian()

// Errors returned by the codec.
var (
	ErrOverflow       = errors.New("tlv: buffer too short for record")
	ErrShortRead      = errors.New("tlv: short read")
	ErrMalformed      = errors.New("tlv: malformed record")
	ErrTruncatedChain = errors.New("tlv: truncated addrinfo chain")
)

// recordLen returns the on-wire size of a record carrying valueLen bytes of
// payload.
func recordLen(valueLen int) int {
	return TagSize + wordSize + valueLen
}

// Buffer is a fixed-capacity, position-tracked byte buffer used for
// outbound packing (spec §4.1's buf/buf_pos/buf_len triple). A failed push
// leaves Pos unchanged (spec §8 boundary behavior).
type Buffer struct {
	Data []byte
	Pos  int
}

// NewBuffer allocates a Buffer with the given capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{Data: make([]byte, capacity)}
}

// Bytes returns the portion of Data written so far.
func (b *Buffer) Bytes() []byte {
	return b.Data[:b.Pos]
}

// Remaining returns the unused capacity.
func (b *Buffer) Remaining() int {
	return len(b.Data) - b.Pos
}

func putWord(dst []byte, v uint64) {
	switch wordSize {
	case 4:
		nativeOrder.PutUint32(dst, uint32(v))
	default:
		nativeOrder.PutUint64(dst, v)
	}
}

func getWord(src []byte) uint64 {
	switch wordSize {
	case 4:
		return uint64(nativeOrder.Uint32(src))
	default:
		return nativeOrder.Uint64(src)
	}
}

func putTag(dst []byte, t Tag) {
	nativeOrder.PutUint32(dst, uint32(t))
}

func getTag(src []byte) Tag {
	return Tag(nativeOrder.Uint32(src))
}

// PushTag appends a record with an empty value (spec §4.1 push_tag).
func (b *Buffer) PushTag(tag Tag) error {
	return b.Push(tag, nil)
}

// Push appends a record carrying value as its payload (spec §4.1 push).
// Fails without mutating Pos when the remaining capacity is insufficient.
func (b *Buffer) Push(tag Tag, value []byte) error {
	n := recordLen(len(value))
	if b.Remaining() < n {
		return ErrOverflow
	}
	putTag(b.Data[b.Pos:], tag)
	putWord(b.Data[b.Pos+TagSize:], uint64(len(value)))
	copy(b.Data[b.Pos+TagSize+wordSize:], value)
	b.Pos += n
	return nil
}

// PushEOF appends the terminating eof record.
func (b *Buffer) PushEOF() error {
	return b.PushTag(TagEOF)
}

// PushAddrInfo encodes an addrinfo chain as the concatenation, for each
// node, of {node-header, addr bytes (if any), canonname length+bytes (if
// any)} (spec §4.1 push_addrinfo). Absence of the chain (head == nil)
// encodes nothing: no record is emitted at all.
func (b *Buffer) PushAddrInfo(tag Tag, head *addr.AddrInfo) error {
	if head == nil {
		return nil
	}
	enc, err := encodeAddrInfoChain(head)
	if err != nil {
		return err
	}
	return b.Push(tag, enc)
}

// PushSockopts encodes a socket-option list as the concatenation of
// {option-header, value bytes} for each entry (spec §4.1 push_sockopts).
func (b *Buffer) PushSockopts(tag Tag, list *optlist.List) error {
	if list.Len() == 0 {
		return nil
	}
	enc := encodeSockopts(list)
	return b.Push(tag, enc)
}

// ReadTLV performs a synchronous framed read of one record from r (spec
// §4.1 read_tlv). On the eof tag it returns (TagEOF, nil, recordLen, nil).
func ReadTLV(r io.Reader) (Tag, []byte, int, error) {
	hdr := make([]byte, TagSize+wordSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, nil, 0, ErrShortRead
	}
	tag := getTag(hdr)
	length := getWord(hdr[TagSize:])
	if tag == TagEOF {
		return TagEOF, nil, recordLen(0), nil
	}
	if length == 0 {
		return tag, nil, recordLen(0), nil
	}
	value := make([]byte, length)
	if _, err := io.ReadFull(r, value); err != nil {
		return 0, nil, 0, ErrShortRead
	}
	return tag, value, recordLen(int(length)), nil
}

// HeaderSize is the on-wire size of a record's tag+length header.
var HeaderSize = TagSize + wordSize

// PeekHeader reads a record header out of buf without consuming it,
// reporting whether a complete header is present. Used by the incremental
// parser (package tlvserver) to decide whether a full record is buffered
// yet.
func PeekHeader(buf []byte) (tag Tag, length uint64, ok bool) {
	if len(buf) < HeaderSize {
		return 0, 0, false
	}
	return getTag(buf), getWord(buf[TagSize:]), true
}
