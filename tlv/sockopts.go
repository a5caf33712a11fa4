package tlv

import (
	"github.com/m-lab/muacc/addr"
	"github.com/m-lab/muacc/optlist"
)

// optHeaderSize is the fixed-size prefix of each encoded option: level,
// name, optlen, flags, returnvalue (5 x int32).
const optHeaderSize = 4 * 5

func encodeOptHeader(o *optlist.Option) []byte {
	buf := make([]byte, optHeaderSize)
	nativeOrder.PutUint32(buf[0:4], uint32(o.Level))
	nativeOrder.PutUint32(buf[4:8], uint32(o.Name))
	nativeOrder.PutUint32(buf[8:12], uint32(len(o.Value)))
	nativeOrder.PutUint32(buf[12:16], uint32(o.Flags))
	nativeOrder.PutUint32(buf[16:20], uint32(o.ReturnValue))
	return buf
}

func decodeOptHeader(buf []byte) (level, name, optLen, flags, retval int32, err error) {
	if len(buf) < optHeaderSize {
		return 0, 0, 0, 0, 0, ErrMalformed
	}
	level = int32(nativeOrder.Uint32(buf[0:4]))
	name = int32(nativeOrder.Uint32(buf[4:8]))
	optLen = int32(nativeOrder.Uint32(buf[8:12]))
	flags = int32(nativeOrder.Uint32(buf[12:16]))
	retval = int32(nativeOrder.Uint32(buf[16:20]))
	return
}

// encodeSockopts serializes every option in list as the concatenation of
// {option-header, value bytes if optlen > 0} (spec §4.1 push_sockopts).
func encodeSockopts(list *optlist.List) []byte {
	var out []byte
	for i := 0; i < list.Len(); i++ {
		o := list.At(i)
		out = append(out, encodeOptHeader(o)...)
		out = append(out, o.Value...)
	}
	return out
}

// ExtractSockopts decodes a list encoded by PushSockopts, mirroring the
// encoder exactly (spec §4.1 extract_sockopts).
func ExtractSockopts(data []byte) (*optlist.List, error) {
	out := optlist.New()
	for len(data) > 0 {
		level, name, optLen, flags, retval, err := decodeOptHeader(data)
		if err != nil {
			return nil, err
		}
		data = data[optHeaderSize:]
		if int(optLen) > len(data) {
			return nil, ErrMalformed
		}
		value := make([]byte, optLen)
		copy(value, data[:optLen])
		data = data[optLen:]
		out.Append(&optlist.Option{
			Level:       level,
			Name:        name,
			Value:       value,
			Flags:       optlist.Flag(flags),
			ReturnValue: retval,
		})
	}
	return out, nil
}

// ExtractSockaddr re-exports addr.ExtractSockaddr so callers only need to
// import package tlv for the whole decode surface; kept as a thin wrapper
// rather than duplicating logic (spec §4.1 extract_sockaddr).
func ExtractSockaddr(family addr.Family, raw []byte) (*addr.Address, error) {
	return addr.ExtractSockaddr(family, raw)
}
