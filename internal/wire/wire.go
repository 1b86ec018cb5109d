// Package wire frames Remote-tier values.
//
//	magic(4) | ver(1) | kind(1) | flags(1) | createdAt(i64 be, unix nanos) |
//	ttl(i64 be, nanos) | typeLen(u16 be) | type(typeLen) | vlen(u32 be) | payload(vlen)
//
// The type name lets a reader reject a payload written for another Go type
// before handing it to a codec. Framing is strict: trailing bytes are
// corruption.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindValue byte = 1

	flagSliding byte = 1 << 0

	headerLen = 4 + 1 + 1 + 1 + 8 + 8 + 2
)

var (
	ErrCorrupt    = errors.New("tiercache: corrupt remote entry")
	ErrTypeLength = errors.New("tiercache: type name length out of range")
	magic4        = [...]byte{'T', 'I', 'E', 'R'}
)

// Record is the decoded form of a remote entry.
type Record struct {
	Type      string
	CreatedAt time.Time
	TTL       time.Duration
	Sliding   bool
	Payload   []byte
}

func Encode(r Record) ([]byte, error) {
	if l := len(r.Type); l == 0 || l > 0xFFFF {
		return nil, ErrTypeLength
	}

	var buf bytes.Buffer
	buf.Grow(headerLen + len(r.Type) + 4 + len(r.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindValue)
	var flags byte
	if r.Sliding {
		flags |= flagSliding
	}
	buf.WriteByte(flags)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	var created int64
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(created))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(r.TTL))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(r.Type)))
	buf.Write(u2[:])
	buf.WriteString(r.Type)

	binary.BigEndian.PutUint32(u4[:], uint32(len(r.Payload)))
	buf.Write(u4[:])
	buf.Write(r.Payload)
	return buf.Bytes(), nil
}

// Decode parses b. The returned payload aliases b.
func Decode(b []byte) (Record, error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version || b[5] != kindValue {
		return Record{}, ErrCorrupt
	}
	flags := b[6]
	off := 7

	created := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	ttl := time.Duration(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	tlen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if tlen == 0 || tlen > len(b)-off {
		return Record{}, ErrCorrupt
	}
	typ := string(b[off : off+tlen])
	off += tlen

	if off+4 > len(b) {
		return Record{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Record{}, ErrCorrupt
	}

	r := Record{
		Type:    typ,
		TTL:     ttl,
		Sliding: flags&flagSliding != 0,
		Payload: b[off : off+vlen],
	}
	if created != 0 {
		r.CreatedAt = time.Unix(0, created)
	}
	return r, nil
}
