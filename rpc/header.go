package rpc

import (
	"encoding/binary"
	"fmt"
)

// Wire framing: every input buffer starts with a request header, every
// output buffer with a response header. The user payload is the suffix.
const (
	headerMagic   uint32 = 0x4E415250
	headerVersion uint8  = 0x01

	// RequestHeaderSize is the fixed encoded size of a request header:
	// magic(4) version(1) flags(1) reserved(2) id(8) cookie(4) bulk(8).
	RequestHeaderSize = 28

	// ResponseHeaderSize is the fixed encoded size of a response header:
	// magic(4) version(1) reserved(3) cookie(4) ret(4).
	ResponseHeaderSize = 16
)

const flagExtraBulk uint8 = 0x01

type requestHeader struct {
	magic     uint32
	version   uint8
	flags     uint8
	id        ID
	cookie    uint32
	extraBulk uint64
}

func newRequestHeader(id ID, cookie uint32, extraBulk uint64) requestHeader {
	h := requestHeader{
		magic:     headerMagic,
		version:   headerVersion,
		id:        id,
		cookie:    cookie,
		extraBulk: extraBulk,
	}
	if extraBulk != 0 {
		h.flags = flagExtraBulk
	}
	return h
}

func (h requestHeader) encode(buf []byte) error {
	if len(buf) < RequestHeaderSize {
		return fmt.Errorf("%w: buffer too small for request header", ErrSize)
	}
	binary.BigEndian.PutUint32(buf[0:4], h.magic)
	buf[4] = h.version
	buf[5] = h.flags
	binary.BigEndian.PutUint16(buf[6:8], 0)
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.id))
	binary.BigEndian.PutUint32(buf[16:20], h.cookie)
	binary.BigEndian.PutUint64(buf[20:28], h.extraBulk)
	return nil
}

func decodeRequestHeader(buf []byte) (requestHeader, error) {
	if len(buf) < RequestHeaderSize {
		return requestHeader{}, fmt.Errorf("%w: buffer too small for request header", ErrSize)
	}
	return requestHeader{
		magic:     binary.BigEndian.Uint32(buf[0:4]),
		version:   buf[4],
		flags:     buf[5],
		id:        ID(binary.BigEndian.Uint64(buf[8:16])),
		cookie:    binary.BigEndian.Uint32(buf[16:20]),
		extraBulk: binary.BigEndian.Uint64(buf[20:28]),
	}, nil
}

func (h requestHeader) verify() error {
	if h.magic != headerMagic {
		return fmt.Errorf("%w: bad request magic 0x%08x", ErrProtocol, h.magic)
	}
	if h.version != headerVersion {
		return fmt.Errorf("%w: unsupported request version %d", ErrProtocol, h.version)
	}
	return nil
}

type responseHeader struct {
	magic   uint32
	version uint8
	cookie  uint32
	ret     Ret
}

func newResponseHeader(cookie uint32, ret Ret) responseHeader {
	return responseHeader{
		magic:   headerMagic,
		version: headerVersion,
		cookie:  cookie,
		ret:     ret,
	}
}

func (h responseHeader) encode(buf []byte) error {
	if len(buf) < ResponseHeaderSize {
		return fmt.Errorf("%w: buffer too small for response header", ErrSize)
	}
	binary.BigEndian.PutUint32(buf[0:4], h.magic)
	buf[4] = h.version
	buf[5], buf[6], buf[7] = 0, 0, 0
	binary.BigEndian.PutUint32(buf[8:12], h.cookie)
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.ret))
	return nil
}

func decodeResponseHeader(buf []byte) (responseHeader, error) {
	if len(buf) < ResponseHeaderSize {
		return responseHeader{}, fmt.Errorf("%w: buffer too small for response header", ErrSize)
	}
	return responseHeader{
		magic:   binary.BigEndian.Uint32(buf[0:4]),
		version: buf[4],
		cookie:  binary.BigEndian.Uint32(buf[8:12]),
		ret:     Ret(int32(binary.BigEndian.Uint32(buf[12:16]))),
	}, nil
}

func (h responseHeader) verify() error {
	if h.magic != headerMagic {
		return fmt.Errorf("%w: bad response magic 0x%08x", ErrProtocol, h.magic)
	}
	if h.version != headerVersion {
		return fmt.Errorf("%w: unsupported response version %d", ErrProtocol, h.version)
	}
	return nil
}
