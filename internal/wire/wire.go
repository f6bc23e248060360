// Package wire frames spilled pages.
//
//	magic(4) | ver(1) | kind(1=page) | gen(u64) | page(u32) | pageSize(u32) |
//	total(u64) | totalPages(u32) | updatedAt(i64 unix nanos) | n(u32) |
//	vlen(u32) | item(vlen) * n
//
// All integers are big-endian. Decoding is strict: short frames, bad lengths
// and trailing bytes are ErrCorrupt.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

const (
	version  byte = 1
	kindPage byte = 1

	headerLen = 4 + 1 + 1 + 8 + 4 + 4 + 8 + 4 + 8 + 4
)

var (
	ErrCorrupt  = errors.New("pagequery: corrupt spill frame")
	ErrTooLarge = errors.New("pagequery: page field out of range")
	magic4      = [...]byte{'P', 'G', 'Q', 'C'}
)

// Page is the decoded form of a spilled page. Items alias the input buffer.
type Page struct {
	Gen        uint64
	Page       int
	PageSize   int
	Total      int
	TotalPages int
	UpdatedAt  int64
	Items      [][]byte
}

func EncodePage(p Page) ([]byte, error) {
	if !fitsU32(p.Page) || !fitsU32(p.PageSize) || !fitsU32(p.TotalPages) || p.Total < 0 {
		return nil, ErrTooLarge
	}
	if uint64(len(p.Items)) > math.MaxUint32 {
		return nil, ErrTooLarge
	}
	total := headerLen
	for _, it := range p.Items {
		if uint64(len(it)) > math.MaxUint32 {
			return nil, ErrTooLarge
		}
		total += 4 + len(it)
	}

	var buf bytes.Buffer
	buf.Grow(total)
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindPage)

	var u8 [8]byte
	var u4 [4]byte
	put64 := func(v uint64) {
		binary.BigEndian.PutUint64(u8[:], v)
		buf.Write(u8[:])
	}
	put32 := func(v uint32) {
		binary.BigEndian.PutUint32(u4[:], v)
		buf.Write(u4[:])
	}

	put64(p.Gen)
	put32(uint32(p.Page))
	put32(uint32(p.PageSize))
	put64(uint64(p.Total))
	put32(uint32(p.TotalPages))
	put64(uint64(p.UpdatedAt))
	put32(uint32(len(p.Items)))
	for _, it := range p.Items {
		put32(uint32(len(it)))
		buf.Write(it)
	}
	return buf.Bytes(), nil
}

func DecodePage(b []byte) (Page, error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version || b[5] != kindPage {
		return Page{}, ErrCorrupt
	}
	off := 6
	u64 := func() uint64 {
		v := binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		return v
	}
	u32 := func() uint32 {
		v := binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		return v
	}

	var p Page
	p.Gen = u64()
	p.Page = int(u32())
	p.PageSize = int(u32())
	total := u64()
	if total > math.MaxInt32 {
		return Page{}, ErrCorrupt
	}
	p.Total = int(total)
	p.TotalPages = int(u32())
	p.UpdatedAt = int64(u64())
	n := int(u32())

	// each item needs at least its 4-byte length; reject bogus counts before allocating
	if n > (len(b)-off)/4 {
		return Page{}, ErrCorrupt
	}
	p.Items = make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if off+4 > len(b) {
			return Page{}, ErrCorrupt
		}
		vlen := int(u32())
		if vlen < 0 || vlen > len(b)-off {
			return Page{}, ErrCorrupt
		}
		p.Items = append(p.Items, b[off:off+vlen])
		off += vlen
	}
	if off != len(b) {
		return Page{}, ErrCorrupt
	}
	return p, nil
}

func fitsU32(v int) bool { return v >= 0 && uint64(v) <= math.MaxUint32 }
