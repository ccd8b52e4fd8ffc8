// Package tiffrw performs byte-exact in-place edits to a classic (32-bit
// offset) TIFF file: swapping a targeted IFD's strip data and its
// ImageDescription tag while leaving every other byte untouched.
//
// The package opens the file twice: once through github.com/google/tiff to
// validate that it parses as a well-formed classic TIFF and to enumerate
// its IFD count, and once as a raw byte buffer walked by hand so that the
// exact file offset of every tag entry is known (tiff.Field does not
// expose that, and the rewrite algorithms need entry_offset+4/+8 directly).
package tiffrw

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"

	"github.com/slidevault/wsipseudo/internal/wsierr"
)

// Tag numbers this package reads or writes.
const (
	TagImageWidth       = 256
	TagImageLength      = 257
	TagBitsPerSample    = 258
	TagCompression      = 259
	TagImageDescription = 270
	TagStripOffsets     = 273
	TagSamplesPerPixel  = 277
	TagRowsPerStrip     = 278
	TagStripByteCounts  = 279
	TagPredictor        = 317
)

// entry byte layout within a classic TIFF IFD.
const (
	entrySize       = 12
	entryTagOff     = 0
	entryTypeOff    = 2
	entryCountOff   = 4
	entryValueOff   = 8
	headerByteOrder = 0
	headerMagicOff  = 2
	headerIFDOff    = 4
)

// TIFF field type codes and their byte widths.
const (
	tByte      = 1
	tASCII     = 2
	tShort     = 3
	tLong      = 4
	tRational  = 5
	tSByte     = 6
	tUndefined = 7
	tSShort    = 8
	tSLong     = 9
	tSRational = 10
	tFloat     = 11
	tDouble    = 12
)

func typeSize(t uint16) int {
	switch t {
	case tByte, tASCII, tSByte, tUndefined:
		return 1
	case tShort, tSShort:
		return 2
	case tLong, tSLong, tFloat:
		return 4
	case tRational, tSRational, tDouble:
		return 8
	default:
		return 1
	}
}

// Entry is one (tag, type, count, value-or-offset) directory entry, with
// the file offset it was read from so it can be rewritten in place.
type Entry struct {
	Tag         uint16
	Type        uint16
	Count       uint32
	ValueOffset uint32 // raw 4-byte value-or-offset field, as stored
	EntryOffset int64  // file offset of this entry's first byte
}

// CountOffset is the file offset of this entry's count field.
func (e Entry) CountOffset() int64 { return e.EntryOffset + entryCountOff }

// ValueOffsetOffset is the file offset of this entry's value-or-offset field.
func (e Entry) ValueOffsetOffset() int64 { return e.EntryOffset + entryValueOff }

// byteLen is the total byte length the value occupies (inline if it fits
// in the 4-byte value-or-offset slot, external otherwise).
func (e Entry) byteLen() int64 { return int64(typeSize(e.Type)) * int64(e.Count) }

func (e Entry) isInline() bool { return e.byteLen() <= 4 }

// IFD is one image file directory, positioned at a known file offset.
type IFD struct {
	Offset  int64
	Entries []Entry
}

func (d *IFD) entry(tag uint16) (Entry, bool) {
	for _, e := range d.Entries {
		if e.Tag == tag {
			return e, true
		}
	}
	return Entry{}, false
}

// HasTag reports whether the IFD carries the given tag.
func (d *IFD) HasTag(tag uint16) bool {
	_, ok := d.entry(tag)
	return ok
}

// File is an open classic-TIFF handle with random read/write access.
type File struct {
	f     *os.File
	order binary.ByteOrder
	ifds  []*IFD
}

// Open validates path as a classic (non-BigTIFF) TIFF and builds the raw
// IFD/entry offset table used by the replace/restore operations.
func Open(path string) (*File, error) {
	const op = "tiffrw.Open"

	rf, err := os.Open(path)
	if err != nil {
		return nil, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	defer rf.Close()

	header := make([]byte, 8)
	if _, err := io.ReadFull(rf, header); err != nil {
		return nil, wsierr.Wrap(wsierr.FileIO, op, fmt.Errorf("read header: %w", err))
	}

	var order binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, wsierr.Wrap(wsierr.VendorUnsupported, op, fmt.Errorf("not a TIFF file: bad byte-order marker %q", header[0:2]))
	}
	magic := order.Uint16(header[2:4])
	if magic == 43 {
		return nil, wsierr.Wrap(wsierr.VendorUnsupported, op, fmt.Errorf("BigTIFF is not supported"))
	}
	if magic != 42 {
		return nil, wsierr.Wrap(wsierr.VendorUnsupported, op, fmt.Errorf("unrecognized TIFF magic %d", magic))
	}

	// Validating pass: confirm the library can parse this as a classic
	// TIFF at all before we trust our own hand-rolled walk below.
	if _, err := rf.Seek(0, io.SeekStart); err != nil {
		return nil, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if _, err := tiff.Parse(rf, nil, nil); err != nil {
		return nil, wsierr.Wrap(wsierr.VendorUnsupported, op, fmt.Errorf("parse TIFF: %w", err))
	}

	rwf, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, wsierr.Wrap(wsierr.FileIO, op, err)
	}

	t := &File{f: rwf, order: order}
	firstIFD := int64(order.Uint32(header[headerIFDOff : headerIFDOff+4]))
	for off := firstIFD; off != 0; {
		ifd, next, err := t.readIFD(off)
		if err != nil {
			rwf.Close()
			return nil, wsierr.Wrap(wsierr.FileIO, op, err)
		}
		t.ifds = append(t.ifds, ifd)
		off = next
	}
	return t, nil
}

func (t *File) readIFD(off int64) (*IFD, int64, error) {
	if _, err := t.f.Seek(off, io.SeekStart); err != nil {
		return nil, 0, err
	}
	var countBuf [2]byte
	if _, err := io.ReadFull(t.f, countBuf[:]); err != nil {
		return nil, 0, err
	}
	count := t.order.Uint16(countBuf[:])

	ifd := &IFD{Offset: off, Entries: make([]Entry, 0, count)}
	entriesStart := off + 2
	raw := make([]byte, int(count)*entrySize)
	if _, err := io.ReadFull(t.f, raw); err != nil {
		return nil, 0, err
	}
	for i := 0; i < int(count); i++ {
		b := raw[i*entrySize : (i+1)*entrySize]
		ifd.Entries = append(ifd.Entries, Entry{
			Tag:         t.order.Uint16(b[entryTagOff : entryTagOff+2]),
			Type:        t.order.Uint16(b[entryTypeOff : entryTypeOff+2]),
			Count:       t.order.Uint32(b[entryCountOff : entryCountOff+4]),
			ValueOffset: t.order.Uint32(b[entryValueOff : entryValueOff+4]),
			EntryOffset: entriesStart + int64(i*entrySize),
		})
	}
	var nextBuf [4]byte
	if _, err := io.ReadFull(t.f, nextBuf[:]); err != nil {
		return nil, 0, err
	}
	return ifd, int64(t.order.Uint32(nextBuf[:])), nil
}

// IFDs returns every IFD found while opening the file, in file order.
func (t *File) IFDs() []*IFD { return t.ifds }

// ByteOrder is the endianness declared by the file header.
func (t *File) ByteOrder() binary.ByteOrder { return t.order }

// Close releases the underlying file handle.
func (t *File) Close() error { return t.f.Close() }

// ImageDescription reads the current ImageDescription string of ifd, or
// "" if the tag is absent.
func (t *File) ImageDescription(ifd *IFD) (string, error) {
	e, ok := ifd.entry(TagImageDescription)
	if !ok {
		return "", nil
	}
	return t.readASCII(e)
}

// FindLabelIFD returns the first IFD whose ImageDescription contains the
// substring "label", case-insensitively -- the Aperio SVS convention for
// marking the sub-image that renders the physical glass-slide sticker.
func (t *File) FindLabelIFD() (*IFD, error) {
	for _, ifd := range t.ifds {
		desc, err := t.ImageDescription(ifd)
		if err != nil {
			return nil, wsierr.Wrap(wsierr.FileIO, "tiffrw.FindLabelIFD", err)
		}
		if strings.Contains(strings.ToLower(desc), "label") {
			return ifd, nil
		}
	}
	return nil, wsierr.Wrap(wsierr.NoLabel, "tiffrw.FindLabelIFD", fmt.Errorf("no IFD with \"label\" in ImageDescription"))
}

func (t *File) readASCII(e Entry) (string, error) {
	raw, err := t.readValueBytes(e)
	if err != nil {
		return "", err
	}
	s := string(raw)
	// ASCII fields are NUL-terminated; trim a trailing NUL if present.
	s = strings.TrimRight(s, "\x00")
	return s, nil
}

func (t *File) readValueBytes(e Entry) ([]byte, error) {
	n := e.byteLen()
	buf := make([]byte, n)
	if e.isInline() {
		var v [4]byte
		t.order.PutUint32(v[:], e.ValueOffset)
		copy(buf, v[:n])
		return buf, nil
	}
	if _, err := t.f.ReadAt(buf, int64(e.ValueOffset)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Compression returns ifd's tag 259 value, defaulting to 1 (none) if absent.
func (t *File) Compression(ifd *IFD) (uint16, error) {
	e, ok := ifd.entry(TagCompression)
	if !ok {
		return 1, nil
	}
	v, err := t.readShortOrValue(e)
	return uint16(v), err
}

// readShortOrValue decodes a single scalar value (SHORT or LONG) from an
// entry that may be stored inline. Inline values are left-justified within
// the 4-byte value-or-offset field according to the file's byte order, so
// the value occupies the first typeSize(e.Type) bytes of that field.
func (t *File) readShortOrValue(e Entry) (uint32, error) {
	if e.isInline() {
		var raw [4]byte
		t.order.PutUint32(raw[:], e.ValueOffset)
		switch typeSize(e.Type) {
		case 2:
			return uint32(t.order.Uint16(raw[:2])), nil
		default:
			return t.order.Uint32(raw[:4]), nil
		}
	}
	buf, err := t.readValueBytes(e)
	if err != nil {
		return 0, err
	}
	switch typeSize(e.Type) {
	case 2:
		return uint32(t.order.Uint16(buf[:2])), nil
	default:
		return t.order.Uint32(buf[:4]), nil
	}
}

// StripOffsets returns ifd's tag 273 values.
func (t *File) StripOffsets(ifd *IFD) ([]uint32, error) {
	return t.readU32Array(ifd, TagStripOffsets)
}

// StripByteCounts returns ifd's tag 279 values.
func (t *File) StripByteCounts(ifd *IFD) ([]uint32, error) {
	return t.readU32Array(ifd, TagStripByteCounts)
}

func (t *File) readU32Array(ifd *IFD, tag uint16) ([]uint32, error) {
	e, ok := ifd.entry(tag)
	if !ok {
		return nil, fmt.Errorf("tag %d not present", tag)
	}
	out := make([]uint32, e.Count)
	if e.isInline() && typeSize(e.Type) == 4 && e.Count == 1 {
		out[0] = e.ValueOffset
		return out, nil
	}
	buf, err := t.readValueBytes(e)
	if err != nil {
		return nil, err
	}
	sz := typeSize(e.Type)
	for i := range out {
		switch sz {
		case 2:
			out[i] = uint32(t.order.Uint16(buf[i*2 : i*2+2]))
		default:
			out[i] = t.order.Uint32(buf[i*4 : i*4+4])
		}
	}
	return out, nil
}

// RowsPerStrip returns ifd's tag 278 value.
func (t *File) RowsPerStrip(ifd *IFD) (uint32, error) {
	e, ok := ifd.entry(TagRowsPerStrip)
	if !ok {
		return 0, fmt.Errorf("tag %d not present", TagRowsPerStrip)
	}
	return t.readShortOrValue(e)
}
