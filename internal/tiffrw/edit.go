package tiffrw

import (
	"fmt"
	"io"

	"github.com/slidevault/wsipseudo/internal/wsierr"
)

// LabelStripData is the escrow-ready snapshot of an IFD's strip region:
// its byte counts, file offsets, compression, and the concatenation of the
// compressed strip bytes themselves, in strip order. It serializes
// directly to the label-strip blob JSON shape.
type LabelStripData struct {
	DataByteCounts []uint32 `json:"data_byte_counts"`
	DataOffsets    []uint32 `json:"data_offsets"`
	Compression    uint16   `json:"compression"`
	Data           []byte   `json:"data"`
}

// DescriptionRecord is the escrow-ready snapshot of one IFD's
// ImageDescription tag, sufficient to restore both the string and the
// exact tag-entry layout (count, value offset) it was stored with.
type DescriptionRecord struct {
	PageIndex   int    `json:"page_index"`
	Shape       [3]int `json:"shape"` // height, width, samples-per-pixel
	Count       uint32 `json:"count"`
	ValueOffset uint32 `json:"value_offset"`
	Value       string `json:"value"`
}

func (t *File) ifdIndex(ifd *IFD) int {
	for i, d := range t.ifds {
		if d == ifd {
			return i
		}
	}
	return -1
}

// CaptureStrips reads ifd's current strip layout and raw compressed bytes,
// for escrowing before ReplaceStrips overwrites them.
func (t *File) CaptureStrips(ifd *IFD) (LabelStripData, error) {
	const op = "tiffrw.CaptureStrips"
	offs, err := t.StripOffsets(ifd)
	if err != nil {
		return LabelStripData{}, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	counts, err := t.StripByteCounts(ifd)
	if err != nil {
		return LabelStripData{}, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if len(offs) != len(counts) {
		return LabelStripData{}, wsierr.Wrap(wsierr.Inconsistent, op, fmt.Errorf("%d strip offsets but %d byte counts", len(offs), len(counts)))
	}
	compression, err := t.Compression(ifd)
	if err != nil {
		return LabelStripData{}, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	var data []byte
	for i, off := range offs {
		buf := make([]byte, counts[i])
		if _, err := t.f.ReadAt(buf, int64(off)); err != nil {
			return LabelStripData{}, wsierr.Wrap(wsierr.FileIO, op, err)
		}
		data = append(data, buf...)
	}
	return LabelStripData{DataByteCounts: counts, DataOffsets: offs, Compression: compression, Data: data}, nil
}

// ReplaceStrips implements the replace-strips algorithm: the old strip
// region is zero-wiped, the new strips are appended at EOF, and tags 259
// (if changed), 273 and 279 are rewritten in place to point at the new
// data. newStrips is one []byte per strip, already compressed.
func (t *File) ReplaceStrips(ifd *IFD, newStrips [][]byte, newCompression uint16) error {
	const op = "tiffrw.ReplaceStrips"

	oldOffsets, err := t.StripOffsets(ifd)
	if err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	oldCounts, err := t.StripByteCounts(ifd)
	if err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if len(oldOffsets) == 0 {
		return wsierr.Wrap(wsierr.NoLabel, op, fmt.Errorf("ifd has no strips"))
	}

	var total int64
	for _, c := range oldCounts {
		total += int64(c)
	}
	if err := t.zeroRegion(int64(oldOffsets[0]), total); err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}

	newOffsets := make([]uint32, len(newStrips))
	newCounts := make([]uint32, len(newStrips))
	for i, strip := range newStrips {
		off, err := t.appendAtEOF(strip)
		if err != nil {
			return wsierr.Wrap(wsierr.FileIO, op, err)
		}
		newOffsets[i] = uint32(off)
		newCounts[i] = uint32(len(strip))
	}

	curCompression, err := t.Compression(ifd)
	if err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if curCompression != newCompression {
		if err := t.writeTagScalar(ifd, TagCompression, uint32(newCompression)); err != nil {
			return wsierr.Wrap(wsierr.FileIO, op, err)
		}
	}
	if err := t.writeTagArray(ifd, TagStripByteCounts, newCounts); err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if err := t.writeTagArray(ifd, TagStripOffsets, newOffsets); err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return wsierr.Wrap(wsierr.FileIO, op, t.reloadEntries(ifd))
}

// RestoreStrips writes a previously captured LabelStripData back at its
// original offsets, undoing ReplaceStrips. It first zero-wipes whatever
// strip region is currently referenced (the pseudonym strips appended at
// EOF), then writes the original bytes back at their original offsets and
// restores tags 259/273/279 to their original values.
func (t *File) RestoreStrips(ifd *IFD, orig LabelStripData) error {
	const op = "tiffrw.RestoreStrips"

	curOffsets, err := t.StripOffsets(ifd)
	if err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	curCounts, err := t.StripByteCounts(ifd)
	if err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	var curTotal int64
	for _, c := range curCounts {
		curTotal += int64(c)
	}
	if len(curOffsets) > 0 {
		if err := t.zeroRegion(int64(curOffsets[0]), curTotal); err != nil {
			return wsierr.Wrap(wsierr.FileIO, op, err)
		}
	}

	pos := 0
	for i, off := range orig.DataOffsets {
		n := int(orig.DataByteCounts[i])
		if pos+n > len(orig.Data) {
			return wsierr.Wrap(wsierr.Inconsistent, op, fmt.Errorf("escrowed strip data shorter than byte counts"))
		}
		if _, err := t.f.WriteAt(orig.Data[pos:pos+n], int64(off)); err != nil {
			return wsierr.Wrap(wsierr.FileIO, op, err)
		}
		pos += n
	}

	if err := t.writeTagScalar(ifd, TagCompression, uint32(orig.Compression)); err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if err := t.writeTagArray(ifd, TagStripByteCounts, orig.DataByteCounts); err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if err := t.writeTagArray(ifd, TagStripOffsets, orig.DataOffsets); err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return wsierr.Wrap(wsierr.FileIO, op, t.reloadEntries(ifd))
}

// CaptureDescription reads ifd's current ImageDescription tag and its
// layout, for escrowing before ReplaceDescription overwrites it.
func (t *File) CaptureDescription(ifd *IFD) (DescriptionRecord, error) {
	const op = "tiffrw.CaptureDescription"
	e, ok := ifd.entry(TagImageDescription)
	if !ok {
		return DescriptionRecord{}, wsierr.Wrap(wsierr.Inconsistent, op, fmt.Errorf("ifd has no ImageDescription tag"))
	}
	val, err := t.readASCII(e)
	if err != nil {
		return DescriptionRecord{}, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	shape, err := t.shapeOf(ifd)
	if err != nil {
		return DescriptionRecord{}, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return DescriptionRecord{
		PageIndex:   t.ifdIndex(ifd),
		Shape:       shape,
		Count:       e.Count,
		ValueOffset: e.ValueOffset,
		Value:       val,
	}, nil
}

func (t *File) shapeOf(ifd *IFD) ([3]int, error) {
	var shape [3]int
	if e, ok := ifd.entry(TagImageLength); ok {
		v, err := t.readShortOrValue(e)
		if err != nil {
			return shape, err
		}
		shape[0] = int(v)
	}
	if e, ok := ifd.entry(TagImageWidth); ok {
		v, err := t.readShortOrValue(e)
		if err != nil {
			return shape, err
		}
		shape[1] = int(v)
	}
	if e, ok := ifd.entry(TagSamplesPerPixel); ok {
		v, err := t.readShortOrValue(e)
		if err != nil {
			return shape, err
		}
		shape[2] = int(v)
	} else {
		shape[2] = 1
	}
	return shape, nil
}

// ReplaceDescription implements the replace-description algorithm: if the
// new text fits within the old tag's stored length it is padded in place
// with spaces (so the old content is fully overwritten and value-offset
// need not change); otherwise the old region is zero-wiped and the new
// text is appended at EOF with the tag's count and value-offset updated.
func (t *File) ReplaceDescription(ifd *IFD, newText string) error {
	const op = "tiffrw.ReplaceDescription"
	e, ok := ifd.entry(TagImageDescription)
	if !ok {
		return wsierr.Wrap(wsierr.Inconsistent, op, fmt.Errorf("ifd has no ImageDescription tag"))
	}

	oldLen := int(e.Count)
	newLen := len(newText)

	if newLen <= oldLen {
		padded := make([]byte, oldLen)
		copy(padded, newText)
		for i := len(newText); i < oldLen; i++ {
			if i == oldLen-1 {
				padded[i] = 0
			} else {
				padded[i] = ' '
			}
		}
		if e.isInline() {
			if err := t.writeInlineBytes(e, padded[:e.byteLen()]); err != nil {
				return wsierr.Wrap(wsierr.FileIO, op, err)
			}
		} else if _, err := t.f.WriteAt(padded, int64(e.ValueOffset)); err != nil {
			return wsierr.Wrap(wsierr.FileIO, op, err)
		}
		if err := t.writeU32At(e.CountOffset(), uint32(newLen)); err != nil {
			return wsierr.Wrap(wsierr.FileIO, op, err)
		}
		return wsierr.Wrap(wsierr.FileIO, op, t.reloadEntries(ifd))
	}

	if !e.isInline() {
		if err := t.zeroRegion(int64(e.ValueOffset), e.byteLen()); err != nil {
			return wsierr.Wrap(wsierr.FileIO, op, err)
		}
	}
	buf := append([]byte(newText), 0)
	newOffset, err := t.appendAtEOF(buf)
	if err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if err := t.writeU32At(e.CountOffset(), uint32(newLen)); err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if err := t.writeU32At(e.ValueOffsetOffset(), uint32(newOffset)); err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return wsierr.Wrap(wsierr.FileIO, op, t.reloadEntries(ifd))
}

// RestoreDescription writes a previously captured DescriptionRecord back,
// undoing ReplaceDescription.
func (t *File) RestoreDescription(ifd *IFD, rec DescriptionRecord) error {
	const op = "tiffrw.RestoreDescription"
	e, ok := ifd.entry(TagImageDescription)
	if !ok {
		return wsierr.Wrap(wsierr.Inconsistent, op, fmt.Errorf("ifd has no ImageDescription tag"))
	}
	buf := append([]byte(rec.Value), 0)
	if e.isInline() || int64(len(buf)) <= 4 {
		if err := t.writeInlineBytes(e, buf); err != nil {
			return wsierr.Wrap(wsierr.FileIO, op, err)
		}
	} else if _, err := t.f.WriteAt(buf, int64(rec.ValueOffset)); err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if err := t.writeU32At(e.CountOffset(), rec.Count); err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	if err := t.writeU32At(e.ValueOffsetOffset(), rec.ValueOffset); err != nil {
		return wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return wsierr.Wrap(wsierr.FileIO, op, t.reloadEntries(ifd))
}

// reloadEntries re-reads ifd's entry table from disk, so that reads made
// through ifd after an edit see the rewritten counts and value-offsets.
func (t *File) reloadEntries(ifd *IFD) error {
	fresh, _, err := t.readIFD(ifd.Offset)
	if err != nil {
		return err
	}
	ifd.Entries = fresh.Entries
	return nil
}

func (t *File) zeroRegion(off, n int64) error {
	if n <= 0 {
		return nil
	}
	zeros := make([]byte, 32*1024)
	for n > 0 {
		chunk := int64(len(zeros))
		if chunk > n {
			chunk = n
		}
		if _, err := t.f.WriteAt(zeros[:chunk], off); err != nil {
			return err
		}
		off += chunk
		n -= chunk
	}
	return nil
}

func (t *File) appendAtEOF(data []byte) (int64, error) {
	off, err := t.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := t.f.WriteAt(data, off); err != nil {
		return 0, err
	}
	return off, nil
}

func (t *File) writeU32At(off int64, v uint32) error {
	var b [4]byte
	t.order.PutUint32(b[:], v)
	_, err := t.f.WriteAt(b[:], off)
	return err
}

// writeInlineBytes overwrites an inline value-or-offset field with raw
// bytes, left-justified the way TIFF stores short values, leaving the
// remaining trailing bytes of the 4-byte slot untouched if buf is shorter.
func (t *File) writeInlineBytes(e Entry, buf []byte) error {
	var field [4]byte
	t.order.PutUint32(field[:], e.ValueOffset)
	copy(field[:], buf)
	_, err := t.f.WriteAt(field[:], e.ValueOffsetOffset())
	return err
}

// writeTagScalar writes a single SHORT/LONG value into tag's entry,
// respecting whether the entry is stored inline.
func (t *File) writeTagScalar(ifd *IFD, tag uint16, v uint32) error {
	e, ok := ifd.entry(tag)
	if !ok {
		return fmt.Errorf("tag %d not present", tag)
	}
	if e.isInline() {
		var raw [4]byte
		switch typeSize(e.Type) {
		case 2:
			t.order.PutUint16(raw[:2], uint16(v))
		default:
			t.order.PutUint32(raw[:4], v)
		}
		return t.writeInlineBytes(e, raw[:e.byteLen()])
	}
	switch typeSize(e.Type) {
	case 2:
		var b [2]byte
		t.order.PutUint16(b[:], uint16(v))
		_, err := t.f.WriteAt(b[:], int64(e.ValueOffset))
		return err
	default:
		return t.writeU32At(int64(e.ValueOffset), v)
	}
}

// writeTagArray writes an array of u32-valued elements into the value
// slot referenced by tag's entry (always an external array per the
// replace-strips algorithm's assumption that these tags have count > 1).
func (t *File) writeTagArray(ifd *IFD, tag uint16, values []uint32) error {
	e, ok := ifd.entry(tag)
	if !ok {
		return fmt.Errorf("tag %d not present", tag)
	}
	sz := typeSize(e.Type)
	buf := make([]byte, sz*len(values))
	for i, v := range values {
		switch sz {
		case 2:
			t.order.PutUint16(buf[i*2:i*2+2], uint16(v))
		default:
			t.order.PutUint32(buf[i*4:i*4+4], v)
		}
	}
	if e.isInline() {
		return t.writeInlineBytes(e, buf)
	}
	_, err := t.f.WriteAt(buf, int64(e.ValueOffset))
	return err
}
