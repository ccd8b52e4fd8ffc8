package tiffrw

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidevault/wsipseudo/internal/wsierr"
)

// fixtureEntry describes one IFD entry to be baked into a synthetic
// classic-TIFF fixture. For entries with a non-empty external value, the
// builder appends it to the file's data area, word-aligned, and points the
// entry's value-offset field at it.
type fixtureEntry struct {
	tag, typ uint16
	count    uint32
	inline   uint32 // used when len(External) == 0
	external []byte // used when non-empty; must match count*typeSize(typ)
}

// buildFixture writes a minimal, baseline-valid classic TIFF with one IFD
// to a temp file and returns its path. Entries must be supplied in
// ascending tag order (classic TIFF's on-disk convention).
func buildFixture(t *testing.T, dir string, entries []fixtureEntry) string {
	t.Helper()
	order := binary.LittleEndian

	const headerSize = 8
	ifdCountSize := 2
	entrySize := 12
	ifdTableSize := len(entries) * entrySize
	nextIFDSize := 4

	fixedSize := headerSize + ifdCountSize + ifdTableSize + nextIFDSize
	buf := make([]byte, fixedSize)

	// header
	copy(buf[0:2], "II")
	order.PutUint16(buf[2:4], 42)
	order.PutUint32(buf[4:8], uint32(headerSize))

	// IFD entry count
	order.PutUint16(buf[headerSize:headerSize+2], uint16(len(entries)))

	entryBase := headerSize + ifdCountSize
	extCursor := int64(fixedSize)
	var external [][]byte
	entryOffsets := make([]int64, len(entries))

	for i, e := range entries {
		off := entryBase + i*entrySize
		entryOffsets[i] = int64(off)
		order.PutUint16(buf[off:off+2], e.tag)
		order.PutUint16(buf[off+2:off+4], e.typ)
		order.PutUint32(buf[off+4:off+8], e.count)
		if len(e.external) > 0 {
			// placeholder; patched once we know extCursor for this entry.
			order.PutUint32(buf[off+8:off+12], uint32(extCursor))
			padded := e.external
			if len(padded)%2 != 0 {
				padded = append(append([]byte{}, padded...), 0)
			}
			external = append(external, padded)
			extCursor += int64(len(padded))
		} else {
			order.PutUint32(buf[off+8:off+12], e.inline)
		}
	}
	// next-IFD offset: 0, terminates the chain.
	order.PutUint32(buf[entryBase+ifdTableSize:entryBase+ifdTableSize+4], 0)

	for _, ext := range external {
		buf = append(buf, ext...)
	}

	path := filepath.Join(dir, "fixture.tif")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

// labelFixture builds a one-IFD TIFF with 2 strips of 5 bytes each,
// width=4 height=4 rowsPerStrip=2 samplesPerPixel=1 bitsPerSample=8
// compression=NONE, and an ImageDescription long enough to require
// external storage, containing the substring "label".
func labelFixture(t *testing.T, dir string, strip0, strip1 []byte, desc string) string {
	t.Helper()
	descBytes := append([]byte(desc), 0)
	stripOffsetsPlaceholder := make([]byte, 8) // patched below via separate pass
	_ = stripOffsetsPlaceholder

	// Strip offsets/counts values are only known once we know where the
	// external data area lands; buildFixture appends external blocks in
	// entry order, so we pre-compute by calling buildFixture twice: once
	// to discover layout is impractical, so instead we append the strip
	// bytes as trailing "external" data for synthetic placeholder tags
	// 273/279 using a fixed, pre-agreed order: description, then
	// strip-offsets array, then strip-bytecounts array, then strip0, then
	// strip1. We precompute offsets manually using the same arithmetic
	// buildFixture uses, since entries are emitted and their external
	// data appended in the order given.
	entries := []fixtureEntry{
		{tag: TagImageWidth, typ: tLong, count: 1, inline: 4},
		{tag: TagImageLength, typ: tLong, count: 1, inline: 4},
		{tag: TagBitsPerSample, typ: tShort, count: 1, inline: 8},
		{tag: TagCompression, typ: tShort, count: 1, inline: 1},
		{tag: 262, typ: tShort, count: 1, inline: 1},
		{tag: TagImageDescription, typ: tASCII, count: uint32(len(descBytes)), external: descBytes},
		{tag: TagStripOffsets, typ: tLong, count: 2, external: make([]byte, 8)},
		{tag: TagSamplesPerPixel, typ: tShort, count: 1, inline: 1},
		{tag: TagRowsPerStrip, typ: tLong, count: 1, inline: 2},
		{tag: TagStripByteCounts, typ: tLong, count: 2, external: make([]byte, 8)},
	}

	// First pass: build with zeroed strip-offset/bytecount externals and
	// no strip bytes, to learn where the two 8-byte arrays land.
	path := buildFixture(t, dir, entries)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	order := binary.LittleEndian
	// Recompute each entry's external offset exactly as buildFixture did,
	// so we know where the StripOffsets/StripByteCounts arrays live.
	const headerSize, ifdCountSize, entrySize, nextIFDSize = 8, 2, 12, 4
	fixedSize := headerSize + ifdCountSize + len(entries)*entrySize + nextIFDSize
	extCursor := int64(fixedSize)
	var stripOffsetsAt, stripByteCountsAt int64
	for _, e := range entries {
		if len(e.external) == 0 {
			continue
		}
		switch e.tag {
		case TagStripOffsets:
			stripOffsetsAt = extCursor
		case TagStripByteCounts:
			stripByteCountsAt = extCursor
		}
		padded := len(e.external)
		if padded%2 != 0 {
			padded++
		}
		extCursor += int64(padded)
	}

	strip0Off := extCursor
	strip1Off := strip0Off + int64(len(strip0))

	full := append(raw, strip0...)
	full = append(full, strip1...)

	order.PutUint32(full[stripOffsetsAt:stripOffsetsAt+4], uint32(strip0Off))
	order.PutUint32(full[stripOffsetsAt+4:stripOffsetsAt+8], uint32(strip1Off))
	order.PutUint32(full[stripByteCountsAt:stripByteCountsAt+4], uint32(len(strip0)))
	order.PutUint32(full[stripByteCountsAt+4:stripByteCountsAt+8], uint32(len(strip1)))

	require.NoError(t, os.WriteFile(path, full, 0o644))
	return path
}

func TestOpenRejectsBigTIFF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.tif")
	buf := make([]byte, 16)
	copy(buf[0:2], "II")
	binary.LittleEndian.PutUint16(buf[2:4], 43)
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	_, err := Open(path)
	require.Error(t, err)
	assert.True(t, wsierr.Is(err, wsierr.VendorUnsupported))
}

func TestFindLabelIFDAndCaptureReplaceRestore(t *testing.T) {
	dir := t.TempDir()
	strip0 := []byte{1, 2, 3, 4, 5}
	strip1 := []byte{6, 7, 8, 9, 10}
	path := labelFixture(t, dir, strip0, strip1, "Aperio Label Slide=S1")

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	require.Len(t, f.IFDs(), 1)

	label, err := f.FindLabelIFD()
	require.NoError(t, err)
	require.NotNil(t, label)

	desc, err := f.ImageDescription(label)
	require.NoError(t, err)
	assert.Equal(t, "Aperio Label Slide=S1", desc)

	origStrips, err := f.CaptureStrips(label)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, strip0...), strip1...), origStrips.Data)
	assert.Equal(t, []uint32{5, 5}, origStrips.DataByteCounts)

	origDesc, err := f.CaptureDescription(label)
	require.NoError(t, err)
	assert.Equal(t, "Aperio Label Slide=S1", origDesc.Value)

	newStrips := [][]byte{{9, 9, 9}, {8, 8}}
	require.NoError(t, f.ReplaceStrips(label, newStrips, 8))

	comp, err := f.Compression(label)
	require.NoError(t, err)
	assert.Equal(t, uint16(8), comp)

	offs, err := f.StripOffsets(label)
	require.NoError(t, err)
	counts, err := f.StripByteCounts(label)
	require.NoError(t, err)
	require.Len(t, offs, 2)
	require.Equal(t, []uint32{3, 2}, counts)

	require.NoError(t, f.ReplaceDescription(label, "pseudo-id-123"))
	desc2, err := f.ImageDescription(label)
	require.NoError(t, err)
	assert.Equal(t, "pseudo-id-123", desc2)

	require.NoError(t, f.RestoreDescription(label, origDesc))
	desc3, err := f.ImageDescription(label)
	require.NoError(t, err)
	assert.Equal(t, "Aperio Label Slide=S1", desc3)

	require.NoError(t, f.RestoreStrips(label, origStrips))
	restoredStrips, err := f.CaptureStrips(label)
	require.NoError(t, err)
	assert.Equal(t, origStrips.Data, restoredStrips.Data)
	assert.Equal(t, origStrips.Compression, restoredStrips.Compression)
}
