package pseudonymize

import (
	"context"
	"encoding/binary"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidevault/wsipseudo/internal/config"
	"github.com/slidevault/wsipseudo/internal/escrow"
	"github.com/slidevault/wsipseudo/internal/label"
	"github.com/slidevault/wsipseudo/internal/manifest"
	"github.com/slidevault/wsipseudo/internal/registry/sqlitestore"
	"github.com/slidevault/wsipseudo/internal/stripcodec"
	"github.com/slidevault/wsipseudo/internal/tiffrw"
)

func TestDrawGapYearWithinRange(t *testing.T) {
	cfg := config.Config{GapYearMin: 3, GapYearMax: 5}
	for i := 0; i < 50; i++ {
		gap, err := drawGapYear(cfg)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, gap, 3)
		assert.LessOrEqual(t, gap, 5)
	}
}

func TestDrawGapYearSingleValueRange(t *testing.T) {
	cfg := config.Config{GapYearMin: 4, GapYearMax: 4}
	gap, err := drawGapYear(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, gap)
}

func TestShiftBackSubtractsYears(t *testing.T) {
	t0 := time.Date(2024, time.March, 7, 14, 5, 0, 0, time.UTC)
	shifted := shiftBack(t0, 3)
	assert.Equal(t, 2021, shifted.Year())
	assert.Equal(t, t0.Month(), shifted.Month())
	assert.Equal(t, t0.Day(), shifted.Day())
}

func TestDetectVendorBySuffix(t *testing.T) {
	cases := map[string]vendor{
		"slide.svs":  vendorAperio,
		"SLIDE.SVS":  vendorAperio,
		"slide.ndpi": vendorHamamatsu,
		"slide.vms":  vendorHamamatsu,
		"slide.vmu":  vendorHamamatsu,
		"slide.mrxs": vendorMirax,
		"slide.tiff": vendorUnknown,
	}
	for path, want := range cases {
		assert.Equal(t, want, detectVendor(path), path)
	}
}

func TestKeyValueDescriptionRoundTrip(t *testing.T) {
	desc := "Filename=abc|Title=abc|Date=|User=scanner"
	assert.True(t, looksLikeKeyValueDescription(desc))
	pairs := parseKeyValueDescription(desc)
	require.Len(t, pairs, 4)
	assert.Equal(t, kvPair{Key: "Filename", Value: "abc"}, pairs[0])
	assert.Equal(t, kvPair{Key: "Date", Value: ""}, pairs[2])
}

func TestLooksLikeKeyValueDescriptionRejectsPlainText(t *testing.T) {
	assert.False(t, looksLikeKeyValueDescription("just a free-text comment"))
}

func TestPseudonymDescriptionDropsNullFields(t *testing.T) {
	got := pseudonymDescription("P7K2M9QZX4A1B")
	assert.Equal(t, "Filename=P7K2M9QZX4A1B|Title=P7K2M9QZX4A1B", got)
	assert.NotContains(t, got, "Date=")
	assert.NotContains(t, got, "User=")
}

func TestSyntheticFullNameIsTwoWords(t *testing.T) {
	name, err := syntheticFullName()
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Za-z]+ [A-Za-z]+$`, name)
}

func TestSyntheticAgeWithinBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		age, err := syntheticAge()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, age, 20)
		assert.LessOrEqual(t, age, 70)
	}
}

func TestCloneDestinationUniquifiesOnCollision(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "original.svs")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	first, err := cloneDestination("_%d", src, "PSEUDO1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "PSEUDO1.svs"), first)

	require.NoError(t, os.WriteFile(first, []byte("y"), 0o644))
	second, err := cloneDestination("_%d", src, "PSEUDO1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "PSEUDO1_1.svs"), second)
}

func TestCopyFileDuplicatesBytes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	want := []byte("whole-slide-image-bytes")
	require.NoError(t, os.WriteFile(src, want, 0o644))

	require.NoError(t, copyFile(src, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCopyFileFailsWhenDestinationExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("b"), 0o644))

	assert.Error(t, copyFile(src, dst))
}

func TestPackSamplesGrayscaleAverages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Pix[0], img.Pix[1], img.Pix[2], img.Pix[3] = 30, 60, 90, 255
	out := packSamples(img, 1)
	require.Len(t, out, 1)
	assert.Equal(t, byte((30+60+90)/3), out[0])
}

func TestPackSamplesRGBDropsAlpha(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Pix[0], img.Pix[1], img.Pix[2], img.Pix[3] = 10, 20, 30, 128
	out := packSamples(img, 3)
	assert.Equal(t, []byte{10, 20, 30}, out)
}

func TestPackSamplesDefaultKeepsAlpha(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Pix[0], img.Pix[1], img.Pix[2], img.Pix[3] = 10, 20, 30, 40
	out := packSamples(img, 4)
	assert.Equal(t, []byte{10, 20, 30, 40}, out)
}

func TestResolveCodecFallsBackOnUnsupportedCompression(t *testing.T) {
	codec, comp, err := resolveCodec(16, 99999&0xFFFF)
	require.NoError(t, err)
	_ = codec
	assert.Equal(t, stripcodec.CompressionAdobeDeflate, comp)
}

// The TIFF field type codes below are not exported by internal/tiffrw;
// they are the standard classic-TIFF codes (ASCII=2, SHORT=3, LONG=4)
// mirroring internal/tiffrw/tiffrw_test.go's unexported tASCII/tShort/tLong.
const (
	fieldASCII = 2
	fieldShort = 3
	fieldLong  = 4
)

// svsFixtureEntry and buildSVSFixtureMulti replicate internal/tiffrw/tiffrw_test.go's
// fixtureEntry/buildFixture/labelFixture technique to build a minimal
// classic-TIFF file with a chain of IFDs this package's Controller can drive
// end-to-end, without importing tiffrw's unexported test helpers.
type svsFixtureEntry struct {
	tag, typ uint16
	count    uint32
	inline   uint32
	external []byte
}

// buildSVSFixtureMulti writes a classic TIFF with one IFD per entry in
// ifds, chained in order via each IFD's next-IFD-offset field (0 on the
// last), mirroring a real Aperio SVS's multi-page layout: a metadata page
// first, a label page (among others) afterward.
func buildSVSFixtureMulti(t *testing.T, path string, ifds [][]svsFixtureEntry) {
	t.Helper()
	order := binary.LittleEndian

	const headerSize, ifdCountSize, entrySize, nextIFDSize = 8, 2, 12, 4
	ifdBase := make([]int, len(ifds))
	pos := headerSize
	for i, entries := range ifds {
		ifdBase[i] = pos
		pos += ifdCountSize + len(entries)*entrySize + nextIFDSize
	}
	fixedSize := pos
	buf := make([]byte, fixedSize)

	copy(buf[0:2], "II")
	order.PutUint16(buf[2:4], 42)
	order.PutUint32(buf[4:8], uint32(ifdBase[0]))

	extCursor := int64(fixedSize)
	var external [][]byte

	for i, entries := range ifds {
		base := ifdBase[i]
		order.PutUint16(buf[base:base+2], uint16(len(entries)))
		entryBase := base + ifdCountSize
		for j, e := range entries {
			off := entryBase + j*entrySize
			order.PutUint16(buf[off:off+2], e.tag)
			order.PutUint16(buf[off+2:off+4], e.typ)
			order.PutUint32(buf[off+4:off+8], e.count)
			if len(e.external) > 0 {
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
		nextOff := entryBase + len(entries)*entrySize
		var next uint32
		if i+1 < len(ifds) {
			next = uint32(ifdBase[i+1])
		}
		order.PutUint32(buf[nextOff:nextOff+4], next)
	}
	for _, ext := range external {
		buf = append(buf, ext...)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

// externalLayout recomputes, in entry-traversal order, the file offset
// buildSVSFixtureMulti placed each entry's external data at -- needed to
// patch the strip-offset/strip-bytecount arrays once strip byte positions
// are known, since those two arrays are reserved (zeroed) placeholders in
// the first pass.
func externalLayout(ifds [][]svsFixtureEntry) (map[uint16]int64, int64) {
	const headerSize, ifdCountSize, entrySize, nextIFDSize = 8, 2, 12, 4
	pos := headerSize
	for _, entries := range ifds {
		pos += ifdCountSize + len(entries)*entrySize + nextIFDSize
	}
	extCursor := int64(pos)
	at := make(map[uint16]int64)
	for _, entries := range ifds {
		for _, e := range entries {
			if len(e.external) == 0 {
				continue
			}
			at[e.tag] = extCursor
			padded := len(e.external)
			if padded%2 != 0 {
				padded++
			}
			extCursor += int64(padded)
		}
	}
	return at, extCursor
}

// buildAperioFixture builds a two-IFD classic TIFF at path, matching a
// real Aperio SVS's page layout: IFD0 carries the scanner's key=value
// metadata description (no "label" substring, so FindLabelIFD skips it
// and the key=value rewrite loop captures it); IFD1 is the label page --
// width x height, rowsPerStrip-row strips of gray samples, compression
// NONE, and an ImageDescription containing "label" but no recognized
// key (so the rewrite loop leaves it untouched and FindLabelIFD can
// still locate it after pseudonymization, matching how a real label
// page's description survives the key=value rewrite while the main
// page's does not).
func buildAperioFixture(t *testing.T, path string, width, height, rowsPerStrip int, metaDesc string) {
	t.Helper()
	metaDescBytes := append([]byte(metaDesc), 0)
	labelDescBytes := append([]byte("Aperio Image Library\nLabel 387x414"), 0)

	numStrips := (height + rowsPerStrip - 1) / rowsPerStrip
	ifd0 := []svsFixtureEntry{
		{tag: tiffrw.TagImageDescription, typ: fieldASCII, count: uint32(len(metaDescBytes)), external: metaDescBytes},
	}
	ifd1 := []svsFixtureEntry{
		{tag: tiffrw.TagImageWidth, typ: fieldLong, count: 1, inline: uint32(width)},
		{tag: tiffrw.TagImageLength, typ: fieldLong, count: 1, inline: uint32(height)},
		{tag: tiffrw.TagBitsPerSample, typ: fieldShort, count: 1, inline: 8},
		{tag: tiffrw.TagCompression, typ: fieldShort, count: 1, inline: 1},
		{tag: 262, typ: fieldShort, count: 1, inline: 1},
		{tag: tiffrw.TagImageDescription, typ: fieldASCII, count: uint32(len(labelDescBytes)), external: labelDescBytes},
		{tag: tiffrw.TagStripOffsets, typ: fieldLong, count: uint32(numStrips), external: make([]byte, 4*numStrips)},
		{tag: tiffrw.TagSamplesPerPixel, typ: fieldShort, count: 1, inline: 1},
		{tag: tiffrw.TagRowsPerStrip, typ: fieldLong, count: 1, inline: uint32(rowsPerStrip)},
		{tag: tiffrw.TagStripByteCounts, typ: fieldLong, count: uint32(numStrips), external: make([]byte, 4*numStrips)},
	}
	ifds := [][]svsFixtureEntry{ifd0, ifd1}

	buildSVSFixtureMulti(t, path, ifds)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	at, extEnd := externalLayout(ifds)
	stripOffsetsAt, stripByteCountsAt := at[tiffrw.TagStripOffsets], at[tiffrw.TagStripByteCounts]

	rowBytes := width
	stripSizes := make([]int, numStrips)
	for i := range stripSizes {
		rows := rowsPerStrip
		if i == numStrips-1 && height%rowsPerStrip != 0 {
			rows = height % rowsPerStrip
		}
		stripSizes[i] = rows * rowBytes
	}

	order := binary.LittleEndian
	full := append([]byte{}, raw...)
	stripOffsets := make([]int64, numStrips)
	cursor := extEnd
	for i, size := range stripSizes {
		stripOffsets[i] = cursor
		full = append(full, make([]byte, size)...)
		cursor += int64(size)
	}

	for i := range stripOffsets {
		order.PutUint32(full[stripOffsetsAt+int64(i)*4:stripOffsetsAt+int64(i)*4+4], uint32(stripOffsets[i]))
		order.PutUint32(full[stripByteCountsAt+int64(i)*4:stripByteCountsAt+int64(i)*4+4], uint32(stripSizes[i]))
	}

	require.NoError(t, os.WriteFile(path, full, 0o644))
}

// newTestController builds a Controller backed by a real in-memory
// sqlite registry, a temp-dir escrow store, and a BasicFontSet-backed
// label renderer, mirroring cmd/wsipseudo/main.go's buildController.
func newTestController(t *testing.T) *Controller {
	t.Helper()
	db, err := sqlitestore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	esc, err := escrow.New(t.TempDir(), config.DefaultStoreFileNameSize)
	require.NoError(t, err)

	cfg := config.Default()
	renderer := label.NewRenderer(label.BasicFontSet{})
	return New(db, esc, renderer, cfg, manifest.NoopValidator{}, nil)
}

func TestPseudonymizeThenDePseudonymizeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.svs")
	metaDesc := "Filename=S1|Title=S1|Date=01/01/2020|Time=10:00:00|Time Zone=GMT|User=scanner"
	buildAperioFixture(t, path, 40, 24, 12, metaDesc)

	ctrl := newTestController(t)
	ctx := context.Background()

	name := "real patient slide"
	stain := "H&E"
	tissue := "liver"
	acquired := "2020-01-01T10:00:00Z"
	in := manifest.Input{Kind: manifest.KindSlide, Slide: &manifest.SlideInput{
		ID: "REAL-SLIDE-1", Path: path, Name: &name, Stain: &stain, Tissue: &tissue, AcquiredAt: &acquired,
	}}

	out, err := ctrl.Pseudonymize(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, out.Slide)
	assert.NotEqual(t, "REAL-SLIDE-1", out.Slide.ID)
	require.NotNil(t, out.Slide.Stain)
	assert.Equal(t, stain, *out.Slide.Stain)
	require.NotNil(t, out.Slide.Tissue)
	assert.Equal(t, tissue, *out.Slide.Tissue)
	require.FileExists(t, out.Slide.Path)

	tf, err := tiffrw.Open(out.Slide.Path)
	require.NoError(t, err)
	// IFD0 carries the key=value metadata and must be rewritten with the
	// pseudonymous ID; IFD1 is the label page and must still be
	// findable by FindLabelIFD, proving its "label" marker survived the
	// rewrite untouched.
	metaIFDDesc, err := tf.ImageDescription(tf.IFDs()[0])
	require.NoError(t, err)
	assert.Contains(t, metaIFDDesc, out.Slide.ID)
	assert.NotContains(t, metaIFDDesc, "REAL-SLIDE-1")

	labelIFD, err := tf.FindLabelIFD()
	require.NoError(t, err)
	labelDesc, err := tf.ImageDescription(labelIFD)
	require.NoError(t, err)
	tf.Close()
	assert.Contains(t, labelDesc, "Label")
	assert.NotContains(t, labelDesc, out.Slide.ID)

	// Re-running Pseudonymize against the same real ID must resolve the
	// same pseudonymous identity (scenario: ID stability across re-runs).
	again, err := ctrl.Pseudonymize(ctx, manifest.Input{Kind: manifest.KindSlide, Slide: &manifest.SlideInput{
		ID: "REAL-SLIDE-1", Path: path, Name: &name, Stain: &stain, Tissue: &tissue, AcquiredAt: &acquired,
	}})
	require.NoError(t, err)
	assert.Equal(t, out.Slide.ID, again.Slide.ID)

	restored, err := ctrl.DePseudonymize(ctx, manifest.Input{Kind: manifest.KindSlide, Slide: &manifest.SlideInput{
		ID: out.Slide.ID, Path: out.Slide.Path,
	}})
	require.NoError(t, err)
	require.NotNil(t, restored.Slide)
	assert.Equal(t, "REAL-SLIDE-1", restored.Slide.ID)
	require.FileExists(t, restored.Slide.Path)

	rtf, err := tiffrw.Open(restored.Slide.Path)
	require.NoError(t, err)
	defer rtf.Close()
	// FindLabelIFD must still resolve the label page after restore, and
	// the metadata IFD's description must be back to its original value.
	_, err = rtf.FindLabelIFD()
	require.NoError(t, err)
	restoredMetaDesc, err := rtf.ImageDescription(rtf.IFDs()[0])
	require.NoError(t, err)
	assert.Equal(t, metaDesc, restoredMetaDesc)
}
