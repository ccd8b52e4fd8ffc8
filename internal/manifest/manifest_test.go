package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidevault/wsipseudo/internal/registry"
)

func TestParseDetectsSingleSlide(t *testing.T) {
	in, err := Parse([]byte(`{"id":"s1","path":"/data/s1.svs","stain":"H&E"}`))
	require.NoError(t, err)
	require.Equal(t, KindSlide, in.Kind)
	assert.Equal(t, "s1", in.Slide.ID)
	require.NotNil(t, in.Slide.Stain)
	assert.Equal(t, "H&E", *in.Slide.Stain)
}

func TestParseDetectsCase(t *testing.T) {
	in, err := Parse([]byte(`{"id":"c1","slides":[{"id":"s1","path":"/data/s1.svs"}]}`))
	require.NoError(t, err)
	require.Equal(t, KindCase, in.Kind)
	assert.Len(t, in.Case.Slides, 1)
}

func TestParseDetectsStudy(t *testing.T) {
	in, err := Parse([]byte(`{"id":"st1","patients":[{"id":"p1","slides":[{"id":"s1","path":"/data/s1.svs"}]}]}`))
	require.NoError(t, err)
	require.Equal(t, KindStudy, in.Kind)
	assert.Len(t, in.Study.Patients, 1)
	assert.Len(t, in.Study.Patients[0].Slides, 1)
}

func TestParseRejectsUnrecognizedShape(t *testing.T) {
	_, err := Parse([]byte(`{"foo":"bar"}`))
	require.Error(t, err)
}

func TestFormatDateAndDateTime(t *testing.T) {
	ts := time.Date(2024, 3, 7, 14, 5, 0, 0, time.UTC)
	assert.Equal(t, "07.03.2024", FormatDate(ts))
	assert.Equal(t, "02:05PM 07.03.2024", FormatDateTime(ts))
}

func TestParseTimestampAcceptsMultipleLayouts(t *testing.T) {
	_, err := ParseTimestamp("2024-03-07T14:05:00Z")
	require.NoError(t, err)
	_, err = ParseTimestamp("2024-03-07")
	require.NoError(t, err)
	_, err = ParseTimestamp("not-a-date")
	require.Error(t, err)
}

func TestNewSlideOutputOmitsFieldsAbsentOnInput(t *testing.T) {
	rec := registry.Slide{ID: "real-1", PseudoIDValue: "pseudo123456x", Path: "/data/real-1.svs"}
	out := NewSlideOutput(rec, "/data/pseudo123456x.svs")
	assert.Equal(t, "pseudo123456x", out.ID)
	assert.Nil(t, out.Name)
	assert.Nil(t, out.AcquiredAt)
}

func TestNewSlideOutputIncludesPresentFields(t *testing.T) {
	name := "slide-a"
	pseudoName := "pseudo-name"
	acquired := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	pseudoAcquired := acquired.AddDate(-3, 0, 0)
	rec := registry.Slide{
		ID: "real-1", PseudoIDValue: "pseudo123456x", Path: "/data/real-1.svs",
		Name: &name, PseudoName: &pseudoName,
		AcquiredAt: &acquired, PseudoAcquiredAt: &pseudoAcquired,
	}
	out := NewSlideOutput(rec, "/data/pseudo123456x.svs")
	require.NotNil(t, out.Name)
	assert.Equal(t, "pseudo-name", *out.Name)
	require.NotNil(t, out.AcquiredAt)
	assert.Equal(t, FormatDateTime(pseudoAcquired), *out.AcquiredAt)
}
