package pdfutil

import (
	"bytes"
	"fmt"
	"testing"

	dpdf "github.com/digitorus/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/VaultSign/internal/coords"
	"github.com/dharsanguruparan/VaultSign/internal/pdf/pdftest"
)

// buildPDF writes a classic-xref document: page 1 inherits a Letter
// MediaBox from the page tree, page 2 declares its own 300x400 box.
func buildPDF(t *testing.T) []byte {
	t.Helper()
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 2 0 R /Contents 5 0 R /Resources << /Font << /F1 7 0 R >> >> >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 400] /Contents 6 0 R /Resources << /Font << /F1 7 0 R >> >> >>",
		stream("BT /F1 12 Tf 72 720 Td (Hello page one) Tj ET"),
		stream("BT /F1 12 Tf 20 300 Td (Hello page two) Tj ET"),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func stream(content string) string {
	return fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)
}

func TestPageSizes(t *testing.T) {
	sizes, err := PageSizes(buildPDF(t))
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	assert.Equal(t, coords.PageSize{Width: 612, Height: 792}, sizes[0])
	assert.Equal(t, coords.PageSize{Width: 300, Height: 400}, sizes[1])
}

func TestPageSizesRejectsGarbage(t *testing.T) {
	_, err := PageSizes([]byte("not a pdf at all"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestPageSizesFollowRotation(t *testing.T) {
	data := pdftest.Build(pdftest.Page{Width: 612, Height: 792, Rotate: 90}, pdftest.Page{Width: 612, Height: 792, Rotate: -180})
	sizes, err := PageSizes(data)
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	assert.Equal(t, coords.PageSize{Width: 792, Height: 612}, sizes[0])
	assert.Equal(t, coords.PageSize{Width: 612, Height: 792}, sizes[1])
}

func TestStampDrawsFieldsOnTheirPages(t *testing.T) {
	original := buildPDF(t)
	page := coords.PageSize{Width: 612, Height: 792}
	fields := []Field{
		{Page: 1, Rect: coords.ToPDF(coords.Rect{X: 10, Y: 80, Width: 30, Height: 5}, page), Text: "Jane Doe", Style: StyleSignature},
		{Page: 1, Rect: coords.ToPDF(coords.Rect{X: 60, Y: 80, Width: 20, Height: 3}, page), Text: "2026-05-01"},
	}

	out, err := Stamp(original, fields)
	require.NoError(t, err)

	sizes, err := PageSizes(out)
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	assert.Equal(t, coords.PageSize{Width: 612, Height: 792}, sizes[0])
	assert.Equal(t, coords.PageSize{Width: 300, Height: 400}, sizes[1])

	drawn, err := pdftest.Drawn(out, 1)
	require.NoError(t, err)
	assert.True(t, pdftest.Shows(drawn, "Hello page one"), "original content kept")
	assert.True(t, pdftest.Shows(drawn, "Jane Doe"))
	assert.True(t, pdftest.Shows(drawn, "2026-05-01"))

	second, err := pdftest.Drawn(out, 2)
	require.NoError(t, err)
	assert.False(t, pdftest.Shows(second, "Jane Doe"))

	r, err := dpdf.NewReader(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)
	fonts := r.Page(1).V.Key("Resources").Key("Font")
	assert.Equal(t, "Helvetica", fonts.Key("F1").Key("BaseFont").Name())

	text, err := ExtractText(out)
	require.NoError(t, err)
	assert.Contains(t, text, "Hello page two")
}

func TestStampReplacesUnsupportedRunes(t *testing.T) {
	out, err := Stamp(buildPDF(t), []Field{{Page: 2, Rect: coords.PDFRect{X: 10, Y: 10, Width: 200, Height: 20}, Text: "ok \u2713"}})
	require.NoError(t, err)
	drawn, err := pdftest.Drawn(out, 2)
	require.NoError(t, err)
	assert.True(t, pdftest.Shows(drawn, "ok ?"))
}

func TestStampPageOutOfRange(t *testing.T) {
	_, err := Stamp(buildPDF(t), []Field{{Page: 3, Text: "x"}})
	assert.ErrorContains(t, err, "page 3 out of range")
}

func TestStampWithoutFieldsReturnsCopy(t *testing.T) {
	original := buildPDF(t)
	out, err := Stamp(original, nil)
	require.NoError(t, err)
	assert.Equal(t, original, out)

	out, err = Stamp(original, []Field{{Page: 1, Text: "   "}})
	require.NoError(t, err)
	assert.Equal(t, original, out)
}

func TestStampRejectsGarbage(t *testing.T) {
	_, err := Stamp([]byte("%PDF-1.4 truncated"), []Field{{Page: 1, Text: "x"}})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFontSizeFitsRect(t *testing.T) {
	assert.Equal(t, maxFontSize, fontSize("Ann", fontRegular, coords.PDFRect{Width: 300, Height: 40}))
	assert.Equal(t, 7, fontSize("Ann", fontRegular, coords.PDFRect{Width: 300, Height: 10}))

	narrow := coords.PDFRect{Width: 40, Height: 40}
	size := fontSize("A long signer name", fontOblique, narrow)
	assert.Less(t, size, maxFontSize)
	assert.GreaterOrEqual(t, size, minFontSize)
	if size > minFontSize {
		assert.LessOrEqual(t, font.TextWidth("A long signer name", fontOblique, size), narrow.Width*0.95)
	}
}

func TestLatin1(t *testing.T) {
	assert.Equal(t, "caf\u00e9 ?", latin1("caf\u00e9\t\u2713"))
}

func TestExtractText(t *testing.T) {
	text, err := ExtractText(buildPDF(t))
	require.NoError(t, err)
	assert.Contains(t, text, "Hello page one")
	assert.Contains(t, text, "Hello page two")
}
