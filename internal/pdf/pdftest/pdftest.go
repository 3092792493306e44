// Package pdftest builds small valid PDFs for tests and reads back what was
// drawn on their pages.
package pdftest

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	dpdf "github.com/digitorus/pdf"
)

// Page is one page of a generated document, in points. Rotate is written as
// the page's /Rotate when set.
type Page struct {
	Width, Height float64
	Rotate        int
}

// Letter is a US Letter page.
var Letter = Page{Width: 612, Height: 792}

// Build writes a classic-xref document with one Helvetica text line per
// page reading "Page N".
func Build(pages ...Page) []byte {
	n := len(pages)
	// 1 catalog, 2 pages, 3 font, then page/content pairs
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	var kids bytes.Buffer
	for i, p := range pages {
		pageID, contentID := 4+2*i, 5+2*i
		fmt.Fprintf(&kids, " %d 0 R", pageID)
		text := fmt.Sprintf("BT /F1 12 Tf 36 36 Td (Page %d) Tj ET", i+1)
		rotate := ""
		if p.Rotate != 0 {
			rotate = fmt.Sprintf(" /Rotate %d", p.Rotate)
		}
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g]%s /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>", p.Width, p.Height, rotate, contentID),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(text), text),
		)
	}
	objs[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s ] /Count %d >>", kids.String(), n)

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

// Drawn returns the decoded content of a page: its content streams followed
// by every form XObject it uses, nested ones included.
func Drawn(data []byte, page int) (string, error) {
	r, err := dpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	if page < 1 || page > r.NumPage() {
		return "", fmt.Errorf("page %d out of range", page)
	}
	p := r.Page(page).V
	var b strings.Builder
	switch c := p.Key("Contents"); c.Kind() {
	case dpdf.Stream:
		if err := readInto(&b, c); err != nil {
			return "", err
		}
	case dpdf.Array:
		for i := 0; i < c.Len(); i++ {
			if err := readInto(&b, c.Index(i)); err != nil {
				return "", err
			}
		}
	}
	if err := forms(&b, p.Key("Resources"), 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

func forms(b *strings.Builder, res dpdf.Value, depth int) error {
	if depth > 4 {
		return nil
	}
	xobjs := res.Key("XObject")
	for _, name := range xobjs.Keys() {
		x := xobjs.Key(name)
		if x.Kind() != dpdf.Stream || x.Key("Subtype").Name() != "Form" {
			continue
		}
		if err := readInto(b, x); err != nil {
			return err
		}
		if err := forms(b, x.Key("Resources"), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func readInto(b *strings.Builder, s dpdf.Value) error {
	rc := s.Reader()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	b.Write(data)
	b.WriteByte('\n')
	return nil
}

// Shows reports whether drawn content paints text as a literal or hex
// string operand.
func Shows(drawn, text string) bool {
	if strings.Contains(drawn, "("+text+")") {
		return true
	}
	h := hex.EncodeToString([]byte(text))
	lower := strings.ToLower(drawn)
	return strings.Contains(lower, "<"+h+">") || strings.Contains(lower, "<feff"+utf16Hex(text)+">")
}

func utf16Hex(s string) string {
	var b strings.Builder
	for _, r := range s {
		fmt.Fprintf(&b, "%04x", r)
	}
	return b.String()
}
