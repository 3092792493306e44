// Package pdfutil reads and writes the PDF documents flowing through a
// signing task: page geometry, text extraction and stamping field values
// onto the original pages.
package pdfutil

import (
	"bytes"
	"errors"
	"fmt"

	dpdf "github.com/digitorus/pdf"

	"github.com/dharsanguruparan/VaultSign/internal/coords"
)

var (
	// ErrMalformed is returned when the document cannot be parsed.
	ErrMalformed = errors.New("malformed pdf")
	// ErrEncrypted is returned for documents carrying an /Encrypt dictionary.
	ErrEncrypted = errors.New("encrypted pdf documents are not supported")
)

// box is a page's MediaBox in user space with the page's /Rotate.
type box struct {
	llx, lly      float64
	width, height float64
	rotate        int
}

// displayed returns the page size as a viewer shows it.
func (b box) displayed() coords.PageSize {
	if b.rotate == 90 || b.rotate == 270 {
		return coords.PageSize{Width: b.height, Height: b.width}
	}
	return coords.PageSize{Width: b.width, Height: b.height}
}

func open(data []byte) (*dpdf.Reader, error) {
	r, err := dpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.Trailer().Key("Encrypt").Kind() != dpdf.Null {
		return nil, ErrEncrypted
	}
	return r, nil
}

// inherited looks key up on the page and then on its /Parent chain.
func inherited(page dpdf.Value, key string) dpdf.Value {
	for v, depth := page, 0; v.Kind() == dpdf.Dict && depth < 32; v, depth = v.Key("Parent"), depth+1 {
		if got := v.Key(key); got.Kind() != dpdf.Null {
			return got
		}
	}
	return dpdf.Value{}
}

func mediaBox(page dpdf.Value) (box, error) {
	mb := inherited(page, "MediaBox")
	if mb.Kind() != dpdf.Array || mb.Len() != 4 {
		return box{}, fmt.Errorf("%w: page has no usable MediaBox", ErrMalformed)
	}
	x0, y0 := mb.Index(0).Float64(), mb.Index(1).Float64()
	x1, y1 := mb.Index(2).Float64(), mb.Index(3).Float64()
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	rot := int(inherited(page, "Rotate").Int64()) % 360
	if rot < 0 {
		rot += 360
	}
	return box{llx: x0, lly: y0, width: x1 - x0, height: y1 - y0, rotate: rot}, nil
}

func pageBoxes(r *dpdf.Reader) ([]box, error) {
	n := r.NumPage()
	out := make([]box, 0, n)
	for i := 1; i <= n; i++ {
		b, err := mediaBox(r.Page(i).V)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// PageSizes returns the live size of every page in points as displayed, so
// a page with /Rotate 90 or 270 reports its MediaBox width and height
// swapped. Index 0 is page 1. Composition converts percentage rects against
// these, never against the snapshot recorded when a field was placed.
func PageSizes(data []byte) (sizes []coords.PageSize, err error) {
	defer recoverMalformed(&err)

	r, err := open(data)
	if err != nil {
		return nil, err
	}
	boxes, err := pageBoxes(r)
	if err != nil {
		return nil, err
	}
	sizes = make([]coords.PageSize, len(boxes))
	for i, b := range boxes {
		sizes[i] = b.displayed()
	}
	return sizes, nil
}
