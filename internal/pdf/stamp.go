package pdfutil

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/dharsanguruparan/VaultSign/internal/coords"
)

func init() {
	// pdfcpu would otherwise create a config dir under the user's home.
	api.DisableConfigDir()
}

// Style selects how a stamped value is drawn.
type Style int

const (
	// StyleText draws the value in Helvetica.
	StyleText Style = iota
	// StyleSignature draws the value in Helvetica-Oblique.
	StyleSignature
)

// Field is one value to draw. Rect is in PDF user space relative to the
// lower-left corner of the page as displayed, as produced by coords.ToPDF
// against PageSizes.
type Field struct {
	Page  int
	Rect  coords.PDFRect
	Text  string
	Style Style
}

const (
	fontRegular = "Helvetica"
	fontOblique = "Helvetica-Oblique"
	maxFontSize = 16
	minFontSize = 4
)

// Stamp draws fields onto their pages with pdfcpu and returns the rewritten
// document. Each value becomes a text stamp placed on top of the existing
// page content.
func Stamp(data []byte, fields []Field) (out []byte, err error) {
	defer recoverMalformed(&err)

	sizes, err := PageSizes(data)
	if err != nil {
		return nil, err
	}
	stamps := make(map[int][]*model.Watermark)
	for _, f := range fields {
		if f.Page < 1 || f.Page > len(sizes) {
			return nil, fmt.Errorf("page %d out of range (document has %d pages)", f.Page, len(sizes))
		}
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		wm, err := textStamp(f)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", f.Page, err)
		}
		stamps[f.Page] = append(stamps[f.Page], wm)
	}
	if len(stamps) == 0 {
		return append([]byte(nil), data...), nil
	}

	var buf bytes.Buffer
	if err := api.AddWatermarksSliceMap(bytes.NewReader(data), &buf, stamps, stampConfig()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return buf.Bytes(), nil
}

func stampConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// textStamp sizes the text to fit the field and centers it in the rect.
func textStamp(f Field) (*model.Watermark, error) {
	name := fontRegular
	if f.Style == StyleSignature {
		name = fontOblique
	}
	text := latin1(f.Text)
	size := fontSize(text, name, f.Rect)
	tw := font.TextWidth(text, name, size)

	x := f.Rect.X + (f.Rect.Width-tw)/2
	y := f.Rect.Y + (f.Rect.Height-float64(size))/2
	desc := fmt.Sprintf(
		"fontname:%s, points:%d, position:bl, offset:%s %s, scalefactor:1 abs, rotation:0, fillcolor:#000000, opacity:1",
		name, size, num(x), num(y),
	)
	return api.TextWatermark(text, desc, true, false, types.POINTS)
}

// fontSize picks the largest whole point size up to maxFontSize that fits
// the rect's height and 95% of its width, never going below minFontSize.
func fontSize(text, fontName string, r coords.PDFRect) int {
	size := int(math.Min(r.Height*0.7, maxFontSize))
	for size > minFontSize && font.TextWidth(text, fontName, size) > r.Width*0.95 {
		size--
	}
	if size < minFontSize {
		size = minFontSize
	}
	return size
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// latin1 keeps text inside the core fonts' encoding. Control characters
// become spaces and runes outside Latin-1 become '?'.
func latin1(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < 0x20:
			b.WriteByte(' ')
		case r <= 0x7e, r >= 0xa0 && r <= 0xff:
			b.WriteRune(r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}
