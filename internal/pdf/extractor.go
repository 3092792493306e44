package pdfutil

import (
	"bytes"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ExtractText reads PDF bytes and returns plain text using ledongthuc/pdf.
// Pages whose content cannot be decoded are skipped rather than failing the
// whole document.
func ExtractText(data []byte) (text string, err error) {
	defer recoverMalformed(&err)

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	var builder strings.Builder
	total := doc.NumPage()
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// recoverMalformed turns a parser panic on corrupt input into an error.
func recoverMalformed(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrMalformed, r)
	}
}
