package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// VerifyPDF checks the PDF header.
func VerifyPDF(data []byte) error {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return errors.New("output is not a PDF document")
	}
	return nil
}

// VerifyPNG checks the PNG signature.
func VerifyPNG(data []byte) error {
	if !bytes.HasPrefix(data, pngSignature) {
		return errors.New("output is not a PNG image")
	}
	return nil
}

// VerifySVG checks that data is a single well-formed element tree rooted at
// <svg>.
func VerifySVG(data []byte) error {
	z := html.NewTokenizer(bytes.NewReader(data))
	var stack []string
	sawRoot := false

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return fmt.Errorf("malformed svg: %w", err)
			}
			if len(stack) > 0 {
				return fmt.Errorf("malformed svg: unclosed <%s>", stack[len(stack)-1])
			}
			if !sawRoot {
				return errors.New("output is not an SVG document")
			}
			return nil

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := strings.ToLower(string(name))
			if len(stack) == 0 {
				if sawRoot || tag != "svg" {
					return fmt.Errorf("malformed svg: unexpected root <%s>", tag)
				}
				sawRoot = true
			}
			if tt == html.StartTagToken {
				stack = append(stack, tag)
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := strings.ToLower(string(name))
			if len(stack) == 0 || stack[len(stack)-1] != tag {
				return fmt.Errorf("malformed svg: unexpected </%s>", tag)
			}
			stack = stack[:len(stack)-1]

		case html.TextToken:
			if len(stack) == 0 && len(bytes.TrimSpace(z.Text())) > 0 {
				return errors.New("malformed svg: text outside root element")
			}
		}
	}
}

// Verify checks one exported buffer against its format.
func Verify(f Format, data []byte) error {
	switch f {
	case FormatPDF:
		return VerifyPDF(data)
	case FormatSVG:
		return VerifySVG(data)
	case FormatPNG:
		return VerifyPNG(data)
	default:
		return fmt.Errorf("unsupported format %q", f)
	}
}
