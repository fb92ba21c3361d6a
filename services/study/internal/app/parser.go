package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"studydeck/internal/util"
)

const defaultPDFToTextTimeout = 60 * time.Second

// ExtractedPDF is the text of a PDF with its page count.
type ExtractedPDF struct {
	Text      string
	PageCount int
	Method    string
}

// PDFExtractor pulls plain text out of PDF bytes. It prefers the poppler
// pdftotext tool and falls back to the pure Go reader.
type PDFExtractor struct {
	command string
	timeout time.Duration
}

// NewPDFExtractor builds an extractor. An empty command disables pdftotext.
func NewPDFExtractor(command string) *PDFExtractor {
	return &PDFExtractor{command: strings.TrimSpace(command), timeout: defaultPDFToTextTimeout}
}

// Extract returns the normalized text. ErrUnreadablePDF is returned when the
// bytes are not a PDF; an empty Text is not an error here.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (ExtractedPDF, error) {
	reader, err := openPDF(data)
	if err != nil {
		return ExtractedPDF{}, fmt.Errorf("%w: %v", ErrUnreadablePDF, err)
	}
	pageCount := reader.NumPage()

	if e != nil && e.command != "" {
		text, err := e.extractWithPdftotext(ctx, data)
		if err == nil && text != "" {
			return ExtractedPDF{Text: text, PageCount: pageCount, Method: "pdftotext"}, nil
		}
		if err != nil {
			util.LoggerFromContext(ctx).Debug("pdftotext unavailable, using go reader", "err", err)
		}
	}
	text, err := extractWithGoLib(reader)
	if err != nil {
		return ExtractedPDF{}, err
	}
	return ExtractedPDF{Text: text, PageCount: pageCount, Method: "go"}, nil
}

func openPDF(data []byte) (reader *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			reader, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
		return nil, fmt.Errorf("missing %%PDF header")
	}
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// extractWithPdftotext uses the system pdftotext tool (poppler-utils).
func (e *PDFExtractor) extractWithPdftotext(ctx context.Context, data []byte) (string, error) {
	path, err := exec.LookPath(e.command)
	if err != nil {
		return "", fmt.Errorf("%s not found: %w", e.command, err)
	}
	tmp, err := os.CreateTemp("", "studydeck-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp pdf: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp pdf: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	output, err := exec.CommandContext(ctx, path, "-layout", "-enc", "UTF-8", tmp.Name(), "-").Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return normalizeTextPreserveNewlines(string(output)), nil
}

// extractWithGoLib reads every page with the Go PDF library. Pages that fail
// to decode are skipped.
func extractWithGoLib(reader *pdf.Reader) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrUnreadablePDF, r)
		}
	}()
	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		raw, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if t := normalizeTextPreserveNewlines(raw); t != "" {
			pages = append(pages, t)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// normalizeTextPreserveNewlines strips invisible and control characters,
// collapses spaces inside lines and keeps at most one blank line between
// paragraphs. Form feeds (page breaks) become paragraph breaks.
func normalizeTextPreserveNewlines(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\f", "\n\n").Replace(text)

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(strings.Map(cleanRune, line)), " ")
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func cleanRune(r rune) rune {
	switch r {
	case '\uFEFF', '\u200B', '\u200C', '\u200D', '\u2060', '\u00AD':
		return -1
	case '\u00A0', '\t', '\x00':
		return ' '
	}
	if r < 0x20 || r == 0x7F {
		return -1
	}
	return r
}
