package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedType is returned for files that are neither text nor PDF.
var ErrUnsupportedType = errors.New("unsupported file type")

// FileType returns the lower-cased extension of p, "txt" when it has none.
func FileType(p string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	if ext == "" {
		return "txt"
	}
	return ext
}

// ExtractText returns the plain text of a stored document.
func ExtractText(p string, data []byte) (string, error) {
	switch ft := FileType(p); ft {
	case "txt":
		return strings.ToValidUTF8(string(data), "\uFFFD"), nil
	case "pdf":
		return pdfText(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ft)
	}
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

// SplitContent cuts text into windows of size runes, each starting
// size-overlap runes after the previous one. Windows are trimmed and empty
// ones dropped.
func SplitContent(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	step := size - overlap

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := min(i+size, len(runes))
		if c := strings.TrimSpace(string(runes[i:end])); c != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}
