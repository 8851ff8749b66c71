package app

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"studybuddy/pkg/domain"
	"studybuddy/pkg/ocr"
)

var extensionTypes = map[string]domain.DocumentType{
	".png":      domain.DocumentImage,
	".jpg":      domain.DocumentImage,
	".jpeg":     domain.DocumentImage,
	".gif":      domain.DocumentImage,
	".webp":     domain.DocumentImage,
	".bmp":      domain.DocumentImage,
	".tif":      domain.DocumentImage,
	".tiff":     domain.DocumentImage,
	".txt":      domain.DocumentText,
	".md":       domain.DocumentText,
	".markdown": domain.DocumentText,
	".csv":      domain.DocumentText,
	".json":     domain.DocumentText,
	".pdf":      domain.DocumentPDF,
	".html":     domain.DocumentHTML,
	".htm":      domain.DocumentHTML,
	".xhtml":    domain.DocumentHTML,
	".epub":     domain.DocumentEPUB,
}

var extensionMIME = map[domain.DocumentType]string{
	domain.DocumentText: "text/plain",
	domain.DocumentPDF:  "application/pdf",
	domain.DocumentHTML: "text/html",
	domain.DocumentEPUB: "application/epub+zip",
}

// classify picks the extraction class of an upload from its declared MIME
// type, falling back to the extension and then to content sniffing. It
// returns the normalised MIME type alongside.
func classify(filename, contentType string, data []byte) (domain.DocumentType, string, error) {
	mediaType, _, _ := mime.ParseMediaType(strings.TrimSpace(contentType))
	if mediaType == "" || mediaType == "application/octet-stream" {
		if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
			if t == domain.DocumentImage {
				return t, imageMIME(filename, data), nil
			}
			return t, extensionMIME[t], nil
		}
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return domain.DocumentImage, mediaType, nil
	case mediaType == "application/pdf":
		return domain.DocumentPDF, mediaType, nil
	case mediaType == "application/epub+zip":
		return domain.DocumentEPUB, mediaType, nil
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return domain.DocumentHTML, mediaType, nil
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json":
		return domain.DocumentText, mediaType, nil
	}
	return "", mediaType, fmt.Errorf("%w: %s", ErrUnsupportedFileType, mediaType)
}

func imageMIME(filename string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); strings.HasPrefix(t, "image/") {
		return t
	}
	return http.DetectContentType(data)
}

// ocrReads reports whether the configured extractor can read the image type.
// Extractors that do not say are trusted with every image.
func (a *App) ocrReads(contentType string) bool {
	fc, ok := a.ocr.(ocr.FormatChecker)
	return !ok || fc.SupportsImage(contentType)
}

// extractText returns the plain text of an upload.
func (a *App) extractText(ctx context.Context, docType domain.DocumentType, filename, contentType string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch docType {
	case domain.DocumentImage:
		text, err = a.ocr.ExtractText(ctx, filename, contentType, data)
		if errors.Is(err, ocr.ErrNoText) {
			return "", ErrNoTextExtracted
		}
	case domain.DocumentText:
		text = string(data)
	case domain.DocumentPDF:
		text, err = extractPDF(data)
	case domain.DocumentHTML:
		text, err = extractHTML(bytes.NewReader(data))
	case domain.DocumentEPUB:
		text, err = extractEPUB(data)
	default:
		return "", ErrUnsupportedFileType
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	text = normalizeText(text)
	if text == "" {
		return "", ErrNoTextExtracted
	}
	return text, nil
}

// extractPDF reads the text of every page; pages that fail to decode are
// skipped.
func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	}
	return b.String(), nil
}

func extractHTML(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "br", "div", "li", "h1", "h2", "h3", "h4", "tr":
				b.WriteByte('\n')
			}
		}
	}
	walk(doc)
	return b.String(), nil
}

// extractEPUB concatenates the text of the (X)HTML entries in archive order
// by name, which matches the spine for the common epub generators.
func extractEPUB(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open epub: %w", err)
	}
	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".xhtml", ".html", ".htm":
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	var b strings.Builder
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("read epub entry %s: %w", f.Name, err)
		}
		text, err := extractHTML(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("parse epub entry %s: %w", f.Name, err)
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

// normalizeText drops NUL bytes and invalid UTF-8 and collapses runs of
// spaces while keeping paragraph breaks.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// documentKey is the object key of an uploaded file.
func documentKey(userID, docID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := slug.Make(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
	if base == "" {
		base = "file"
	}
	return path.Join("documents", userID, docID, base+ext)
}

func avatarKey(userID, id, filename string) string {
	return path.Join("avatars", userID, id+strings.ToLower(filepath.Ext(filename)))
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
