// Package document loads knowledge corpus files into documents ready
// for chunking. Plain text and markdown are read directly; PDF text is
// extracted page by page.
package document

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
)

// ErrEmptyDocument is returned when a file loads successfully but
// contains no usable content after cleaning.
var ErrEmptyDocument = errors.New("document has no content")

// ErrUnsupportedType is returned for file extensions the loader does
// not handle.
var ErrUnsupportedType = errors.New("unsupported document type")

// Document is a loaded knowledge file ready for chunking.
type Document struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	LoadedAt    time.Time         `json:"loaded_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Loader reads knowledge files from the local filesystem.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a document loader.
func NewLoader() *Loader {
	return &Loader{
		logger: slog.Default().With("component", "document-loader"),
	}
}

var supportedExtensions = map[string]string{
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".pdf":      "application/pdf",
}

// LoadFile loads a single knowledge file. The file extension selects
// the extraction path.
func (l *Loader) LoadFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge file %q not found: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	contentType, ok := supportedExtensions[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%q)", ErrUnsupportedType, ext, path)
	}

	var raw string
	switch contentType {
	case "application/pdf":
		raw, err = l.extractPDF(path, info.Size())
	default:
		var data []byte
		data, err = os.ReadFile(path)
		raw = string(data)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}

	content := CleanText(raw)
	if content == "" {
		return nil, fmt.Errorf("%q: %w", path, ErrEmptyDocument)
	}

	doc := &Document{
		// Derived from the path so reloading the same file yields the
		// same ID and downstream upserts replace instead of duplicate.
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String(),
		Source:      path,
		Content:     content,
		ContentType: contentType,
		Size:        info.Size(),
		LoadedAt:    time.Now(),
	}

	l.logger.Debug("loaded document",
		"source", path,
		"content_type", contentType,
		"content_length", len(content),
	)

	return doc, nil
}

// LoadDir loads every supported file under dir, non-recursively.
// Files that fail to load are skipped with a warning so one bad file
// does not abort a corpus ingest.
func (l *Loader) LoadDir(dir string) ([]*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %q: %w", dir, err)
	}

	var docs []*Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := supportedExtensions[ext]; !ok {
			continue
		}
		doc, err := l.LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			l.logger.Warn("skipping file", "file", entry.Name(), "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (l *Loader) extractPDF(path string, size int64) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, size)
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			l.logger.Warn("failed to extract text from page", "page", i, "error", err)
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

var (
	multiSpace   = regexp.MustCompile(`[ \t]+`)
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

// CleanText normalizes whitespace and strips control characters so
// chunk boundaries and embeddings see consistent input.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
