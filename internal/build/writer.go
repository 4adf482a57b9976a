package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Writer mirrors source paths under the output root.
type Writer struct {
	srcRoot string
	outRoot string
}

// NewWriter creates a Writer for files under srcRoot.
func NewWriter(srcRoot, outRoot string) *Writer {
	return &Writer{srcRoot: srcRoot, outRoot: outRoot}
}

// OutputPath returns where the source file at src is written.
func (w *Writer) OutputPath(src string) (string, error) {
	rel, err := filepath.Rel(w.srcRoot, src)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", src, err)
	}
	return w.join(rel)
}

// Write stores content at the mirrored location of src, creating parent
// directories. It returns the output path.
func (w *Writer) Write(src string, content []byte) (string, error) {
	out, err := w.OutputPath(src)
	if err != nil {
		return "", err
	}
	if err := writeFile(out, content); err != nil {
		return "", err
	}
	return out, nil
}

// Persist stores content at rel under the output root. It backs the JSON
// ".lock" copies.
func (w *Writer) Persist(rel string, content []byte) error {
	out, err := w.join(filepath.FromSlash(rel))
	if err != nil {
		return err
	}
	return writeFile(out, content)
}

func (w *Writer) join(rel string) (string, error) {
	rel = filepath.Clean(rel)
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the project root", rel)
	}
	return filepath.Join(w.outRoot, rel), nil
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
