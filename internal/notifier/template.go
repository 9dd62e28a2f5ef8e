package notifier

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultTemplatePath = "config/webhook.json"

	// Marker is replaced by the current address on every render.
	Marker = "#ip#"

	DefaultTemplate = `{
    "content" : "IP has changed to #ip#",
    "username" : "IP Notifier"
}`
)

// TemplateFile is the on-disk notification body. It is read on every
// notification so operators can edit it without a restart.
type TemplateFile struct {
	path string
}

func NewTemplateFile(path string) *TemplateFile {
	if path == "" {
		path = DefaultTemplatePath
	}
	return &TemplateFile{path: path}
}

func (t *TemplateFile) Path() string {
	return t.path
}

// Load returns the template, writing DefaultTemplate first if the file is
// absent. Existing files are never rewritten.
func (t *TemplateFile) Load() (string, error) {
	b, err := os.ReadFile(t.path)
	if err == nil {
		return string(b), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read template %s: %w", t.path, err)
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return "", fmt.Errorf("create template dir: %w", err)
	}
	if err := os.WriteFile(t.path, []byte(DefaultTemplate), 0o644); err != nil {
		return "", fmt.Errorf("create template %s: %w", t.path, err)
	}
	return DefaultTemplate, nil
}

// Render substitutes every marker occurrence with addr.
func Render(template, addr string) string {
	return strings.ReplaceAll(template, Marker, addr)
}
