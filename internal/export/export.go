// Package export packages the three buffers as a standalone site.
package export

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/vade/internal/domain"
)

// ArchiveName is the file name offered for zip downloads.
const ArchiveName = "vade-export.zip"

// File is one exported file.
type File struct {
	Name    string
	Content string
}

const indexTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>VADE Export</title>
    <link rel="stylesheet" href="style.css">
</head>
<body>
%s
    <script src="script.js"></script>
</body>
</html>`

// Files returns index.html, style.css and script.js. The CSS and script are
// written verbatim; index.html wraps the markup and links the other two.
func Files(b domain.Buffers) []File {
	return []File{
		{Name: "index.html", Content: fmt.Sprintf(indexTemplate, b.HTML)},
		{Name: "style.css", Content: b.CSS},
		{Name: "script.js", Content: b.JavaScript},
	}
}

// WriteZip streams the exported files as a zip archive.
func WriteZip(w io.Writer, b domain.Buffers) error {
	zw := zip.NewWriter(w)
	now := time.Now()
	for _, f := range Files(b) {
		hdr := &zip.FileHeader{Name: f.Name, Method: zip.Deflate, Modified: now}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("create %s: %w", f.Name, err)
		}
		if _, err := io.WriteString(fw, f.Content); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

// WriteDir writes the exported files into dir, creating it if needed.
func WriteDir(dir string, b domain.Buffers) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	for _, f := range Files(b) {
		if err := os.WriteFile(filepath.Join(dir, f.Name), []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	return nil
}
