// Package render turns merged template HTML into PDF artifacts and moves them
// into durable object storage.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/text/encoding/charmap"

	"github.com/vitchili/dynadoc-flow/internal/models"
	"github.com/vitchili/dynadoc-flow/internal/tags"
)

// Page geometry, in millimetres.
const (
	marginMM   = 20.0
	lineHeight = 6.0
	fontSize   = 11.0
)

// utf8Family is the fpdf family name a configured TrueType font is registered under.
const utf8Family = "dynadoc"

// ObjectStore is the durable storage the artifacts are written to.
type ObjectStore interface {
	Put(ctx context.Context, path string, r io.Reader) error
	Get(ctx context.Context, path string) ([]byte, error)
	// Delete returns models.ErrNotFound when nothing is stored at path.
	Delete(ctx context.Context, path string) error
}

// Renderer writes artifacts to a process-local temp dir before upload.
type Renderer struct {
	tmpDir   string
	prefix   string
	store    ObjectStore
	fontPath string
}

// New creates a Renderer. Objects are stored under prefix + file name.
func New(tmpDir, prefix string, store ObjectStore) (*Renderer, error) {
	if tmpDir == "" {
		tmpDir = filepath.Join(os.TempDir(), "dynadoc")
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create render temp dir %s: %w", tmpDir, err)
	}

	api.DisableConfigDir()
	return &Renderer{tmpDir: tmpDir, prefix: prefix, store: store}, nil
}

// UseUTF8Font renders with the TrueType font at path instead of the built-in
// Helvetica, whose cp1252 encoding cannot show characters such as CJK or
// Cyrillic text.
func (r *Renderer) UseUTF8Font(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("render font %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("render font %s is a directory", path)
	}
	r.fontPath = path
	return nil
}

// TmpDir is where rendered artifacts wait for upload.
func (r *Renderer) TmpDir() string { return r.tmpDir }

// Render converts html into an A4 portrait PDF and returns the unique file
// name of the artifact in the temp dir. Each PageBreak-delimited chunk starts
// on a new page.
func (r *Renderer) Render(ctx context.Context, name, html string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fileName := fmt.Sprintf("%s_%s.pdf", documentBaseName(name), uuid.NewString())
	rawPath := filepath.Join(r.tmpDir, strings.TrimSuffix(fileName, ".pdf")+".raw.pdf")
	outPath := filepath.Join(r.tmpDir, fileName)
	defer os.Remove(rawPath)

	if r.fontPath == "" {
		if lost := unsupportedRunes(html); len(lost) > 0 {
			slog.WarnContext(ctx, "Characters outside cp1252 will be missing from the PDF; set RENDER_FONT_PATH to a UTF-8 font",
				"file", fileName, "characters", string(lost))
		}
	}
	if err := writePDF(rawPath, name, html, r.fontPath); err != nil {
		return "", &models.StorageError{Op: "render", Path: rawPath, Err: err}
	}
	if err := optimizePDF(rawPath, outPath); err != nil {
		_ = os.Remove(outPath)
		return "", &models.StorageError{Op: "render", Path: outPath, Err: err}
	}
	pageCount, err := api.PageCountFile(outPath)
	if err != nil {
		_ = os.Remove(outPath)
		return "", &models.StorageError{Op: "render", Path: outPath, Err: err}
	}

	slog.Debug("Rendered document.", "file", fileName, "pageCount", pageCount)
	return fileName, nil
}

// Upload moves a rendered artifact into object storage and removes the
// local copy. It returns the storage path.
func (r *Renderer) Upload(ctx context.Context, fileName string) (string, error) {
	localPath := filepath.Join(r.tmpDir, fileName)
	localFile, err := os.Open(localPath)
	if err != nil {
		return "", &models.StorageError{Op: "upload", Path: localPath, Err: err}
	}

	dest := r.prefix + fileName
	putErr := r.store.Put(ctx, dest, localFile)
	_ = localFile.Close()
	if putErr != nil {
		return "", &models.StorageError{Op: "upload", Path: dest, Err: putErr}
	}

	// dest is already stored; a stale temp copy is only logged
	if err := os.Remove(localPath); err != nil {
		slog.WarnContext(ctx, "Could not remove uploaded temp artifact", "path", localPath, "object", dest, "error", err)
	}
	return dest, nil
}

// Download returns the stored artifact at path.
func (r *Renderer) Download(ctx context.Context, path string) ([]byte, error) {
	content, err := r.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, &models.StorageError{Op: "download", Path: path, Err: err}
	}
	return content, nil
}

// Remove deletes the stored artifact at path. It reports false when nothing
// was stored there.
func (r *Renderer) Remove(ctx context.Context, path string) (bool, error) {
	if err := r.store.Delete(ctx, path); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, &models.StorageError{Op: "remove", Path: path, Err: err}
	}
	return true, nil
}

// Discard removes a temp artifact left behind by a failed attempt.
func (r *Renderer) Discard(fileName string) {
	if fileName == "" {
		return
	}
	localPath := filepath.Join(r.tmpDir, fileName)
	if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Could not discard temp artifact", "path", localPath, "error", err)
	}
}

// pdfcpu mutates the configuration it is handed, so every call gets its own.
func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func optimizePDF(inPath, outPath string) error {
	if err := api.ValidateFile(inPath, pdfConfig()); err != nil {
		return fmt.Errorf("invalid pdf: %w", err)
	}
	return api.OptimizeFile(inPath, outPath, pdfConfig())
}

func writePDF(path, title, html, fontPath string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("dynadoc-flow", true)
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(true, marginMM)

	tr := func(s string) string { return s }
	if fontPath != "" {
		// the basic HTML writer switches styles for <b>, <i> and <u>
		for _, style := range []string{"", "B", "I", "BI"} {
			pdf.AddUTF8Font(utf8Family, style, fontPath)
		}
		pdf.SetFont(utf8Family, "", fontSize)
	} else {
		pdf.SetFont("Helvetica", "", fontSize)
		tr = pdf.UnicodeTranslatorFromDescriptor("")
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to load font: %w", err)
	}
	writer := pdf.HTMLBasicNew()

	pages := splitPages(html)
	if len(pages) == 0 {
		pdf.AddPage()
	}
	for _, page := range pages {
		pdf.AddPage()
		writer.Write(lineHeight, tr(normalizeHTML(page)))
	}
	return pdf.OutputFileAndClose(path)
}

// splitPages cuts the merged document at each page break, dropping empty chunks.
func splitPages(html string) []string {
	var pages []string
	for _, chunk := range strings.Split(html, tags.PageBreak) {
		if strings.TrimSpace(chunk) != "" {
			pages = append(pages, chunk)
		}
	}
	return pages
}

var blockBreaks = strings.NewReplacer(
	"<br/>", "<br>",
	"<br />", "<br>",
	"</p>", "<br><br>",
	"</div>", "<br>",
	"</li>", "<br>",
	"</tr>", "<br>",
	"</h1>", "<br><br>",
	"</h2>", "<br><br>",
	"</h3>", "<br><br>",
	"</h4>", "<br>",
	"</h5>", "<br>",
	"</h6>", "<br>",
)

// normalizeHTML maps block-level closing tags onto line breaks, since the
// basic HTML writer only understands inline formatting.
func normalizeHTML(html string) string {
	return blockBreaks.Replace(html)
}

// unsupportedRunes lists, once each, the characters of s the cp1252 core
// fonts cannot draw.
func unsupportedRunes(s string) []rune {
	var lost []rune
	seen := map[rune]bool{}
	for _, c := range s {
		if _, ok := charmap.Windows1252.EncodeRune(c); ok || seen[c] {
			continue
		}
		seen[c] = true
		lost = append(lost, c)
	}
	return lost
}
