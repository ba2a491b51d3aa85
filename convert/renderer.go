package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

const (
	defaultWidth  = 1920
	defaultHeight = 1080

	// pdftoppm writes page files with this prefix into the scratch dir.
	pagePrefix = "page"
)

var _ Pipeline = (*Renderer)(nil)

// Renderer is the default Pipeline. It converts the source document to
// PDF with LibreOffice and rasterizes each page to PNG with pdftoppm,
// moving the results into the job's output directory as slide_N.png.
type Renderer struct {
	logger   *slog.Logger
	soffice  string
	pdftoppm string
	client   *http.Client
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithLogger sets the logger used for render diagnostics.
func WithLogger(logger *slog.Logger) RendererOption {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSofficePath overrides the LibreOffice binary path.
func WithSofficePath(path string) RendererOption {
	return func(r *Renderer) { r.soffice = path }
}

// WithPdftoppmPath overrides the pdftoppm binary path.
func WithPdftoppmPath(path string) RendererOption {
	return func(r *Renderer) { r.pdftoppm = path }
}

// WithHTTPClient sets the client used to fetch remote sources.
func WithHTTPClient(client *http.Client) RendererOption {
	return func(r *Renderer) {
		if client != nil {
			r.client = client
		}
	}
}

// NewRenderer builds a Renderer with the given options.
func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{
		logger:   slog.Default(),
		soffice:  "soffice",
		pdftoppm: "pdftoppm",
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Convert implements Pipeline.
func (r *Renderer) Convert(ctx context.Context, req Request, progress ProgressFunc) ([]job.Artifact, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	width, height := req.Width, req.Height
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}

	workDir, err := os.MkdirTemp("", "ppt2img-*")
	if err != nil {
		return nil, StageError(StageConvert, err)
	}
	defer os.RemoveAll(workDir)

	src := req.SourcePath
	if src == "" {
		progress(5, StageMessage(StageDownload, "fetching %s", req.SourceURL))
		src = filepath.Join(workDir, sourceFilename(req))
		n, err := r.download(ctx, req.SourceURL, src)
		if err != nil {
			return nil, StageError(StageDownload, err)
		}
		progress(15, StageMessage(StageDownload, "downloaded %d bytes", n))
	}

	progress(20, StageMessage(StageConvert, "rendering document to PDF"))
	pdf, err := r.renderPDF(ctx, src, workDir)
	if err != nil {
		return nil, StageError(StageConvert, err)
	}

	progress(28, StageMessage(StageConvert, "rasterizing pages at %dx%d", width, height))
	if err := r.rasterize(ctx, pdf, workDir, width, height); err != nil {
		return nil, StageError(StageConvert, err)
	}

	pages, err := listPages(workDir)
	if err != nil {
		return nil, StageError(StageConvert, err)
	}
	if len(pages) == 0 {
		return nil, StageError(StageConvert, errors.New("no pages rendered"))
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, StageError(StageConvert, err)
	}

	artifacts := make([]job.Artifact, 0, len(pages))
	for i, pf := range pages {
		progress(30+(i+1)*60/len(pages), StageMessage(StageConvert, "exporting page %d/%d", i+1, len(pages)))

		filename := fmt.Sprintf("slide_%d.png", pf.page)
		dest := filepath.Join(req.OutputDir, filename)
		if err := moveFile(pf.path, dest); err != nil {
			return nil, StageError(StageConvert, err)
		}
		info, err := os.Stat(dest)
		if err != nil {
			return nil, StageError(StageConvert, err)
		}
		artifacts = append(artifacts, job.Artifact{
			Page:     pf.page,
			Filename: filename,
			Size:     info.Size(),
		})
	}

	r.logger.Debug("conversion finished",
		"source", req.Name,
		"pages", len(artifacts),
		"output_dir", req.OutputDir)
	progress(90, StageMessage(StageConvert, "rendered %d pages", len(artifacts)))
	return artifacts, nil
}

func (r *Renderer) download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (r *Renderer) renderPDF(ctx context.Context, src, workDir string) (string, error) {
	cmd := exec.CommandContext(ctx, r.soffice,
		"--headless", "--norestore",
		"--convert-to", "pdf",
		"--outdir", workDir,
		src)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("soffice: %w: %s", err, strings.TrimSpace(string(out)))
	}

	base := filepath.Base(src)
	pdf := filepath.Join(workDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	if _, err := os.Stat(pdf); err != nil {
		return "", fmt.Errorf("soffice produced no pdf: %w", err)
	}
	return pdf, nil
}

func (r *Renderer) rasterize(ctx context.Context, pdf, workDir string, width, height int) error {
	cmd := exec.CommandContext(ctx, r.pdftoppm,
		"-png",
		"-scale-to-x", strconv.Itoa(width),
		"-scale-to-y", strconv.Itoa(height),
		pdf,
		filepath.Join(workDir, pagePrefix))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

type pageFile struct {
	path string
	page int
}

// listPages collects pdftoppm output files ("page-1.png", "page-02.png")
// from dir sorted by page number.
func listPages(dir string) ([]pageFile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pagePrefix+"-*.png"))
	if err != nil {
		return nil, err
	}

	pages := make([]pageFile, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, pagePrefix+"-"), ".png")
		page, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		pages = append(pages, pageFile{path: m, page: page})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].page < pages[j].page })
	return pages, nil
}

func sourceFilename(req Request) string {
	if req.Name != "" {
		return filepath.Base(req.Name)
	}
	return "source.pptx"
}

// moveFile renames src to dest, falling back to copy+remove when the
// two paths live on different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
