// Package recovery restores completed jobs from rendered artifacts that
// survived a process restart.
//
// Output directories are named after job IDs, so a startup scan can
// rebuild a completed job record for every directory that still holds
// slide images, letting clients fetch results submitted before the
// restart. Jobs already present in the store are left untouched.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	ppt2img "github.com/pengcunfu/YushuRobotPPT2IMG"
	"github.com/pengcunfu/YushuRobotPPT2IMG/id"
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

// Scanner walks the output root looking for per-job artifact
// directories and inserts a completed job for each one found.
type Scanner struct {
	store      job.Store
	logger     *slog.Logger
	outputRoot string
	uploadRoot string
}

// NewScanner creates a Scanner over the given output and upload roots.
func NewScanner(store job.Store, logger *slog.Logger, outputRoot, uploadRoot string) *Scanner {
	return &Scanner{
		store:      store,
		logger:     logger,
		outputRoot: outputRoot,
		uploadRoot: uploadRoot,
	}
}

// Scan restores completed jobs from surviving artifacts and returns how
// many were inserted. A missing output root is not an error; a job
// whose ID is already in the store is skipped.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.outputRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("recovery: read output root: %w", err)
	}

	restored := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		jobID, err := id.ParseJobID(entry.Name())
		if err != nil {
			continue
		}

		j, err := s.restore(jobID, entry.Name())
		if err != nil {
			s.logger.Warn("skipping unrecoverable output directory",
				slog.String("dir", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if j == nil {
			continue
		}

		if err := s.store.InsertCompleted(ctx, j); err != nil {
			if errors.Is(err, ppt2img.ErrJobAlreadyExists) {
				continue
			}
			return restored, fmt.Errorf("recovery: insert job %s: %w", jobID, err)
		}

		restored++
		s.logger.Info("restored completed job from disk",
			slog.String("job_id", jobID.String()),
			slog.Int("pages", len(j.Result)),
		)
	}

	return restored, nil
}

// restore builds a completed job from one output directory, or nil when
// the directory holds no slide images.
func (s *Scanner) restore(jobID id.JobID, dirName string) (*job.Job, error) {
	dir := filepath.Join(s.outputRoot, dirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var artifacts []job.Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		page, ok := parseSlide(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, job.Artifact{
			Page:     page,
			Filename: entry.Name(),
			Size:     info.Size(),
		})
	}
	if len(artifacts) == 0 {
		return nil, nil
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Page < artifacts[j].Page })

	j := &job.Job{
		ID:         jobID,
		Status:     job.StatusCompleted,
		Progress:   100,
		TotalPages: len(artifacts),
		DonePages:  len(artifacts),
		Result:     artifacts,
	}

	if info, err := os.Stat(dir); err == nil {
		mod := info.ModTime().UTC()
		j.CreatedAt = mod
		j.UpdatedAt = mod
		j.CompletedAt = &mod
	}

	// The original upload, when it survived, is named <jobID>_<name>.
	if name, path, ok := s.findUpload(jobID); ok {
		j.Source = job.Source{Name: name, Path: path}
	}

	return j, nil
}

// findUpload locates the uploaded source file for the job and returns
// its original name. Remote-URL jobs have no upload; that is fine.
func (s *Scanner) findUpload(jobID id.JobID) (name, path string, ok bool) {
	if s.uploadRoot == "" {
		return "", "", false
	}
	entries, err := os.ReadDir(s.uploadRoot)
	if err != nil {
		return "", "", false
	}

	prefix := jobID.String() + "_"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), prefix) {
			original := strings.TrimPrefix(entry.Name(), prefix)
			return original, filepath.Join(s.uploadRoot, entry.Name()), true
		}
	}
	return "", "", false
}

// parseSlide extracts the page number from a "slide_N.png" filename.
func parseSlide(filename string) (int, bool) {
	if !strings.HasPrefix(filename, "slide_") || !strings.HasSuffix(filename, ".png") {
		return 0, false
	}
	numStr := strings.TrimSuffix(strings.TrimPrefix(filename, "slide_"), ".png")
	page, err := strconv.Atoi(numStr)
	if err != nil || page < 1 {
		return 0, false
	}
	return page, true
}
