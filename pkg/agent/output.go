package agent

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/harun/stirrup/internal/tracing"
	"github.com/harun/stirrup/pkg/cache"
)

// copyOutputs copies the finish paths from the execution environment into
// the output directory. Missing or escaping paths become warnings.
func (s *Session) copyOutputs(ctx context.Context, paths []string, res *Result) {
	logger := tracing.LoggerFromContext(ctx, s.logger)

	workDir := s.tools.workDir()
	if workDir == "" {
		msg := "finish listed output paths but the session has no execution environment"
		logger.Warn().Strs("paths", paths).Msg(msg)
		res.Warnings = append(res.Warnings, msg)
		return
	}

	for _, p := range paths {
		rel := p
		if filepath.IsAbs(p) {
			r, err := filepath.Rel(workDir, p)
			if err != nil {
				rel = p
			} else {
				rel = r
			}
		}
		rel = filepath.Clean(rel)

		if !filepath.IsLocal(rel) {
			msg := fmt.Sprintf("output path %q is outside the working directory", p)
			logger.Warn().Str("path", p).Msg(msg)
			res.Warnings = append(res.Warnings, msg)
			continue
		}

		stats, err := cache.CopyPath(filepath.Join(workDir, rel), filepath.Join(s.opts.OutputDir, rel))
		if err != nil {
			msg := fmt.Sprintf("failed to copy output %q: %v", p, err)
			logger.Warn().Err(err).Str("path", p).Msg("Failed to copy output")
			res.Warnings = append(res.Warnings, msg)
			continue
		}

		res.OutputFiles = append(res.OutputFiles, rel)
		logger.Debug().Str("path", rel).Int("files", stats.FilesCopied).Msg("Output copied")
	}
}
