package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
)

const feedbackTimeLayout = "20060102T150405Z"

// FileFeedbackSink writes each document to <dir>/<producer_id>/, one file per
// cycle plus latest.json for producers that only read the newest feedback.
type FileFeedbackSink struct {
	logger *zap.Logger
	dir    string
}

// NewFileFeedbackSink creates a new file feedback sink
func NewFileFeedbackSink(logger *zap.Logger, dir string) *FileFeedbackSink {
	return &FileFeedbackSink{
		logger: logger.Named("feedback-files"),
		dir:    dir,
	}
}

// Deliver implements monitor.FeedbackSink
func (s *FileFeedbackSink) Deliver(ctx context.Context, docs []model.FeedbackDocument) []model.DeliveryFailure {
	var failures []model.DeliveryFailure
	for _, doc := range docs {
		if err := s.write(doc); err != nil {
			s.logger.Error("Failed to write feedback",
				zap.String("producer_id", doc.ProducerID),
				zap.Error(err))
			failures = append(failures, model.DeliveryFailure{Target: "file-feedback", ID: doc.ProducerID, Error: err.Error()})
		}
	}
	return failures
}

func (s *FileFeedbackSink) write(doc model.FeedbackDocument) error {
	id := doc.ProducerID
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("producer id %q is not a valid directory name", id)
	}
	dir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create feedback directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}

	name := "feedback_" + doc.GeneratedAt.UTC().Format(feedbackTimeLayout) + ".json"
	for _, target := range []string{name, "latest.json"} {
		if err := writeFileAtomic(filepath.Join(dir, target), data); err != nil {
			return err
		}
	}

	s.logger.Debug("Wrote feedback document",
		zap.String("producer_id", doc.ProducerID),
		zap.String("file", name))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".feedback-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write feedback: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close feedback file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move feedback file: %w", err)
	}
	return nil
}
