package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Source fetches the raw JSON document of one producer
type Source interface {
	// Fetch returns the current document bytes. Errors wrap ErrUnavailable.
	Fetch(ctx context.Context) ([]byte, error)

	// Describe names the source for logs and diagnostics
	Describe() string
}

// MaxDocumentSize caps a fetched producer document
const MaxDocumentSize = 8 << 20

// SourceType selects the transport of a producer document
type SourceType string

const (
	SourceFile SourceType = "file"
	SourceHTTP SourceType = "http"
	SourceNATS SourceType = "nats"
)

// SourceConfig configures where a producer document is read from
type SourceConfig struct {
	Type    SourceType `mapstructure:"type"`
	Path    string     `mapstructure:"path"`
	URL     string     `mapstructure:"url"`
	Subject string     `mapstructure:"subject"`
}

// FileSource reads the newest file matching a glob pattern, the way upstream
// analysis runs drop timestamped result directories.
type FileSource struct {
	logger  *zap.Logger
	pattern string
}

// NewFileSource creates a new file source
func NewFileSource(logger *zap.Logger, pattern string) *FileSource {
	return &FileSource{
		logger:  logger,
		pattern: pattern,
	}
}

// Describe implements Source.Describe
func (s *FileSource) Describe() string {
	return "file:" + s.pattern
}

// Fetch implements Source.Fetch
func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	matches, err := filepath.Glob(s.pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrUnavailable, s.pattern, err)
	}

	var newest string
	var newestMod time.Time
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) ||
			(info.ModTime().Equal(newestMod) && path > newest) {
			newest = path
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return nil, fmt.Errorf("%w: no files match %q", ErrUnavailable, s.pattern)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	data, err := os.ReadFile(newest)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrUnavailable, newest, err)
	}

	s.logger.Debug("Read producer document", zap.String("path", newest))
	return data, nil
}

// HTTPSource fetches the document with a GET request
type HTTPSource struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
}

// NewHTTPSource creates a new HTTP source. The request is bounded by the
// caller's context; client is optional.
func NewHTTPSource(logger *zap.Logger, url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{
		logger:     logger,
		url:        url,
		httpClient: client,
	}
}

// Describe implements Source.Describe
func (s *HTTPSource) Describe() string {
	return "http:" + s.url
}

// Fetch implements Source.Fetch
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}
	if len(body) > MaxDocumentSize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrMalformed, MaxDocumentSize)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: request failed with status: %d", ErrUnavailable, resp.StatusCode)
	}
	return body, nil
}

// NATSSource asks the producer for its document over NATS request/reply
type NATSSource struct {
	logger  *zap.Logger
	nc      *nats.Conn
	subject string
}

// NewNATSSource creates a new NATS request/reply source
func NewNATSSource(logger *zap.Logger, nc *nats.Conn, subject string) *NATSSource {
	return &NATSSource{
		logger:  logger,
		nc:      nc,
		subject: subject,
	}
}

// Describe implements Source.Describe
func (s *NATSSource) Describe() string {
	return "nats:" + s.subject
}

// Fetch implements Source.Fetch
func (s *NATSSource) Fetch(ctx context.Context) ([]byte, error) {
	if s.nc == nil {
		return nil, fmt.Errorf("%w: no nats connection for %s", ErrUnavailable, s.subject)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	msg, err := s.nc.RequestWithContext(ctx, s.subject, nil)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("%w: no responders on %s", ErrUnavailable, s.subject)
		}
		return nil, fmt.Errorf("%w: request on %s failed: %v", ErrUnavailable, s.subject, err)
	}
	return msg.Data, nil
}
