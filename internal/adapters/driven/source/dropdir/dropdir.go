// Package dropdir reads ingestion payloads from a drop folder. Two formats
// are accepted: *.json files containing a full ingestion payload (document
// identity, metadata, extracted segments), and *.txt files indexed as plain
// email-body text under the configured namespace.
package dropdir

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/mailindex/internal/core/domain"
	"github.com/custodia-labs/mailindex/internal/extractors/plaintext"
	"github.com/custodia-labs/mailindex/internal/logger"
)

// settleDelay gives the writing process time to finish before a file touched
// by a watch event is read.
const settleDelay = 100 * time.Millisecond

// Source reads ingestion inputs from a directory.
type Source struct {
	dir       string
	namespace string
	txt       *plaintext.Extractor
}

// New creates a drop-folder source. The namespace applies to *.txt drops;
// *.json payloads carry their own.
func New(dir, namespace string) *Source {
	return &Source{
		dir:       dir,
		namespace: namespace,
		txt:       plaintext.New(),
	}
}

// LoadAll reads every recognised file in the drop folder. Files that cannot
// be read or parsed are logged and skipped so one bad drop never blocks the
// rest of the folder.
func (s *Source) LoadAll(ctx context.Context) ([]domain.IngestInput, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading drop folder %s: %w", s.dir, err)
	}

	var inputs []domain.IngestInput
	for _, entry := range entries {
		if entry.IsDir() || !recognised(entry.Name()) {
			continue
		}
		input, err := s.loadFile(ctx, filepath.Join(s.dir, entry.Name()))
		if err != nil {
			logger.Warn("Skipping %s: %v", entry.Name(), err)
			continue
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

// Watch ingests files as they appear or change, blocking until the context
// is cancelled. Re-delivered events are harmless: ingestion of unchanged
// content is a no-op.
func (s *Source) Watch(ctx context.Context, handle func(context.Context, domain.IngestInput)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	logger.Info("Watching %s", s.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if !recognised(filepath.Base(event.Name)) {
				continue
			}

			// Let the writer finish before reading.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(settleDelay):
			}

			input, err := s.loadFile(ctx, event.Name)
			if err != nil {
				logger.Warn("Skipping %s: %v", filepath.Base(event.Name), err)
				continue
			}
			handle(ctx, input)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watch error: %v", err)
		}
	}
}

// loadFile parses one drop file into an ingestion input.
func (s *Source) loadFile(ctx context.Context, path string) (domain.IngestInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.IngestInput{}, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var input domain.IngestInput
		if err := json.Unmarshal(data, &input); err != nil {
			return domain.IngestInput{}, fmt.Errorf("parsing payload: %w", err)
		}
		return input, nil

	case ".txt":
		return s.textInput(ctx, path, data)

	default:
		return domain.IngestInput{}, fmt.Errorf("unrecognised extension %q", filepath.Ext(path))
	}
}

// textInput wraps a raw text drop as an email-body document. The document ID
// derives from the filename, so re-dropping the same file updates in place.
func (s *Source) textInput(ctx context.Context, path string, data []byte) (domain.IngestInput, error) {
	segments, err := s.txt.Extract(ctx, data)
	if err != nil {
		return domain.IngestInput{}, err
	}

	name := filepath.Base(path)
	receivedAt := time.Now().UTC()
	if info, err := os.Stat(path); err == nil {
		receivedAt = info.ModTime().UTC()
	}

	return domain.IngestInput{
		DocumentID: "txt:" + strings.TrimSuffix(name, filepath.Ext(name)),
		Namespace:  s.namespace,
		Filetype:   s.txt.Filetype(),
		Source: domain.SourceMetadata{
			Subject:    name,
			ReceivedAt: receivedAt,
		},
		Segments: segments,
	}, nil
}

func recognised(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".txt":
		return true
	}
	return false
}
