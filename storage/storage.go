// Package storage persists the last seen post identifier of each thread.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"forum-notifier/pkg/notifier"
)

const (
	keyPrefix = "thread-"
	keySuffix = ".txt"

	// Seen-state values are a single decimal number.
	maxValueBytes = 64
)

// Entry is one stored seen-state value.
type Entry struct {
	ThreadID string
	PostID   int64
}

// Store handles seen-state persistence in a local directory or a
// Cloud Storage bucket.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a new storage handler. localPath takes precedence over bucket.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// Key returns the file or object name holding a thread's seen-state.
// Thread IDs that could escape the data directory yield "".
func Key(threadID string) string {
	if !notifier.ValidThreadID(threadID) {
		return ""
	}
	return keyPrefix + threadID + keySuffix
}

func threadIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) || !strings.HasSuffix(key, keySuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), keySuffix)
	return id, id != ""
}

// Load returns the last seen post ID of a thread. ok is false when nothing
// was stored yet or the stored value is not a number.
func (s *Store) Load(ctx context.Context, threadID string) (postID int64, ok bool, err error) {
	key := Key(threadID)
	if key == "" {
		return 0, false, fmt.Errorf("invalid thread id %q", threadID)
	}

	var data []byte
	if s.localPath != "" {
		data, err = s.readLocal(filepath.Join(s.localPath, key))
	} else {
		data, err = s.readObject(ctx, key)
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrObjectNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	raw := strings.TrimSpace(string(data))
	postID, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil {
		s.logger.Warn("Ignoring malformed seen-state", "thread_id", threadID, "key", key, "value", raw)
		return 0, false, nil
	}
	return postID, true, nil
}

func (s *Store) readLocal(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			s.logger.Warn("Failed to close seen-state file", "path", path, "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(f, maxValueBytes))
	if err != nil {
		return nil, fmt.Errorf("read from local storage: %w", err)
	}
	return data, nil
}

func (s *Store) readObject(ctx context.Context, key string) ([]byte, error) {
	var (
		data     []byte
		notFound bool
	)
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					notFound = true
					return nil
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(io.LimitReader(r, maxValueBytes))
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	if notFound {
		return nil, storage.ErrObjectNotExist
	}
	return data, nil
}

// Save replaces the stored post ID of a thread as a whole value.
func (s *Store) Save(ctx context.Context, threadID string, postID int64) error {
	key := Key(threadID)
	if key == "" {
		return fmt.Errorf("invalid thread id %q", threadID)
	}
	data := []byte(strconv.FormatInt(postID, 10) + "\n")

	if s.localPath != "" {
		if err := writeFileAtomic(filepath.Join(s.localPath, key), data); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Debug("Seen-state saved to local storage", "thread_id", threadID, "post_id", postID)
		return nil
	}

	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "text/plain"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Debug("Seen-state saved", "key", key, "post_id", postID)
	return nil
}

// writeFileAtomic writes data next to path and renames it into place so
// readers never observe a partial value.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// List returns every stored entry sorted by thread ID. Malformed values
// are skipped with a warning.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var ids []string

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if id, ok := threadIDFromKey(entry.Name()); ok {
				ids = append(ids, id)
			}
		}
	} else {
		it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: keyPrefix})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("iterate storage: %w", err)
			}
			if id, ok := threadIDFromKey(attrs.Name); ok {
				ids = append(ids, id)
			}
		}
	}

	sort.Strings(ids)

	var out []Entry
	for _, id := range ids {
		postID, ok, err := s.Load(ctx, id)
		if err != nil {
			s.logger.Warn("Failed to load seen-state", "thread_id", id, "error", err)
			continue
		}
		if !ok {
			continue
		}
		out = append(out, Entry{ThreadID: id, PostID: postID})
	}
	return out, nil
}
