// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/metrics"
)

// chunkBufferPool provides reusable buffers for range reads. Each buffer is
// completely overwritten by io.ReadFull before being appended to the result.
var chunkBufferPool = sync.Pool{
	New: func() interface{} {
		chunk := make([]byte, constants.FilesystemReadChunkSize)

		return &chunk
	},
}

// cachedPath represents a cached path existence check result.
type cachedPath struct {
	exists bool
	err    error
	expiry time.Time
}

// cachedFileContent represents cached file content with metadata for invalidation.
type cachedFileContent struct {
	content   []byte
	modTime   time.Time
	size      int64
	lastCheck time.Time // When we last did a stat check
}

// DefaultService is the default implementation of the filesystem Service.
// Reads under the configured cache prefixes (object document and runtime
// configuration directories) are cached with stat-based invalidation, since
// the loader re-reads the same documents on every reload.
type DefaultService struct {
	pathMu    sync.RWMutex
	pathCache map[string]*cachedPath

	fileMu    sync.RWMutex
	fileCache map[string]*cachedFileContent
}

// NewDefaultService creates a new DefaultService.
func NewDefaultService() *DefaultService {
	return &DefaultService{
		pathCache: make(map[string]*cachedPath),
		fileCache: make(map[string]*cachedFileContent),
	}
}

// cacheable reports whether the path lives under a prefix with caching enabled.
func cacheable(path string) bool {
	for _, prefix := range constants.FilesystemCachePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

// invalidate drops any cached state for path. Called by every mutating
// operation so a subsequent read never serves stale content.
func (s *DefaultService) invalidate(path string) {
	s.fileMu.Lock()
	delete(s.fileCache, path)
	s.fileMu.Unlock()

	s.pathMu.Lock()
	delete(s.pathCache, path)
	s.pathMu.Unlock()
}

// recordOp records filesystem operation metrics
func (s *DefaultService) recordOp(op string, path string, start time.Time, cached bool) {
	metrics.RecordFilesystemOp(op, path, cached, time.Since(start))
}

// checkContext checks if the context is done before proceeding with an operation.
func (s *DefaultService) checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// EnsureDirectory creates a directory if it doesn't exist.
func (s *DefaultService) EnsureDirectory(ctx context.Context, path string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return fmt.Errorf("failed to check context: %w", err)
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.MkdirAll(path, 0755)
	}()

	select {
	case err := <-errCh:
		s.recordOp("EnsureDirectory", path, start, false)
		if err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}

		return nil
	case <-ctx.Done():
		s.recordOp("EnsureDirectory", path, start, false)

		return ctx.Err()
	}
}

// ReadFile reads a file's contents respecting the context.
func (s *DefaultService) ReadFile(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to check context: %w", err)
	}

	if !cacheable(path) {
		return s.readFileUncached(ctx, path, start)
	}

	s.fileMu.RLock()
	cached, exists := s.fileCache[path]
	s.fileMu.RUnlock()

	// Stat to detect external modifications
	stat, err := os.Stat(path)
	if err != nil {
		if exists {
			s.fileMu.Lock()
			delete(s.fileCache, path)
			s.fileMu.Unlock()
		}
		s.recordOp("ReadFile", path, start, false)

		return nil, err
	}

	if exists && cached.modTime.Equal(stat.ModTime()) && cached.size == stat.Size() {
		if time.Since(cached.lastCheck) >= constants.FilesystemCacheRecheckInterval {
			s.fileMu.Lock()
			cached.lastCheck = time.Now()
			s.fileMu.Unlock()
		}
		s.recordOp("ReadFile", path, start, true)

		return cached.content, nil
	}

	content, err := s.readFileUncached(ctx, path, start)
	if err != nil {
		return nil, err
	}

	s.fileMu.Lock()
	s.fileCache[path] = &cachedFileContent{
		content:   content,
		modTime:   stat.ModTime(),
		size:      stat.Size(),
		lastCheck: time.Now(),
	}
	s.fileMu.Unlock()

	return content, nil
}

// readFileUncached performs the actual file read without caching
func (s *DefaultService) readFileUncached(ctx context.Context, path string, start time.Time) ([]byte, error) {
	type result struct {
		err  error
		data []byte
	}

	resCh := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(path)
		resCh <- result{err: err, data: data}
	}()

	select {
	case res := <-resCh:
		s.recordOp("ReadFile", path, start, false)
		if res.err != nil {
			return nil, res.err
		}

		if elapsed := time.Since(start); elapsed > constants.FilesystemSlowReadThreshold {
			logger.For(logger.ComponentFilesystem).Debugf("slow read of %s: %s", path, elapsed)
		}

		return res.data, nil
	case <-ctx.Done():
		s.recordOp("ReadFile", path, start, false)

		return nil, ctx.Err()
	}
}

// ReadFileRange reads the file starting at byte offset "from" and returns the
// data that was read plus the next read offset. The journal tailer calls this
// repeatedly with the last returned offset, so partial reads are returned as
// success rather than a timeout: the remaining bytes arrive on the next call.
// The context must carry a deadline.
func (s *DefaultService) ReadFileRange(
	ctx context.Context,
	path string,
	from int64,
) ([]byte, int64, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, 0, err
	}

	type result struct {
		err     error
		data    []byte
		newSize int64
	}

	resCh := make(chan result, 1)

	go func() {
		f, err := os.Open(path)
		if err != nil {
			resCh <- result{err: err}

			return
		}

		defer func() {
			if err := f.Close(); err != nil {
				// Sending to resCh would block the goroutine, so log instead
				logger.For(logger.ComponentFilesystem).Warnf("failed to close file %s: %s", path, err)
			}
		}()

		// stat *after* open so we have a consistent view
		fi, err := f.Stat()
		if err != nil {
			resCh <- result{err: err}

			return
		}

		size := fi.Size()

		// nothing new?
		if from >= size {
			resCh <- result{newSize: size}

			return
		}

		if _, err = f.Seek(from, io.SeekStart); err != nil {
			resCh <- result{err: err}

			return
		}

		deadline, ok := ctx.Deadline()
		if !ok {
			resCh <- result{err: errors.New("context deadline not set")}

			return
		}

		timeBuffer := time.Until(deadline) / 2

		expectedSize := size - from
		buf := make([]byte, 0, expectedSize)

		chunk := chunkBufferPool.Get().(*[]byte)
		defer chunkBufferPool.Put(chunk)

		for {
			// Not enough time for another chunk: return what we have
			if remaining := time.Until(deadline); remaining < timeBuffer {
				resCh <- result{data: buf, newSize: from + int64(len(buf))}

				return
			}

			n, err := io.ReadFull(f, *chunk)
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				if n > 0 {
					buf = append(buf, (*chunk)[:n]...)
				}

				break
			}

			if err != nil {
				resCh <- result{err: err}

				return
			}

			buf = append(buf, *chunk...)
		}

		resCh <- result{data: buf, newSize: from + int64(len(buf))}
	}()

	select {
	case res := <-resCh:
		s.recordOp("ReadFileRange", path, start, false)

		return res.data, res.newSize, res.err
	case <-ctx.Done():
		s.recordOp("ReadFileRange", path, start, false)

		return nil, 0, ctx.Err()
	}
}

// WriteFile writes data to a file respecting the context.
func (s *DefaultService) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return fmt.Errorf("failed to check context: %w", err)
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.WriteFile(path, data, perm)
	}()

	select {
	case err := <-errCh:
		s.invalidate(path)
		s.recordOp("WriteFile", path, start, false)
		if err != nil {
			return fmt.Errorf("failed to write file %s: %w", path, err)
		}

		return nil
	case <-ctx.Done():
		s.recordOp("WriteFile", path, start, false)

		return ctx.Err()
	}
}

// PathExists checks if a path (file or directory) exists.
func (s *DefaultService) PathExists(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return false, err
	}

	if !cacheable(path) {
		return s.pathExistsUncached(ctx, path, start)
	}

	s.pathMu.RLock()
	if cached, ok := s.pathCache[path]; ok && time.Now().Before(cached.expiry) {
		s.pathMu.RUnlock()
		s.recordOp("PathExists", path, start, true)

		return cached.exists, cached.err
	}
	s.pathMu.RUnlock()

	exists, err := s.pathExistsUncached(ctx, path, start)

	// Only positive results are cached: a document that does not exist yet
	// must become visible the moment it is written.
	if err == nil && exists {
		s.pathMu.Lock()
		s.pathCache[path] = &cachedPath{
			exists: exists,
			err:    err,
			expiry: time.Now().Add(constants.FilesystemCacheTTL),
		}
		s.pathMu.Unlock()
	}

	return exists, err
}

// pathExistsUncached performs the actual path existence check without caching
func (s *DefaultService) pathExistsUncached(ctx context.Context, path string, start time.Time) (bool, error) {
	type result struct {
		err    error
		exists bool
	}

	resCh := make(chan result, 1)

	go func() {
		// Use Lstat to handle symlinks properly (don't follow them)
		_, err := os.Lstat(path)
		if os.IsNotExist(err) {
			resCh <- result{exists: false}

			return
		}
		if err != nil {
			resCh <- result{err: fmt.Errorf("failed to check if path exists: %w", err)}

			return
		}
		resCh <- result{exists: true}
	}()

	select {
	case res := <-resCh:
		s.recordOp("PathExists", path, start, false)
		if res.err != nil {
			return false, res.err
		}

		return res.exists, nil
	case <-ctx.Done():
		s.recordOp("PathExists", path, start, false)

		return false, ctx.Err()
	}
}

// Remove removes a file or directory.
func (s *DefaultService) Remove(ctx context.Context, path string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.Remove(path)
	}()

	select {
	case err := <-errCh:
		s.invalidate(path)
		s.recordOp("Remove", path, start, false)

		return err
	case <-ctx.Done():
		s.recordOp("Remove", path, start, false)

		return ctx.Err()
	}
}

// RemoveAll removes a directory and all its contents.
func (s *DefaultService) RemoveAll(ctx context.Context, path string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.RemoveAll(path)
	}()

	select {
	case err := <-errCh:
		s.invalidateTree(path)
		s.recordOp("RemoveAll", path, start, false)
		if err != nil {
			return fmt.Errorf("failed to remove directory %s: %w", path, err)
		}

		return nil
	case <-ctx.Done():
		s.recordOp("RemoveAll", path, start, false)

		return ctx.Err()
	}
}

// invalidateTree drops cached state for path and everything below it.
func (s *DefaultService) invalidateTree(path string) {
	prefix := strings.TrimSuffix(path, "/") + "/"

	s.fileMu.Lock()
	for p := range s.fileCache {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(s.fileCache, p)
		}
	}
	s.fileMu.Unlock()

	s.pathMu.Lock()
	for p := range s.pathCache {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(s.pathCache, p)
		}
	}
	s.pathMu.Unlock()
}

// Stat returns file info.
func (s *DefaultService) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to check context: %w", err)
	}

	type result struct {
		info os.FileInfo
		err  error
	}

	resCh := make(chan result, 1)

	go func() {
		info, err := os.Stat(path)
		resCh <- result{info, err}
	}()

	select {
	case res := <-resCh:
		s.recordOp("Stat", path, start, false)
		if res.err != nil {
			return nil, fmt.Errorf("failed to get file info: %w", res.err)
		}

		return res.info, nil
	case <-ctx.Done():
		s.recordOp("Stat", path, start, false)

		return nil, ctx.Err()
	}
}

// ReadDir reads a directory, returning all its directory entries.
func (s *DefaultService) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to check context: %w", err)
	}

	type result struct {
		err     error
		entries []os.DirEntry
	}

	resCh := make(chan result, 1)

	go func() {
		entries, err := os.ReadDir(path)
		resCh <- result{err: err, entries: entries}
	}()

	select {
	case res := <-resCh:
		s.recordOp("ReadDir", path, start, false)
		if res.err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", path, res.err)
		}

		return res.entries, nil
	case <-ctx.Done():
		s.recordOp("ReadDir", path, start, false)

		return nil, ctx.Err()
	}
}

// Glob is a wrapper around filepath.Glob that respects the context.
func (s *DefaultService) Glob(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to check context: %w", err)
	}

	type result struct {
		err     error
		matches []string
	}

	resCh := make(chan result, 1)

	go func() {
		matches, err := filepath.Glob(pattern)
		resCh <- result{err: err, matches: matches}
	}()

	select {
	case res := <-resCh:
		s.recordOp("Glob", pattern, start, false)
		if res.err != nil {
			return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, res.err)
		}

		return res.matches, nil
	case <-ctx.Done():
		s.recordOp("Glob", pattern, start, false)

		return nil, ctx.Err()
	}
}

// Rename renames (moves) a file or directory from oldPath to newPath.
// This operation is atomic on the same filesystem mount.
func (s *DefaultService) Rename(ctx context.Context, oldPath, newPath string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return fmt.Errorf("failed to check context: %w", err)
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.Rename(oldPath, newPath)
	}()

	select {
	case err := <-errCh:
		s.invalidate(oldPath)
		s.invalidate(newPath)
		s.recordOp("Rename", fmt.Sprintf("%s->%s", oldPath, newPath), start, false)
		if err != nil {
			return fmt.Errorf("failed to rename file %s to %s: %w", oldPath, newPath, err)
		}

		return nil
	case <-ctx.Done():
		s.recordOp("Rename", fmt.Sprintf("%s->%s", oldPath, newPath), start, false)

		return ctx.Err()
	}
}
