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
	"errors"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"context"
)

// MockFileSystem is an in-memory implementation of the filesystem Service.
// Files written through it are readable back, which lets loader and config
// tests stage whole document trees without touching the disk. Individual
// operations can be overridden via the *Func fields, and FailureRate /
// DelayRange simulate flaky storage.
type MockFileSystem struct {
	FailureRate float64 // 0.0 to 1.0
	DelayRange  time.Duration

	ReadFileFunc        func(ctx context.Context, path string) ([]byte, error)
	WriteFileFunc       func(ctx context.Context, path string, data []byte, perm os.FileMode) error
	PathExistsFunc      func(ctx context.Context, path string) (bool, error)
	EnsureDirectoryFunc func(ctx context.Context, path string) error
	RemoveFunc          func(ctx context.Context, path string) error
	RemoveAllFunc       func(ctx context.Context, path string) error
	StatFunc            func(ctx context.Context, path string) (os.FileInfo, error)
	ReadDirFunc         func(ctx context.Context, path string) ([]os.DirEntry, error)
	GlobFunc            func(ctx context.Context, pattern string) ([]string, error)
	RenameFunc          func(ctx context.Context, oldPath, newPath string) error

	mutex    sync.Mutex
	files    map[string]*mockFile
	dirs     map[string]bool
	modClock time.Time
}

type mockFile struct {
	data    []byte
	perm    os.FileMode
	modTime time.Time
}

// NewMockFileSystem creates a new MockFileSystem instance
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		files:    make(map[string]*mockFile),
		dirs:     make(map[string]bool),
		modClock: time.Now(),
	}
}

// WithFailureRate sets the failure rate for the mock
func (m *MockFileSystem) WithFailureRate(rate float64) *MockFileSystem {
	m.FailureRate = rate

	return m
}

// WithDelayRange sets the delay range for the mock
func (m *MockFileSystem) WithDelayRange(delay time.Duration) *MockFileSystem {
	m.DelayRange = delay

	return m
}

// WithFile stages a file so tests can pre-populate a document tree in one call.
func (m *MockFileSystem) WithFile(path string, data []byte) *MockFileSystem {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.storeLocked(path, data, 0644)

	return m
}

// storeLocked records a file and its parent directories. Caller holds mutex.
func (m *MockFileSystem) storeLocked(path string, data []byte, perm os.FileMode) {
	// Advance the mock clock so successive writes get distinct mod times
	// even on coarse-grained clocks.
	m.modClock = m.modClock.Add(time.Millisecond)
	m.files[path] = &mockFile{data: append([]byte(nil), data...), perm: perm, modTime: m.modClock}

	for dir := filepath.Dir(path); dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		m.dirs[dir] = true
	}
}

// simulate decides whether an operation should fail and applies the
// configured random delay, honouring context cancellation.
func (m *MockFileSystem) simulate(ctx context.Context, operation string) error {
	m.mutex.Lock()
	shouldFail := rand.Float64() < m.FailureRate
	delay := time.Duration(0)
	if m.DelayRange > 0 {
		delay = time.Duration(rand.Int63n(int64(m.DelayRange)))
	}
	m.mutex.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
			// Delay completed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if shouldFail {
		return errors.New("simulated failure in " + operation)
	}

	return nil
}

// EnsureDirectory creates a directory if it doesn't exist
func (m *MockFileSystem) EnsureDirectory(ctx context.Context, path string) error {
	if m.EnsureDirectoryFunc != nil {
		return m.EnsureDirectoryFunc(ctx, path)
	}

	if err := m.simulate(ctx, "EnsureDirectory"); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for dir := strings.TrimSuffix(path, "/"); dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		m.dirs[dir] = true
	}

	return nil
}

// ReadFile reads a file's contents respecting the context
func (m *MockFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(ctx, path)
	}

	if err := m.simulate(ctx, "ReadFile"); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	f, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}

	return append([]byte(nil), f.data...), nil
}

// ReadFileRange reads stored bytes starting at offset from.
func (m *MockFileSystem) ReadFileRange(ctx context.Context, path string, from int64) ([]byte, int64, error) {
	if err := m.simulate(ctx, "ReadFileRange"); err != nil {
		return nil, 0, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	f, ok := m.files[path]
	if !ok {
		return nil, 0, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}

	size := int64(len(f.data))
	if from >= size {
		return nil, size, nil
	}

	return append([]byte(nil), f.data[from:]...), size, nil
}

// WriteFile writes data to a file respecting the context
func (m *MockFileSystem) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(ctx, path, data, perm)
	}

	if err := m.simulate(ctx, "WriteFile"); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.storeLocked(path, data, perm)

	return nil
}

// PathExists checks if a path exists
func (m *MockFileSystem) PathExists(ctx context.Context, path string) (bool, error) {
	if m.PathExistsFunc != nil {
		return m.PathExistsFunc(ctx, path)
	}

	if err := m.simulate(ctx, "PathExists"); err != nil {
		return false, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.files[path]; ok {
		return true, nil
	}

	return m.dirs[strings.TrimSuffix(path, "/")], nil
}

// Remove removes a file or directory
func (m *MockFileSystem) Remove(ctx context.Context, path string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, path)
	}

	if err := m.simulate(ctx, "Remove"); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.files[path]; ok {
		delete(m.files, path)

		return nil
	}
	if m.dirs[path] {
		delete(m.dirs, path)

		return nil
	}

	return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrNotExist}
}

// RemoveAll removes a directory and all its contents
func (m *MockFileSystem) RemoveAll(ctx context.Context, path string) error {
	if m.RemoveAllFunc != nil {
		return m.RemoveAllFunc(ctx, path)
	}

	if err := m.simulate(ctx, "RemoveAll"); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	prefix := strings.TrimSuffix(path, "/") + "/"
	for p := range m.files {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.files, p)
		}
	}
	for p := range m.dirs {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.dirs, p)
		}
	}

	return nil
}

// Stat returns file info
func (m *MockFileSystem) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	if m.StatFunc != nil {
		return m.StatFunc(ctx, path)
	}

	if err := m.simulate(ctx, "Stat"); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if f, ok := m.files[path]; ok {
		return &mockFileInfo{
			name:    filepath.Base(path),
			size:    int64(len(f.data)),
			mode:    f.perm,
			modTime: f.modTime,
		}, nil
	}
	if m.dirs[strings.TrimSuffix(path, "/")] {
		return &mockFileInfo{
			name:    filepath.Base(path),
			mode:    fs.ModeDir | 0755,
			modTime: m.modClock,
			isDir:   true,
		}, nil
	}

	return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
}

// ReadDir reads a directory, returning all its directory entries
func (m *MockFileSystem) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	if m.ReadDirFunc != nil {
		return m.ReadDirFunc(ctx, path)
	}

	if err := m.simulate(ctx, "ReadDir"); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	dir := strings.TrimSuffix(path, "/")
	names := make(map[string]bool)

	var entries []os.DirEntry
	for p, f := range m.files {
		if filepath.Dir(p) != dir {
			continue
		}
		name := filepath.Base(p)
		if names[name] {
			continue
		}
		names[name] = true
		entries = append(entries, &mockDirEntry{name: name, info: &mockFileInfo{
			name:    name,
			size:    int64(len(f.data)),
			mode:    f.perm,
			modTime: f.modTime,
		}})
	}
	for p := range m.dirs {
		if filepath.Dir(p) != dir {
			continue
		}
		name := filepath.Base(p)
		if names[name] {
			continue
		}
		names[name] = true
		entries = append(entries, &mockDirEntry{name: name, isDir: true, info: &mockFileInfo{
			name:    name,
			mode:    fs.ModeDir | 0755,
			modTime: m.modClock,
			isDir:   true,
		}})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	return entries, nil
}

// Glob matches stored file paths against the pattern
func (m *MockFileSystem) Glob(ctx context.Context, pattern string) ([]string, error) {
	if m.GlobFunc != nil {
		return m.GlobFunc(ctx, pattern)
	}

	if err := m.simulate(ctx, "Glob"); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	var matches []string
	for p := range m.files {
		ok, err := filepath.Match(pattern, p)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, p)
		}
	}

	sort.Strings(matches)

	return matches, nil
}

// Rename moves a file from oldPath to newPath
func (m *MockFileSystem) Rename(ctx context.Context, oldPath, newPath string) error {
	if m.RenameFunc != nil {
		return m.RenameFunc(ctx, oldPath, newPath)
	}

	if err := m.simulate(ctx, "Rename"); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	f, ok := m.files[oldPath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldPath, Err: fs.ErrNotExist}
	}

	delete(m.files, oldPath)
	m.storeLocked(newPath, f.data, f.perm)

	return nil
}

// mockFileInfo implements os.FileInfo for entries stored in the mock.
type mockFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (i *mockFileInfo) Name() string       { return i.name }
func (i *mockFileInfo) Size() int64        { return i.size }
func (i *mockFileInfo) Mode() fs.FileMode  { return i.mode }
func (i *mockFileInfo) ModTime() time.Time { return i.modTime }
func (i *mockFileInfo) IsDir() bool        { return i.isDir }
func (i *mockFileInfo) Sys() interface{}   { return nil }

// mockDirEntry implements os.DirEntry for entries stored in the mock.
type mockDirEntry struct {
	name  string
	isDir bool
	info  *mockFileInfo
}

func (e *mockDirEntry) Name() string               { return e.name }
func (e *mockDirEntry) IsDir() bool                { return e.isDir }
func (e *mockDirEntry) Type() fs.FileMode          { return e.info.Mode().Type() }
func (e *mockDirEntry) Info() (os.FileInfo, error) { return e.info, nil }
