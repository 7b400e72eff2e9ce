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

package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/loader"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/metrics"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
)

// JournalEntry is one flight recorder record: the state of every object in
// the graph at one tick of the run loop.
type JournalEntry struct {
	Time    time.Time             `json:"time"`
	Tick    uint64                `json:"tick"`
	Session string                `json:"session"`
	Objects []loader.ObjectStatus `json:"objects"`
}

// Journal is the run loop's flight recorder. Entries are appended as
// zstd-compressed JSON lines to segment files under a journal directory;
// segments rotate at a size cap and the oldest ones are pruned so the
// journal never grows without bound.
//
// Append never blocks the run loop: entries go through a bounded queue and
// are dropped, with a metric, when the writer cannot keep up.
type Journal struct {
	dir    string
	fs     filesystem.Service
	logger *zap.SugaredLogger

	queue  chan JournalEntry
	ctx    context.Context //nolint:containedctx // This is intentional for background service lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Written by the writer goroutine before it exits, read after Wait.
	closeErr error

	// Segment state, owned by the writer goroutine after construction.
	file    *os.File
	counter *countingWriter
	enc     *zstd.Encoder
}

// countingWriter tracks the compressed bytes that reached the segment file.
// The encoder buffers internally, so the count only advances on a flush or
// when a block fills up.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}

// NewJournal opens a journal under dir and starts the background writer.
// The context only bounds the setup work; the writer has its own lifecycle
// and runs until Close.
func NewJournal(ctx context.Context, dir string, fsService filesystem.Service) (*Journal, error) {
	if fsService == nil {
		fsService = filesystem.NewDefaultService()
	}

	if err := fsService.EnsureDirectory(ctx, dir); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	writerCtx, cancel := context.WithCancel(context.Background())
	j := &Journal{
		dir:    dir,
		fs:     fsService,
		logger: logger.For(logger.ComponentJournal),
		queue:  make(chan JournalEntry, constants.JournalQueueSize),
		ctx:    writerCtx,
		cancel: cancel,
	}

	if err := j.openSegment(); err != nil {
		cancel()

		return nil, fmt.Errorf("opening journal segment: %w", err)
	}

	j.wg.Add(1)

	go j.run()

	j.logger.Infof("Journal writing to %s", dir)

	return j, nil
}

// Append queues one entry for writing. It never blocks: when the queue is
// full the entry is dropped and the drop is counted.
func (j *Journal) Append(e JournalEntry) {
	select {
	case j.queue <- e:
	default:
		metrics.RecordJournalDropped()
	}
}

// Close drains the queue, flushes the active segment and stops the writer.
func (j *Journal) Close() error {
	j.cancel()
	j.wg.Wait()

	return j.closeErr
}

// Segments returns the journal segment paths on disk, oldest first. The
// last one is the active segment and may still be written to.
func (j *Journal) Segments(ctx context.Context) ([]string, error) {
	matches, err := j.fs.Glob(ctx, filepath.Join(j.dir, "journal-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}

	sort.Strings(matches)

	return matches, nil
}

func (j *Journal) run() {
	defer j.wg.Done()

	flush := time.NewTicker(constants.JournalFlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-j.ctx.Done():
			j.drain()
			j.closeErr = j.closeSegment()

			return
		case e := <-j.queue:
			j.write(e)
		case <-flush.C:
			if j.enc == nil {
				// A previous rotation failed; try to get a segment back.
				if err := j.openSegment(); err != nil {
					metrics.IncErrorCountAndLog(metrics.ComponentJournal, "reopen", err, j.logger)
				}

				continue
			}

			if err := j.enc.Flush(); err != nil {
				metrics.IncErrorCountAndLog(metrics.ComponentJournal, "flush", err, j.logger)

				continue
			}

			j.maybeRotate()
		}
	}
}

// drain writes whatever is still queued at shutdown.
func (j *Journal) drain() {
	for {
		select {
		case e := <-j.queue:
			j.write(e)
		default:
			return
		}
	}
}

func (j *Journal) write(e JournalEntry) {
	if j.enc == nil {
		metrics.RecordJournalDropped()

		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentJournal, "marshal", err, j.logger)

		return
	}

	data = append(data, '\n')

	if _, err := j.enc.Write(data); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentJournal, "write", err, j.logger)

		return
	}

	metrics.RecordJournalEntry()
	j.maybeRotate()
}

// maybeRotate closes the active segment once its compressed size passed the
// cap and opens a fresh one. The size check runs on flushed bytes, so the
// cap is a high-water mark rather than an exact limit.
func (j *Journal) maybeRotate() {
	if j.counter == nil || j.counter.n < constants.JournalMaxSegmentBytes {
		return
	}

	if err := j.closeSegment(); err != nil {
		j.logger.Warnf("Closing journal segment: %v", err)
	}

	if err := j.openSegment(); err != nil {
		// Entries are dropped until the flush ticker manages a reopen.
		metrics.IncErrorCountAndLog(metrics.ComponentJournal, "rotate", err, j.logger)

		return
	}

	j.prune()
}

// openSegment creates a new segment file named after the current time, so
// lexicographic order is chronological order.
//
// The segment is written through os directly rather than the filesystem
// service: the zstd stream needs a writer that stays open across entries,
// which the request-response service interface does not model.
func (j *Journal) openSegment() error {
	name := fmt.Sprintf("journal-%020d.jsonl.zst", time.Now().UnixNano())
	path := filepath.Join(j.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	counter := &countingWriter{w: f}

	enc, err := zstd.NewWriter(counter, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		if closeErr := f.Close(); closeErr != nil {
			j.logger.Warnf("Closing unused segment file: %v", closeErr)
		}

		return err
	}

	j.file = f
	j.counter = counter
	j.enc = enc

	j.logger.Infof("Journal segment %s opened", name)

	return nil
}

func (j *Journal) closeSegment() error {
	var errs []error

	if j.enc != nil {
		if err := j.enc.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if j.file != nil {
		if err := j.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	j.enc = nil
	j.counter = nil
	j.file = nil

	return errors.Join(errs...)
}

// prune deletes the oldest segments until at most JournalMaxSegments remain,
// the active one included.
func (j *Journal) prune() {
	matches, err := j.fs.Glob(j.ctx, filepath.Join(j.dir, "journal-*.jsonl.zst"))
	if err != nil {
		j.logger.Warnf("Listing journal segments: %v", err)

		return
	}

	sort.Strings(matches)

	for len(matches) > constants.JournalMaxSegments {
		oldest := matches[0]
		matches = matches[1:]

		if err := j.fs.Remove(j.ctx, oldest); err != nil {
			j.logger.Warnf("Removing old journal segment %s: %v", oldest, err)

			continue
		}

		j.logger.Infof("Pruned journal segment %s", filepath.Base(oldest))
	}
}

// ReadSegment decodes one journal segment. This is the read side of the
// flight recorder, used by post-mortem tooling and tests. A segment that is
// still being written decodes up to the last flushed block.
func ReadSegment(path string) (entries []JournalEntry, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening zstd stream: %w", err)
	}
	defer dec.Close()

	scanner := bufio.NewScanner(dec)
	// Snapshots of large graphs produce long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e JournalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return entries, fmt.Errorf("decoding journal entry: %w", err)
		}

		entries = append(entries, e)
	}

	if err := scanner.Err(); err != nil {
		return entries, err
	}

	return entries, nil
}
