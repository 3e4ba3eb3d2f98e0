package audit

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/sentinel/internal/metrics"
)

// SegmentStore abstracts the append-only storage behind the hash chain,
// so rotation and compression policy can change without touching chain logic.
type SegmentStore interface {
	// Append writes one entry to the current segment, rotating first if
	// the segment is full.
	Append(e *Entry) error
	// Iterate calls fn for every stored entry in write order.
	// A non-nil error from fn aborts the walk.
	Iterate(fn func(segment string, index int, e *Entry) error) error
	// Segments returns stored segment names in write order.
	Segments() ([]string, error)
	// Rotate closes the current segment and starts a new one.
	Rotate() error
	Close() error
}

const (
	segmentPrefix = "segment-"
	segmentExt    = ".log"
	gzipExt       = ".gz"
)

// FileStore keeps entries as JSON lines in timestamped segment files.
// The active segment is always plain text; finished segments are
// optionally gzip-compressed on rotation.
type FileStore struct {
	dir        string
	maxEntries int
	compress   bool

	current *os.File
	writer  *bufio.Writer
	count   int
}

// OpenFileStore opens (or creates) a segment directory. An existing
// uncompressed tail segment is resumed.
func OpenFileStore(dir string, maxEntries int, compress bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit store: mkdir %s: %w", dir, err)
	}
	s := &FileStore{dir: dir, maxEntries: maxEntries, compress: compress}

	names, err := s.Segments()
	if err != nil {
		return nil, err
	}
	if n := len(names); n > 0 && strings.HasSuffix(names[n-1], segmentExt) {
		path := filepath.Join(dir, names[n-1])
		count, err := countLines(path)
		if err != nil {
			return nil, err
		}
		if count < maxEntries {
			f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("audit store: reopen %s: %w", path, err)
			}
			s.current = f
			s.writer = bufio.NewWriter(f)
			s.count = count
			return s, nil
		}
	}
	if err := s.openNew(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Append(e *Entry) error {
	if s.count >= s.maxEntries {
		if err := s.Rotate(); err != nil {
			return err
		}
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit store: marshal entry %s: %w", e.ID, err)
	}
	if _, err := s.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit store: write entry %s: %w", e.ID, err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("audit store: flush: %w", err)
	}
	s.count++
	return nil
}

func (s *FileStore) Iterate(fn func(segment string, index int, e *Entry) error) error {
	names, err := s.Segments()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.iterateSegment(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) iterateSegment(name string, fn func(string, int, *Entry) error) error {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("audit store: open %s: %w", name, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(name, gzipExt) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("audit store: gunzip %s: %w", name, err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	index := 0
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return fmt.Errorf("audit store: %s:%d: %w", name, index, err)
		}
		if err := fn(name, index, &e); err != nil {
			return err
		}
		index++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("audit store: scan %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Segments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("audit store: read dir %s: %w", s.dir, err)
	}
	var names []string
	for _, de := range entries {
		name := de.Name()
		if strings.HasPrefix(name, segmentPrefix) &&
			(strings.HasSuffix(name, segmentExt) || strings.HasSuffix(name, segmentExt+gzipExt)) {
			names = append(names, name)
		}
	}
	// Segment names embed a fixed-width creation timestamp, so
	// lexicographic order is write order.
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) Rotate() error {
	old := s.current.Name()
	if err := s.closeCurrent(); err != nil {
		return err
	}
	if s.compress {
		if err := compressFile(old); err != nil {
			return fmt.Errorf("audit store: compress %s: %w", old, err)
		}
	}
	metrics.AuditRotations.Inc()
	return s.openNew()
}

func (s *FileStore) Close() error {
	if s.current == nil {
		return nil
	}
	return s.closeCurrent()
}

func (s *FileStore) openNew() error {
	name := fmt.Sprintf("%s%020d%s", segmentPrefix, time.Now().UnixNano(), segmentExt)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("audit store: create segment %s: %w", name, err)
	}
	s.current = f
	s.writer = bufio.NewWriter(f)
	s.count = 0
	return nil
}

func (s *FileStore) closeCurrent() error {
	if err := s.writer.Flush(); err != nil {
		s.current.Close()
		return fmt.Errorf("audit store: flush on close: %w", err)
	}
	if err := s.current.Close(); err != nil {
		return fmt.Errorf("audit store: close segment: %w", err)
	}
	s.current = nil
	s.writer = nil
	return nil
}

func compressFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + gzipExt)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("audit store: open %s: %w", path, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}
