package segstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/skim/handle"
	"github.com/hupe1980/skim/internal/fs"
)

// ManifestName is the file name of the segment table inside a store
// directory. Snapshots and archive catalogs reference it by name.
const ManifestName = "MANIFEST.json"

const manifestVersion = 1

// manifest is the durable segment table, committed atomically on open,
// seal, and close.
type manifest struct {
	Version         int           `json:"version"`
	MaxSegmentBytes int64         `json:"maxSegmentBytes"`
	Segments        []SegmentInfo `json:"segments"`
}

func (s *Store) manifestPath() string { return s.segmentPath(ManifestName) }

func (s *Store) loadManifest() (*manifest, error) {
	data, err := fs.ReadFile(s.opts.fsys, s.manifestPath())
	if err != nil {
		// os.ErrNotExist passes through so Open can initialize a fresh store.
		return nil, err
	}

	var m manifest
	if err := s.opts.codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("segstore: decode manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("segstore: unsupported manifest version %d", m.Version)
	}
	if m.MaxSegmentBytes < recordOverhead+1 || m.MaxSegmentBytes > handle.MaxSegmentBytes {
		return nil, fmt.Errorf("segstore: manifest segment bound %d out of range", m.MaxSegmentBytes)
	}
	for i, seg := range m.Segments {
		if seg.ID != uint32(i) {
			return nil, fmt.Errorf("segstore: manifest segment %d out of order", seg.ID)
		}
		if !seg.Sealed && i != len(m.Segments)-1 {
			return nil, fmt.Errorf("segstore: manifest lists unsealed interior segment %d", seg.ID)
		}
	}
	return &m, nil
}

func (s *Store) writeManifest() error {
	m := manifest{
		Version:         manifestVersion,
		MaxSegmentBytes: s.opts.maxSegmentBytes,
		Segments:        s.segments,
	}
	data, err := s.opts.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("segstore: encode manifest: %w", err)
	}
	if err := fs.WriteAtomic(s.opts.fsys, s.manifestPath(), s.dir, data, 0o644); err != nil {
		return fmt.Errorf("segstore: write manifest: %w", err)
	}
	return nil
}

// resume adopts the manifest's segment table and reopens the trailing
// unsealed segment for appending.
func (s *Store) resume(m *manifest) error {
	if m.MaxSegmentBytes != s.opts.maxSegmentBytes {
		// Segment geometry was fixed when the store was created.
		s.opts.logger.Debug("adopting manifest segment bound",
			"manifest", m.MaxSegmentBytes,
			"configured", s.opts.maxSegmentBytes)
		s.opts.maxSegmentBytes = m.MaxSegmentBytes
	}

	s.segments = m.Segments
	if len(s.segments) == 0 {
		return nil
	}
	last := &s.segments[len(s.segments)-1]
	if last.Sealed {
		return nil
	}
	return s.reopenActive(last)
}

// reopenActive opens the unsealed trailing segment, adopts complete records
// appended after the last manifest commit, and truncates a partial tail
// record left by a crash.
func (s *Store) reopenActive(info *SegmentInfo) error {
	path := s.segmentPath(info.Name)

	f, err := s.opts.fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("segstore: reopen segment %q: %w", info.Name, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("segstore: stat segment %q: %w", info.Name, err)
	}
	size := st.Size()

	start, records := info.Bytes, info.Records
	if size < info.Bytes {
		// The file is shorter than its committed length, so the committed
		// record boundaries cannot be trusted either. Rescan from the top.
		s.opts.logger.Warn("segment shorter than manifest, rescanning",
			"segment", info.ID, "manifest_bytes", info.Bytes, "file_bytes", size)
		start, records = 0, 0
	}

	end, extra, err := scanRecords(f, start, size)
	if err != nil {
		f.Close()
		return err
	}
	records += extra

	if end < size {
		if err := s.opts.fsys.Truncate(path, end); err != nil {
			f.Close()
			return fmt.Errorf("segstore: truncate segment %q: %w", info.Name, err)
		}
		s.opts.logger.Warn("truncated partial tail record",
			"segment", info.ID, "file_bytes", size, "bytes", end)
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("segstore: seek segment %q: %w", info.Name, err)
	}

	if end != info.Bytes || records != info.Records {
		s.opts.logger.Debug("recovered segment tail",
			"segment", info.ID, "bytes", end, "records", records)
	}
	info.Bytes = end
	info.Records = records

	s.active = &activeSegment{
		id:      info.ID,
		f:       f,
		bw:      bufio.NewWriter(f),
		offset:  end,
		records: records,
	}
	return nil
}

// scanRecords walks complete records in f from a known record boundary and
// returns the offset past the last complete record plus the record count.
func scanRecords(f fs.File, start, size int64) (int64, int64, error) {
	if start >= size {
		return start, 0, nil
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("segstore: seek segment: %w", err)
	}

	br := bufio.NewReader(f)
	end, records := start, int64(0)
	for end < size {
		n, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, 0, fmt.Errorf("segstore: scan segment: %w", err)
		}
		recEnd := end + recordOverhead + int64(n)
		if recEnd > size {
			break // partial tail record
		}
		if _, err := br.Discard(int(n)); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, 0, fmt.Errorf("segstore: scan segment: %w", err)
		}
		end = recEnd
		records++
	}
	return end, records, nil
}
