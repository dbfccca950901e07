package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Save writes the manifest in its line-oriented textual format:
//
//	<continuation cursor>
//	<folder count>
//	<folder id>
//	<folder path>
//	... repeated folder count times ...
//	<file count>
//	<file id>
//	<file path>
//	<file size>
//	<file modified-time as 100-ns ticks since epoch>
//	<file checksum>
//	... repeated file count times ...
//
// Save clears the dirty flag unconditionally on success.
func (m *Manifest) Save(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintln(bw, m.cursor); err != nil {
		return fmt.Errorf("manifest: writing cursor: %w", err)
	}

	if _, err := fmt.Fprintln(bw, len(m.folders)); err != nil {
		return fmt.Errorf("manifest: writing folder count: %w", err)
	}

	for id, path := range m.folders {
		if _, err := fmt.Fprintln(bw, id); err != nil {
			return fmt.Errorf("manifest: writing folder id: %w", err)
		}

		if _, err := fmt.Fprintln(bw, path); err != nil {
			return fmt.Errorf("manifest: writing folder path: %w", err)
		}
	}

	if _, err := fmt.Fprintln(bw, len(m.files)); err != nil {
		return fmt.Errorf("manifest: writing file count: %w", err)
	}

	for id, fi := range m.files {
		if _, err := fmt.Fprintln(bw, id); err != nil {
			return fmt.Errorf("manifest: writing file id: %w", err)
		}

		if _, err := fmt.Fprintln(bw, fi.Path); err != nil {
			return fmt.Errorf("manifest: writing file path: %w", err)
		}

		if _, err := fmt.Fprintln(bw, fi.Size); err != nil {
			return fmt.Errorf("manifest: writing file size: %w", err)
		}

		if _, err := fmt.Fprintln(bw, timeToTicks(fi.Modified)); err != nil {
			return fmt.Errorf("manifest: writing file mtime: %w", err)
		}

		if _, err := fmt.Fprintln(bw, fi.Checksum); err != nil {
			return fmt.Errorf("manifest: writing file checksum: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("manifest: flushing: %w", err)
	}

	m.dirty = false

	return nil
}

// Load reads a manifest previously written by Save. A parse failure means
// the file is corrupt and is returned as an error; Load does not rebuild,
// and neither does the engine's startup path, which fails on it.
func Load(r io.Reader) (*Manifest, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	readLine := func(what string) (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", fmt.Errorf("manifest: reading %s: %w", what, err)
			}

			return "", fmt.Errorf("manifest: reading %s: %w", what, io.ErrUnexpectedEOF)
		}

		return sc.Text(), nil
	}

	readInt := func(what string) (int, error) {
		line, err := readLine(what)
		if err != nil {
			return 0, err
		}

		n, convErr := strconv.Atoi(line)
		if convErr != nil {
			return 0, fmt.Errorf("manifest: parsing %s %q: %w", what, line, convErr)
		}

		return n, nil
	}

	m := New()

	cursor, err := readLine("cursor")
	if err != nil {
		return nil, err
	}

	m.cursor = cursor

	folderCount, err := readInt("folder count")
	if err != nil {
		return nil, err
	}

	for i := 0; i < folderCount; i++ {
		id, err := readLine("folder id")
		if err != nil {
			return nil, err
		}

		path, err := readLine("folder path")
		if err != nil {
			return nil, err
		}

		m.folders[id] = path
		m.reverse[path] = id
	}

	fileCount, err := readInt("file count")
	if err != nil {
		return nil, err
	}

	for i := 0; i < fileCount; i++ {
		id, err := readLine("file id")
		if err != nil {
			return nil, err
		}

		path, err := readLine("file path")
		if err != nil {
			return nil, err
		}

		sizeLine, err := readLine("file size")
		if err != nil {
			return nil, err
		}

		size, convErr := strconv.ParseInt(sizeLine, 10, 64)
		if convErr != nil {
			return nil, fmt.Errorf("manifest: parsing file size %q: %w", sizeLine, convErr)
		}

		ticksLine, err := readLine("file mtime")
		if err != nil {
			return nil, err
		}

		ticks, convErr := strconv.ParseInt(ticksLine, 10, 64)
		if convErr != nil {
			return nil, fmt.Errorf("manifest: parsing file mtime %q: %w", ticksLine, convErr)
		}

		checksum, err := readLine("file checksum")
		if err != nil {
			return nil, err
		}

		m.files[id] = FileInfo{Path: path, Size: size, Modified: ticksToTime(ticks), Checksum: checksum}
		m.reverse[path] = id
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	return m, nil
}

// timeToTicks converts t to 100-ns ticks since the Unix epoch, the unit
// the manifest file stores mtimes in.
func timeToTicks(t time.Time) int64 {
	return t.UnixNano() / 100
}

// ticksToTime converts 100-ns ticks since the Unix epoch back to a UTC time.
func ticksToTime(ticks int64) time.Time {
	return time.Unix(0, ticks*100).UTC()
}
