// Package snapshot implements the deterministic binary codec that persists
// replica state to disk (spec §6) and the atomic file write that protects
// it against a crash mid-save.
//
// The wire format is intentionally simple and is an externally visible
// contract: every integer is a big-endian u32, every string is a u32
// byte-count followed by raw UTF-8 bytes. Encoding order across files or
// attributes is unspecified — decoding must accept any ordering, and does.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// fileName is the name of the snapshot file within a replica's storage
// directory.
const fileName = "crdt"

// tmpFileName is the scratch file the new snapshot is written to before
// being renamed over fileName, so a crash mid-write leaves either the
// previous snapshot or the new one, never a half-written one.
const tmpFileName = "crdt.tmp"

// Attribute is one last-writer-wins key/value entry in a file's attribute
// map.
type Attribute struct {
	Key       string
	Timestamp uint32
	Value     string
}

// File is the on-disk representation of one tracked FileID's metadata.
type File struct {
	Site               uint32
	ID                 uint32
	FilenameTimestamp  uint32
	FilenameComponents []string
	PrintedFilename    string
	Attributes         []Attribute
}

// State is the full persisted shape of a replica: its counters and every
// tracked file. It carries no behavior — internal/fileset converts to and
// from its own in-memory representation.
type State struct {
	LastTimestamp uint32
	LastID        uint32
	SiteID        uint32
	Files         []File
}

// Path returns the snapshot file path under storageDir.
func Path(storageDir string) string {
	return filepath.Join(storageDir, fileName)
}

// Load reads the snapshot at storageDir, if any. ok is false when no
// snapshot file exists yet (a brand-new replica), which is not an error.
func Load(storageDir string) (s State, ok bool, err error) {
	f, err := os.Open(Path(storageDir))
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}

		return State{}, false, fmt.Errorf("snapshot: open: %w", err)
	}
	defer f.Close()

	s, err = Decode(bufio.NewReader(f))
	if err != nil {
		return State{}, false, fmt.Errorf("snapshot: decode: %w", err)
	}

	return s, true, nil
}

// Save atomically persists s to storageDir: it writes to a temp file,
// fsyncs it, then renames it over the live snapshot. A crash at any point
// leaves either the old or the new snapshot intact, never a partial one.
func Save(storageDir string, s State) error {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return fmt.Errorf("snapshot: creating storage dir: %w", err)
	}

	tmpPath := filepath.Join(storageDir, tmpFileName)

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("snapshot: creating temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := Encode(w, s); err != nil {
		f.Close()

		return fmt.Errorf("snapshot: encode: %w", err)
	}

	if err := w.Flush(); err != nil {
		f.Close()

		return fmt.Errorf("snapshot: flush: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("snapshot: fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, Path(storageDir)); err != nil {
		return fmt.Errorf("snapshot: rename into place: %w", err)
	}

	return nil
}

// Encode writes s to w in the wire format described in spec §6.
func Encode(w io.Writer, s State) error {
	if err := writeU32(w, s.LastTimestamp); err != nil {
		return err
	}
	if err := writeU32(w, s.LastID); err != nil {
		return err
	}
	if err := writeU32(w, s.SiteID); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(s.Files))); err != nil {
		return err
	}

	for _, file := range s.Files {
		if err := writeU32(w, file.Site); err != nil {
			return err
		}
		if err := writeU32(w, file.ID); err != nil {
			return err
		}
		if err := writeU32(w, file.FilenameTimestamp); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(file.FilenameComponents))); err != nil {
			return err
		}
		for _, c := range file.FilenameComponents {
			if err := writeString(w, c); err != nil {
				return err
			}
		}
		if err := writeString(w, file.PrintedFilename); err != nil {
			return err
		}
		if err := writeU32(w, uint32(len(file.Attributes))); err != nil {
			return err
		}
		for _, attr := range file.Attributes {
			if err := writeString(w, attr.Key); err != nil {
				return err
			}
			if err := writeU32(w, attr.Timestamp); err != nil {
				return err
			}
			if err := writeString(w, attr.Value); err != nil {
				return err
			}
		}
	}

	return nil
}

// Decode reads a State from r in the wire format described in spec §6.
// Non-UTF-8 string bytes are lossy-decoded to U+FFFD, matching the
// original implementation's behavior.
func Decode(r io.Reader) (State, error) {
	var s State

	lastTimestamp, err := readU32(r)
	if err != nil {
		return State{}, fmt.Errorf("last_timestamp: %w", err)
	}
	s.LastTimestamp = lastTimestamp

	lastID, err := readU32(r)
	if err != nil {
		return State{}, fmt.Errorf("last_id: %w", err)
	}
	s.LastID = lastID

	siteID, err := readU32(r)
	if err != nil {
		return State{}, fmt.Errorf("site_id: %w", err)
	}
	s.SiteID = siteID

	fileCount, err := readU32(r)
	if err != nil {
		return State{}, fmt.Errorf("file_count: %w", err)
	}

	s.Files = make([]File, 0, fileCount)

	for i := uint32(0); i < fileCount; i++ {
		var file File

		file.Site, err = readU32(r)
		if err != nil {
			return State{}, fmt.Errorf("file[%d] site_id: %w", i, err)
		}
		file.ID, err = readU32(r)
		if err != nil {
			return State{}, fmt.Errorf("file[%d] id: %w", i, err)
		}
		file.FilenameTimestamp, err = readU32(r)
		if err != nil {
			return State{}, fmt.Errorf("file[%d] filename_timestamp: %w", i, err)
		}

		componentCount, err := readU32(r)
		if err != nil {
			return State{}, fmt.Errorf("file[%d] filename_component_count: %w", i, err)
		}

		file.FilenameComponents = make([]string, componentCount)
		for j := uint32(0); j < componentCount; j++ {
			c, err := readString(r)
			if err != nil {
				return State{}, fmt.Errorf("file[%d] filename[%d]: %w", i, j, err)
			}
			file.FilenameComponents[j] = c
		}

		file.PrintedFilename, err = readString(r)
		if err != nil {
			return State{}, fmt.Errorf("file[%d] printed_filename: %w", i, err)
		}

		attrCount, err := readU32(r)
		if err != nil {
			return State{}, fmt.Errorf("file[%d] attribute_count: %w", i, err)
		}

		file.Attributes = make([]Attribute, attrCount)
		for k := uint32(0); k < attrCount; k++ {
			key, err := readString(r)
			if err != nil {
				return State{}, fmt.Errorf("file[%d] attr[%d] key: %w", i, k, err)
			}

			ts, err := readU32(r)
			if err != nil {
				return State{}, fmt.Errorf("file[%d] attr[%d] timestamp: %w", i, k, err)
			}

			val, err := readString(r)
			if err != nil {
				return State{}, fmt.Errorf("file[%d] attr[%d] value: %w", i, k, err)
			}

			file.Attributes[k] = Attribute{Key: key, Timestamp: ts, Value: val}
		}

		s.Files = append(s.Files, file)
	}

	return s, nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])

	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)

	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	if !utf8.Valid(buf) {
		return toValidUTF8(buf), nil
	}

	return string(buf), nil
}

// toValidUTF8 lossy-decodes buf, replacing invalid sequences with U+FFFD,
// matching Rust's String::from_utf8_lossy behavior that the original
// implementation relied on.
func toValidUTF8(buf []byte) string {
	out := make([]rune, 0, len(buf))

	for len(buf) > 0 {
		r, size := utf8.DecodeRune(buf)
		out = append(out, r)
		buf = buf[size:]
	}

	return string(out)
}
