package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"github.com/klauspost/compress/zstd"

	"github.com/coffersTech/iotrace/internal/model"
)

var ErrNotArtifact = errors.New("not an artifact name")

// zstd frame magic, little endian 0xFD2FB528
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var artifactName = regexp.MustCompile(`^([0-9]+)_([^/\\]+)$`)

const maxLine = 1 << 20

// ArtifactReader iterates the records of one artifact.
type ArtifactReader struct {
	file    *os.File
	decoder *zstd.Decoder
	scanner *bufio.Scanner

	line   int
	record model.Record
	err    error
}

// OpenArtifact opens an artifact written with either codec.
func OpenArtifact(path string) (*ArtifactReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(f)
	var src io.Reader = br

	ar := &ArtifactReader{file: f}
	head, err := br.Peek(len(zstdMagic))
	if err == nil && bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			f.Close()
			return nil, err
		}
		ar.decoder = dec
		src = dec
	}

	ar.scanner = bufio.NewScanner(src)
	ar.scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	return ar, nil
}

// Next advances to the next record.
func (ar *ArtifactReader) Next() bool {
	if ar.err != nil {
		return false
	}
	for ar.scanner.Scan() {
		ar.line++
		text := ar.scanner.Text()
		if text == "" {
			continue
		}
		rec, err := model.ParseLine(text)
		if err != nil {
			ar.err = fmt.Errorf("%s:%d: %w", ar.file.Name(), ar.line, err)
			return false
		}
		ar.record = rec
		return true
	}
	ar.err = ar.scanner.Err()
	return false
}

// Record returns the current record.
func (ar *ArtifactReader) Record() model.Record {
	return ar.record
}

// Err returns the first error met while iterating.
func (ar *ArtifactReader) Err() error {
	return ar.err
}

// Close releases the file and decoder.
func (ar *ArtifactReader) Close() error {
	if ar.decoder != nil {
		ar.decoder.Close()
	}
	return ar.file.Close()
}

// ReadArtifact decodes every record of an artifact.
func ReadArtifact(path string) ([]model.Record, error) {
	ar, err := OpenArtifact(path)
	if err != nil {
		return nil, err
	}
	defer ar.Close()

	var out []model.Record
	for ar.Next() {
		out = append(out, ar.Record())
	}
	return out, ar.Err()
}

// ParseArtifactName splits an artifact file name into process and thread id,
// reversing EscapeThreadKey.
func ParseArtifactName(name string) (processID, threadKey string, err error) {
	m := artifactName.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", "", ErrNotArtifact
	}
	threadKey, err = url.PathUnescape(m[2])
	if err != nil {
		return "", "", ErrNotArtifact
	}
	return m[1], threadKey, nil
}

// ListArtifacts returns the artifact paths in dir, sorted by name.
func ListArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, _, err := ParseArtifactName(e.Name()); err != nil {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
