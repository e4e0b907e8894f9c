package stops

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// Row is one source record keyed by its header column name.
type Row map[string]string

const (
	utf16SniffWindow   = 2000
	utf16NulThreshold  = 10
	sourceSampleRunes  = 300
	maxSourceFileBytes = 512 * 1024 * 1024
	utf8ByteOrderMark  = "\ufeff"
)

// looksUTF16 applies the NUL-density heuristic: ASCII text encoded as
// UTF-16 has a zero byte in every other position.
func looksUTF16(b []byte) bool {
	window := b
	if len(window) > utf16SniffWindow {
		window = window[:utf16SniffWindow]
	}
	return bytes.Count(window, []byte{0}) > utf16NulThreshold
}

// decodeText returns the source as UTF-8 without a byte order mark.
func decodeText(b []byte) (string, bool, error) {
	utf16 := looksUTF16(b)
	if utf16 {
		decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(b)
		if err != nil {
			return "", true, fmt.Errorf("failed to decode UTF-16 source: %w", err)
		}
		b = decoded
	}
	return strings.TrimPrefix(string(b), utf8ByteOrderMark), utf16, nil
}

// ReadCSV parses a stop export. Ragged rows are accepted, blank rows are
// skipped and header names are trimmed.
func ReadCSV(r io.Reader) ([]Row, error) {
	return readCSV(r, maxSourceFileBytes)
}

// readCSV is ReadCSV with an explicit size cap. Sources over limit are
// rejected rather than parsed short.
func readCSV(r io.Reader, limit int64) ([]Row, error) {
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read stop source: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("stop source exceeds size limit of %d bytes", limit)
	}
	text, _, err := decodeText(raw)
	if err != nil {
		return nil, err
	}
	return parseCSV(text)
}

func parseCSV(text string) ([]Row, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stop source header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read stop source: %w", err)
		}
		if blankRecord(record) {
			continue
		}

		row := make(Row, len(header))
		for i, column := range header {
			if i < len(record) {
				row[column] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// LoadFile reads and indexes the stop export at path.
func LoadFile(path string, aliases Aliases) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SourceUnavailableError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	rows, err := ReadCSV(f)
	if err != nil {
		return nil, &SourceUnavailableError{Path: path, Err: err}
	}
	return Load(rows, aliases), nil
}

// SourceInfo describes the stop export on disk for diagnostics.
type SourceInfo struct {
	Path        string `json:"naptanFile"`
	Exists      bool   `json:"exists"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
	LooksUTF16  bool   `json:"looksUtf16"`
	FirstLine   string `json:"firstLine,omitempty"`
	Sample      string `json:"sampleFirst300Chars,omitempty"`
	RowsLoaded  int    `json:"rowsLoaded"`
	RowsDropped int    `json:"rowsDropped"`
	Error       string `json:"error,omitempty"`
}

// Inspect reports what the stop export at path looks like without indexing
// it. A missing file is reported through Exists, not as an error.
func Inspect(path string) SourceInfo {
	info := SourceInfo{Path: path}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return info
	}
	info.Exists = true
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.SizeBytes = int64(len(raw))

	text, utf16, err := decodeText(raw)
	info.LooksUTF16 = utf16
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.FirstLine = firstNonEmptyLine(text)
	info.Sample = firstRunes(text, sourceSampleRunes)
	return info
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

func firstRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
