// Package ingest imports share-scan CSV exports into the file catalog.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ferret-scan/ferret/pkg/catalog"
	"github.com/ferret-scan/ferret/pkg/models"
)

// requiredColumns are the scan export columns this importer consumes.
var requiredColumns = []string{
	"Name", "Host", "Extension", "UNCDirectory", "FileSize",
	"Owner", "FastHash", "LastWriteTime", "FileAttributes", "FileSignature",
}

// Result reports the outcome of one CSV import.
type Result struct {
	Imported int
	Skipped  int
	Errors   []string
}

// Parser reads scan CSV files in chunks and feeds them to the catalog.
type Parser struct {
	chunkSize int
	log       logrus.FieldLogger
}

// New creates a Parser. chunkSize bounds how many rows are imported per
// write transaction.
func New(chunkSize int, log logrus.FieldLogger) *Parser {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Parser{chunkSize: chunkSize, log: log}
}

// Parse imports csvPath into cat. Malformed rows are reported in the
// result, not fatal to the run.
func (p *Parser) Parse(ctx context.Context, csvPath string, cat *catalog.Catalog) (*Result, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	line := 1
	batch := make([]models.FileRecord, 0, p.chunkSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := cat.ImportFiles(ctx, batch)
		if err != nil {
			return err
		}
		result.Imported += n
		result.Skipped += len(batch) - n
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		record, err := rowToRecord(row, cols)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		batch = append(batch, record)

		if len(batch) >= p.chunkSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	p.log.WithFields(logrus.Fields{
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"errors":   len(result.Errors),
	}).Info("csv import finished")
	return result, nil
}

func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("csv missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func rowToRecord(row []string, cols map[string]int) (models.FileRecord, error) {
	field := func(name string) string {
		idx := cols[name]
		if idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	name := field("Name")
	dir := field("UNCDirectory")
	if name == "" || dir == "" {
		return models.FileRecord{}, fmt.Errorf("missing name or directory")
	}

	size, err := strconv.ParseInt(field("FileSize"), 10, 64)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("bad FileSize: %w", err)
	}

	lastModified, err := parseScanTime(field("LastWriteTime"))
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("bad LastWriteTime: %w", err)
	}

	return models.FileRecord{
		Name:         name,
		Host:         field("Host"),
		Extension:    field("Extension"),
		Path:         strings.TrimRight(dir, `\`) + `\` + name,
		Size:         size,
		Owner:        field("Owner"),
		FastHash:     field("FastHash"),
		Attributes:   field("FileAttributes"),
		Signature:    field("FileSignature"),
		LastModified: lastModified,
	}, nil
}

// parseScanTime accepts the timestamp formats seen in scan exports.
func parseScanTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"01/02/2006 15:04:05",
	} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}
