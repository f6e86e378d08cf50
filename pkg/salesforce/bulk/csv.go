package bulk

import (
	"encoding/csv"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/crestdata/forcesync/pkg/errors"
	"github.com/crestdata/forcesync/pkg/logger"
)

// CSVFieldSizeLimit bounds a single CSV field. Long text areas can exceed
// the common 128 KiB parser default, so the ceiling sits well above it.
const CSVFieldSizeLimit = 20 * 1024 * 1024

// nulStripper is a transform.Transformer that drops NUL bytes. Salesforce
// occasionally emits them inside CSV exports and they break parsing.
type nulStripper struct{}

func (nulStripper) Reset() {}

func (nulStripper) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		b := src[nSrc]
		if b == 0 {
			nSrc++
			continue
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = b
		nDst++
		nSrc++
	}
	return nDst, nSrc, nil
}

// Spool is one result page downloaded to a temp file. Spooling to disk keeps
// memory flat for wide entities and makes page re-reads cheap.
type Spool struct {
	Path string
	Size int64
}

// NewSpool drains an HTTP response body into a temp file, decoding gzip and
// the declared charset and stripping NUL bytes on the way.
func NewSpool(resp *http.Response) (*Spool, error) {
	var body io.Reader = resp.Body

	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open gzip stream")
		}
		defer gz.Close()
		body = gz
	}

	decoded, err := charset.NewReader(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to resolve response charset")
	}

	return spoolReader(transform.NewReader(decoded, nulStripper{}))
}

// SpoolReader spools an already-decoded CSV stream. Used by tests and by
// callers that bypass HTTP.
func SpoolReader(r io.Reader) (*Spool, error) {
	return spoolReader(transform.NewReader(r, nulStripper{}))
}

func spoolReader(r io.Reader) (*Spool, error) {
	f, err := os.CreateTemp("", "forcesync-bulk-*.csv")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create spool file")
	}

	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to spool results")
	}

	logger.Get().Debug("spooled result page",
		zap.String("component", "bulk_csv"),
		zap.String("path", f.Name()),
		zap.Int64("bytes", size))

	return &Spool{Path: f.Name(), Size: size}, nil
}

// Remove deletes the spool file.
func (s *Spool) Remove() error {
	return os.Remove(s.Path)
}

// ChunkReader iterates the records of a spooled CSV page. Re-reading the
// same spool yields identical records in identical order.
type ChunkReader struct {
	file       *os.File
	csv        *csv.Reader
	header     []string
	fieldLimit int
}

// Open starts reading a spool from the beginning.
func (s *Spool) Open() (*ChunkReader, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to open spool file")
	}

	r := csv.NewReader(f)
	r.ReuseRecord = false

	header, err := r.Read()
	if err == io.EOF {
		// A page with no rows has no header either.
		return &ChunkReader{file: f, csv: r, fieldLimit: CSVFieldSizeLimit}, nil
	}
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read CSV header")
	}

	return &ChunkReader{file: f, csv: r, header: header, fieldLimit: CSVFieldSizeLimit}, nil
}

// Header returns the column names in file order.
func (r *ChunkReader) Header() []string {
	return r.header
}

// Next returns the next record, or io.EOF when the page is exhausted.
// Empty values decode to nil so downstream JSON carries explicit nulls.
func (r *ChunkReader) Next() (map[string]interface{}, error) {
	if r.header == nil {
		return nil, io.EOF
	}

	row, err := r.csv.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read CSV row")
	}

	record := make(map[string]interface{}, len(r.header))
	for i, col := range r.header {
		if i >= len(row) {
			record[col] = nil
			continue
		}
		if len(row[i]) > r.fieldLimit {
			return nil, errors.Newf(errors.ErrorTypeData,
				"CSV field %s exceeds the %d byte limit", col, r.fieldLimit)
		}
		if row[i] == "" {
			record[col] = nil
		} else {
			record[col] = row[i]
		}
	}
	return record, nil
}

// Close releases the underlying file.
func (r *ChunkReader) Close() error {
	return r.file.Close()
}
