package bulk

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestdata/forcesync/pkg/errors"
)

func readAll(t *testing.T, spool *Spool) []map[string]interface{} {
	t.Helper()

	reader, err := spool.Open()
	require.NoError(t, err)
	defer reader.Close()

	var out []map[string]interface{}
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestSpoolReaderParsesRecords(t *testing.T) {
	csv := "Id,Name,Industry\na1,Acme,Mining\na2,Globex,\n"

	spool, err := SpoolReader(strings.NewReader(csv))
	require.NoError(t, err)
	defer spool.Remove()

	records := readAll(t, spool)
	require.Len(t, records, 2)
	assert.Equal(t, map[string]interface{}{"Id": "a1", "Name": "Acme", "Industry": "Mining"}, records[0])

	// Empty values decode to explicit nulls.
	assert.Equal(t, map[string]interface{}{"Id": "a2", "Name": "Globex", "Industry": nil}, records[1])
}

func TestSpoolReaderStripsNulBytes(t *testing.T) {
	clean := "Id,Name\na1,Acme\na2,Globex\n"
	dirty := "Id,Na\x00me\na1,Ac\x00\x00me\na2,Globex\x00\n"

	cleanSpool, err := SpoolReader(strings.NewReader(clean))
	require.NoError(t, err)
	defer cleanSpool.Remove()

	dirtySpool, err := SpoolReader(strings.NewReader(dirty))
	require.NoError(t, err)
	defer dirtySpool.Remove()

	assert.Equal(t, readAll(t, cleanSpool), readAll(t, dirtySpool))
}

func TestSpoolHeaderOrderPreserved(t *testing.T) {
	spool, err := SpoolReader(strings.NewReader("Zeta,Alpha,Mid\n1,2,3\n"))
	require.NoError(t, err)
	defer spool.Remove()

	reader, err := spool.Open()
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, []string{"Zeta", "Alpha", "Mid"}, reader.Header())
}

func TestSpoolRereadIsIdempotent(t *testing.T) {
	spool, err := SpoolReader(strings.NewReader("Id,Name\na1,Acme\na2,Globex\na3,Initech\n"))
	require.NoError(t, err)
	defer spool.Remove()

	first := readAll(t, spool)
	second := readAll(t, spool)
	assert.Equal(t, first, second)
}

func TestSpoolEmptyPage(t *testing.T) {
	spool, err := SpoolReader(strings.NewReader(""))
	require.NoError(t, err)
	defer spool.Remove()

	records := readAll(t, spool)
	assert.Empty(t, records)
}

func TestNewSpoolDecodesGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("Id,Name\na1,Acme\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	resp := &http.Response{
		Header: http.Header{
			"Content-Encoding": []string{"gzip"},
			"Content-Type":     []string{"text/csv; charset=utf-8"},
		},
		Body: io.NopCloser(&buf),
	}

	spool, err := NewSpool(resp)
	require.NoError(t, err)
	defer spool.Remove()

	records := readAll(t, spool)
	require.Len(t, records, 1)
	assert.Equal(t, "Acme", records[0]["Name"])
}

func TestNextRejectsOversizedField(t *testing.T) {
	spool, err := SpoolReader(strings.NewReader("Id,Description\na1,short\na2," + strings.Repeat("x", 64) + "\n"))
	require.NoError(t, err)
	defer spool.Remove()

	reader, err := spool.Open()
	require.NoError(t, err)
	defer reader.Close()
	reader.fieldLimit = 32

	rec, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "short", rec["Description"])

	_, err = reader.Next()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Contains(t, err.Error(), "Description")
}

func TestSpoolRemoveDeletesFile(t *testing.T) {
	spool, err := SpoolReader(strings.NewReader("Id\na1\n"))
	require.NoError(t, err)

	require.NoError(t, spool.Remove())
	_, err = spool.Open()
	assert.Error(t, err)
}
