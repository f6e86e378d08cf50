// Package rest implements the REST query read path: SOQL pagination via
// nextRecordsUrl, and property chunking for entities whose field list does
// not fit in a single query URL.
package rest

import (
	"net/url"

	"github.com/crestdata/forcesync/pkg/errors"
	"github.com/crestdata/forcesync/pkg/salesforce"
)

// ChunkProperties splits a field list into chunks whose URL-encoded SELECT
// clauses each stay under the request size limit. The primary key leads
// every chunk so results can be merged back into whole records.
func ChunkProperties(fields []string, pk string) ([][]string, error) {
	if pk == "" {
		return nil, errors.New(errors.ErrorTypeCapability,
			"entity has too many fields for a single request and no primary key to merge chunks on")
	}

	budget := salesforce.RequestSizeLimit - chunkOverhead

	pkCost := encodedCost(pk)

	var chunks [][]string
	current := []string{pk}
	size := pkCost

	for _, f := range fields {
		if f == pk {
			continue
		}
		cost := encodedCost(f)
		if size+cost > budget && len(current) > 1 {
			chunks = append(chunks, current)
			current = []string{pk}
			size = pkCost
		}
		current = append(current, f)
		size += cost
	}
	if len(current) > 1 || len(chunks) == 0 {
		chunks = append(chunks, current)
	}

	return chunks, nil
}

// chunkOverhead reserves room in the URL budget for everything besides the
// encoded field list: host, path, SELECT/FROM/WHERE and slice bounds.
const chunkOverhead = 2000

// NeedsChunking reports whether a field list is too long for a single
// query URL.
func NeedsChunking(fields []string) bool {
	budget := salesforce.RequestSizeLimit - chunkOverhead

	size := 0
	for _, f := range fields {
		size += encodedCost(f)
		if size > budget {
			return true
		}
	}
	return false
}

// encodedCost is the URL-encoded length of one field plus its separator.
func encodedCost(field string) int {
	return len(url.QueryEscape(field)) + len("%2C")
}

// Accumulator merges per-chunk partial records into whole records keyed by
// the primary key. Merging is a union; chunk order does not matter and a
// later chunk never removes a field set by an earlier one.
type Accumulator struct {
	pk      string
	order   []string
	records map[string]map[string]interface{}
}

// NewAccumulator creates an accumulator merging on the given primary key.
func NewAccumulator(pk string) *Accumulator {
	return &Accumulator{
		pk:      pk,
		records: make(map[string]map[string]interface{}),
	}
}

// Upsert merges one partial record. Records without the primary key are
// rejected; they cannot be joined to anything.
func (a *Accumulator) Upsert(partial map[string]interface{}) error {
	key, ok := partial[a.pk].(string)
	if !ok || key == "" {
		return errors.Newf(errors.ErrorTypeData, "record is missing merge key %s", a.pk)
	}

	existing, seen := a.records[key]
	if !seen {
		existing = make(map[string]interface{}, len(partial))
		a.records[key] = existing
		a.order = append(a.order, key)
	}
	for field, value := range partial {
		existing[field] = value
	}
	return nil
}

// Len returns the number of distinct records accumulated.
func (a *Accumulator) Len() int {
	return len(a.records)
}

// Records returns merged records in first-seen order.
func (a *Accumulator) Records() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, a.records[key])
	}
	return out
}
