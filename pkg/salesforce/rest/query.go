package rest

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/crestdata/forcesync/pkg/errors"
	"github.com/crestdata/forcesync/pkg/logger"
	"github.com/crestdata/forcesync/pkg/salesforce"
)

// queryResponse is one page of a REST query.
type queryResponse struct {
	TotalSize      int                      `json:"totalSize"`
	Done           bool                     `json:"done"`
	NextRecordsURL string                   `json:"nextRecordsUrl"`
	Records        []map[string]interface{} `json:"records"`
}

// Querier runs SOQL queries over the REST API with nextRecordsUrl
// pagination.
type Querier struct {
	client *salesforce.Client
	logger *zap.Logger

	// queryAll includes deleted and archived records.
	queryAll bool
}

// NewQuerier creates a querier. queryAll selects the queryAll endpoint,
// which includes soft-deleted rows.
func NewQuerier(client *salesforce.Client, queryAll bool) *Querier {
	return &Querier{
		client:   client,
		logger:   logger.Get().With(zap.String("component", "rest_query")),
		queryAll: queryAll,
	}
}

func (q *Querier) endpoint() string {
	if q.queryAll {
		return "queryAll"
	}
	return "query"
}

// QueryURL builds the first-page URL for a SOQL query.
func (q *Querier) QueryURL(soql string) string {
	return q.client.RestURL(q.endpoint()) + "?q=" + url.QueryEscape(soql)
}

// Query runs a SOQL query and streams each record to emit, following
// nextRecordsUrl until the last page. Record cleanup drops the vendor's
// per-record "attributes" envelope.
func (q *Querier) Query(ctx context.Context, soql string, emit func(map[string]interface{}) error) error {
	pageURL := q.QueryURL(soql)

	for pageURL != "" {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "query canceled")
		}

		var page queryResponse
		if err := q.client.GetJSON(ctx, pageURL, "query", &page); err != nil {
			return err
		}

		for _, record := range page.Records {
			delete(record, "attributes")
			if err := emit(record); err != nil {
				return err
			}
		}

		if page.Done || page.NextRecordsURL == "" {
			return nil
		}
		pageURL = q.client.InstanceURL() + page.NextRecordsURL
	}
	return nil
}

// QueryAllRecords runs a query and collects every record in memory. Meant
// for bounded result sets such as chunked property reads.
func (q *Querier) QueryAllRecords(ctx context.Context, soql string) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	err := q.Query(ctx, soql, func(r map[string]interface{}) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
