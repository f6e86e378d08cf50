package salesforce

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestdata/forcesync/pkg/clients"
	"github.com/crestdata/forcesync/pkg/logger"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewStaticClient(server.URL, "test-token", clients.NewHTTPClient(nil, logger.Get()))
}

func TestEntityDescriptorCompoundFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []FieldDescriptor
		want   bool
	}{
		{"address", []FieldDescriptor{{Name: "Id", Type: "id"}, {Name: "BillingAddress", Type: "address"}}, true},
		{"location", []FieldDescriptor{{Name: "Id", Type: "id"}, {Name: "Geo", Type: "location"}}, true},
		{"plain", []FieldDescriptor{{Name: "Id", Type: "id"}, {Name: "Name", Type: "string"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := EntityDescriptor{Name: "X", Fields: tt.fields}
			assert.Equal(t, tt.want, desc.HasCompoundFields())
		})
	}
}

func TestEntityDescriptorPrimaryKey(t *testing.T) {
	withID := EntityDescriptor{Fields: []FieldDescriptor{{Name: "Id", Type: "id"}}}
	assert.Equal(t, "Id", withID.PrimaryKey())

	noID := EntityDescriptor{Fields: []FieldDescriptor{{Name: "Name", Type: "string"}}}
	assert.Equal(t, "", noID.PrimaryKey())
}

func TestListObjects(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/services/data/v57.0/sobjects", r.URL.Path)
		fmt.Fprint(w, `{"sobjects":[{"name":"Account","queryable":true},{"name":"AccountFeed","queryable":false}]}`)
	}))

	objects, err := client.ListObjects(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "Account", objects[0].Name)
	assert.True(t, objects[0].Queryable)
	assert.False(t, objects[1].Queryable)
}

func TestDescribeEntity(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/services/data/v57.0/sobjects/Account/describe", r.URL.Path)
		fmt.Fprint(w, `{"name":"Account","queryable":true,"fields":[{"name":"Id","type":"id"},{"name":"Name","type":"string"},{"name":"SystemModstamp","type":"datetime"}]}`)
	}))

	desc, err := client.DescribeEntity(context.Background(), "Account")
	require.NoError(t, err)
	assert.Equal(t, "Account", desc.Name)
	assert.Equal(t, []string{"Id", "Name", "SystemModstamp"}, desc.FieldNames())
	assert.True(t, desc.HasField("SystemModstamp"))
}
