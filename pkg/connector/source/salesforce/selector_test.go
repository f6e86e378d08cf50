package salesforce

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestdata/forcesync/pkg/connector/core"
	"github.com/crestdata/forcesync/pkg/salesforce"
)

func plainFields(names ...string) []salesforce.FieldDescriptor {
	fields := make([]salesforce.FieldDescriptor, 0, len(names))
	for _, n := range names {
		typ := "string"
		if n == "Id" {
			typ = "id"
		}
		fields = append(fields, salesforce.FieldDescriptor{Name: n, Type: typ})
	}
	return fields
}

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name string
		desc salesforce.EntityDescriptor
		want core.Strategy
	}{
		{
			name: "plain entity uses bulk",
			desc: salesforce.EntityDescriptor{Name: "Opportunity", Fields: plainFields("Id", "Name")},
			want: core.StrategyBulk,
		},
		{
			name: "compound address field forces rest",
			desc: salesforce.EntityDescriptor{Name: "Account", Fields: append(plainFields("Id", "Name"),
				salesforce.FieldDescriptor{Name: "BillingAddress", Type: "address"})},
			want: core.StrategyRest,
		},
		{
			name: "compound location field forces rest",
			desc: salesforce.EntityDescriptor{Name: "Shipment", Fields: append(plainFields("Id"),
				salesforce.FieldDescriptor{Name: "CurrentLocation", Type: "location"})},
			want: core.StrategyRest,
		},
		{
			name: "bulk-unsupported entity forces rest",
			desc: salesforce.EntityDescriptor{Name: "AcceptedEventRelation", Fields: plainFields("Id", "RelationId")},
			want: core.StrategyRest,
		},
		{
			name: "wide entity with primary key uses chunked rest",
			desc: salesforce.EntityDescriptor{Name: "WideThing", Fields: wideFields(t)},
			want: core.StrategyRest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectStrategy(&tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// wideFields is a field list long enough to need property chunking.
func wideFields(t *testing.T) []salesforce.FieldDescriptor {
	t.Helper()
	fields := []salesforce.FieldDescriptor{{Name: "Id", Type: "id"}}
	for i := 0; i < 1000; i++ {
		fields = append(fields, salesforce.FieldDescriptor{
			Name: fmt.Sprintf("Very_Long_Custom_Field_Name_Number_%04d__c", i),
			Type: "string",
		})
	}
	return fields
}

func TestSelectStrategyChunkingWithoutPrimaryKey(t *testing.T) {
	desc := salesforce.EntityDescriptor{Name: "WideThing", Fields: wideFields(t)[1:]}
	require.Equal(t, "", desc.PrimaryKey())

	_, err := SelectStrategy(&desc)
	assert.Error(t, err)
}
