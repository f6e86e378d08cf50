package salesforce

import (
	"context"

	"go.uber.org/zap"
)

// Compound field types that the bulk query API cannot export. Entities with
// any of these fall back to the REST read path.
const (
	FieldTypeAddress  = "address"
	FieldTypeLocation = "location"
)

// FieldDescriptor is one field of an entity's describe response.
type FieldDescriptor struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// EntityDescriptor is the subset of an sObject describe that stream
// construction needs.
type EntityDescriptor struct {
	Name      string            `json:"name"`
	Queryable bool              `json:"queryable"`
	Fields    []FieldDescriptor `json:"fields"`
}

// FieldNames returns the field names in describe order.
func (d *EntityDescriptor) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		names = append(names, f.Name)
	}
	return names
}

// HasCompoundFields reports whether any field has a compound type.
func (d *EntityDescriptor) HasCompoundFields() bool {
	for _, f := range d.Fields {
		if f.Type == FieldTypeAddress || f.Type == FieldTypeLocation {
			return true
		}
	}
	return false
}

// HasField reports whether the entity exposes the named field.
func (d *EntityDescriptor) HasField(name string) bool {
	for _, f := range d.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// PrimaryKey returns "Id" when the entity has one, otherwise "".
func (d *EntityDescriptor) PrimaryKey() string {
	if d.HasField("Id") {
		return "Id"
	}
	return ""
}

// ListObjects returns the org's sObjects.
func (c *Client) ListObjects(ctx context.Context) ([]EntityDescriptor, error) {
	var payload struct {
		SObjects []EntityDescriptor `json:"sobjects"`
	}
	if err := c.GetJSON(ctx, c.RestURL("sobjects"), "describe", &payload); err != nil {
		return nil, err
	}

	c.logger.Debug("listed objects", zap.Int("count", len(payload.SObjects)))
	return payload.SObjects, nil
}

// DescribeEntity fetches the field metadata for one entity.
func (c *Client) DescribeEntity(ctx context.Context, name string) (*EntityDescriptor, error) {
	var desc EntityDescriptor
	if err := c.GetJSON(ctx, c.RestURL("sobjects", name, "describe"), "describe", &desc); err != nil {
		return nil, err
	}
	if desc.Name == "" {
		desc.Name = name
	}
	return &desc, nil
}
