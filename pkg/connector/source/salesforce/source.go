package salesforce

import (
	"context"

	"go.uber.org/zap"

	"github.com/crestdata/forcesync/pkg/clients"
	"github.com/crestdata/forcesync/pkg/config"
	"github.com/crestdata/forcesync/pkg/connector/core"
	"github.com/crestdata/forcesync/pkg/connector/registry"
	"github.com/crestdata/forcesync/pkg/errors"
	"github.com/crestdata/forcesync/pkg/logger"
	"github.com/crestdata/forcesync/pkg/salesforce"
	"github.com/crestdata/forcesync/pkg/salesforce/bulk"
	"github.com/crestdata/forcesync/pkg/salesforce/rest"
)

func init() {
	registry.MustRegisterSource("salesforce", func(ctx context.Context, cfg *config.SyncConfig) (core.Source, error) {
		return NewSource(ctx, cfg)
	})
}

// subStreamLink declares a known parent-keyed entity.
type subStreamLink struct {
	parentEntity string
	parentKey    string
	childField   string
}

// subStreamLinks maps entities that must be read through their parent's
// keys instead of a time cursor.
var subStreamLinks = map[string]subStreamLink{
	"ContentDocumentLink": {parentEntity: "ContentDocument", parentKey: "Id", childField: "ContentDocumentId"},
}

// Source is the Salesforce connector.
type Source struct {
	cfg     *config.SyncConfig
	client  *salesforce.Client
	querier *rest.Querier
	jobs    *bulk.Manager
	logger  *zap.Logger
}

// NewSource builds the connector and logs in.
func NewSource(ctx context.Context, cfg *config.SyncConfig) (*Source, error) {
	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RequestTimeout = cfg.Timeouts.Request
	if cfg.Reliability.IsRateLimited() {
		httpCfg.RateLimit = float64(cfg.Reliability.RateLimitPerSec)
		httpCfg.RateBurst = cfg.Reliability.RateLimitPerSec
	}

	client := salesforce.NewClient(cfg.Salesforce, clients.NewHTTPClient(httpCfg, logger.Get()))
	if err := client.Login(ctx); err != nil {
		return nil, err
	}

	return &Source{
		cfg:     cfg,
		client:  client,
		querier: rest.NewQuerier(client, cfg.Salesforce.QueryAll),
		jobs:    bulk.NewManager(client, cfg.Timeouts),
		logger:  logger.Get().With(zap.String("component", "salesforce_source")),
	}, nil
}

// Check verifies the credentials by listing the org's objects. A spent
// request quota reports the fixed rate-limit message.
func (s *Source) Check(ctx context.Context) error {
	if _, err := s.client.ListObjects(ctx); err != nil {
		if errors.IsRateLimit(err) {
			return errors.Wrap(err, errors.ErrorTypeRateLimit, salesforce.RateLimitMessage)
		}
		return err
	}
	return nil
}

// Discover lists the queryable entities and their schemas.
func (s *Source) Discover(ctx context.Context) ([]core.StreamDescriptor, error) {
	objects, err := s.client.ListObjects(ctx)
	if err != nil {
		return nil, err
	}

	var out []core.StreamDescriptor
	for _, obj := range objects {
		if !obj.Queryable {
			continue
		}
		desc, err := s.client.DescribeEntity(ctx, obj.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, core.StreamDescriptor{
			Name:        desc.Name,
			PrimaryKey:  desc.PrimaryKey(),
			CursorField: cursorFieldFor(desc),
			Fields:      desc.FieldNames(),
		})
	}

	s.logger.Info("discovered streams", zap.Int("count", len(out)))
	return out, nil
}

// Streams builds the streams named by the configured catalog, in catalog
// order. An empty catalog selects every queryable entity in discovery
// order.
func (s *Source) Streams(ctx context.Context) ([]core.Stream, error) {
	catalog := s.cfg.Streams
	if len(catalog) == 0 {
		objects, err := s.client.ListObjects(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range objects {
			if obj.Queryable {
				catalog = append(catalog, config.StreamConfig{Name: obj.Name})
			}
		}
	}

	streams := make([]core.Stream, 0, len(catalog))
	for _, sc := range catalog {
		desc, err := s.client.DescribeEntity(ctx, sc.Name)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to describe configured stream %s", sc.Name)
		}

		fullRefresh := sc.SyncMode == "full_refresh"

		if link, ok := subStreamLinks[sc.Name]; ok {
			stream, err := s.buildSubStream(ctx, desc, link, fullRefresh)
			if err != nil {
				return nil, err
			}
			streams = append(streams, stream)
			continue
		}

		stream, err := NewStream(s.client, s.querier, s.jobs, s.cfg, desc, fullRefresh)
		if err != nil {
			return nil, err
		}
		streams = append(streams, stream)
	}

	return streams, nil
}

func (s *Source) buildSubStream(ctx context.Context, desc *salesforce.EntityDescriptor, link subStreamLink, fullRefresh bool) (core.Stream, error) {
	parentDesc, err := s.client.DescribeEntity(ctx, link.parentEntity)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to describe parent stream %s", link.parentEntity)
	}

	parent, err := NewStream(s.client, s.querier, s.jobs, s.cfg, parentDesc, fullRefresh)
	if err != nil {
		return nil, err
	}

	return NewSubStream(s.client, s.querier, s.cfg, desc, ParentLink{
		Parent:     parent,
		ParentKey:  link.parentKey,
		ChildField: link.childField,
	})
}
