// Package forcesync is a Salesforce sync engine that replicates entities
// incrementally, choosing between the Bulk API 2.0 and the REST query API
// per entity and emitting records and state checkpoints as JSON lines.
//
// # Architecture
//
// A sync run flows through five cooperating components:
//
// 1. Stream Selector: inspects each entity's describe metadata and picks a
// read strategy. Entities with compound fields (address, location) or on
// the bulk API's unsupported list read over REST; everything else reads
// over bulk CSV export.
//
// 2. Job Poller: submits bulk query jobs and polls them to a terminal
// state under a fixed deadline. An entity the bulk API rejects at
// submission falls back to REST transparently.
//
// 3. CSV Chunk Reader: spools each locator-paged result download to a temp
// file (gzip and charset decoded, NUL bytes stripped) and parses it into
// records with explicit nulls for empty values.
//
// 4. Property Chunker: when an entity's field list cannot fit in one query
// URL, splits it into primary-key-anchored chunks and merges the partial
// results back into whole records.
//
// 5. Sync Orchestrator: drives catalog-ordered streams through 30-day
// incremental slices, checkpoints state at a fixed record interval, and
// turns a vendor rate limit into a graceful early stop instead of a
// failure.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "os"
//
//	    "github.com/crestdata/forcesync/internal/pipeline"
//	    "github.com/crestdata/forcesync/pkg/config"
//	    "github.com/crestdata/forcesync/pkg/connector/core"
//	    "github.com/crestdata/forcesync/pkg/connector/registry"
//
//	    _ "github.com/crestdata/forcesync/pkg/connector/source/salesforce"
//	)
//
//	cfg, _ := config.Load("sync.yaml")
//	source, _ := registry.CreateSource(context.Background(), "salesforce", cfg)
//
//	orch := pipeline.NewOrchestrator(cfg, core.NewEmitter(os.Stdout))
//	result, err := orch.Run(context.Background(), source)
//
// # Key Packages
//
//	pkg/salesforce        - API client, OAuth login, error classification
//	pkg/salesforce/bulk   - bulk job lifecycle and CSV result reading
//	pkg/salesforce/rest   - REST pagination and property chunking
//	pkg/connector         - stream contracts, protocol emitter, registry
//	internal/pipeline     - the sync orchestrator
package forcesync
