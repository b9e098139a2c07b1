// Package collab declares the contracts bemflow consumes from external
// collaborators (building data, simulation engine, parser, aggregator,
// validator, modifier, sensitivity/surrogate/calibration engines, override
// sources, and packaging) together with the data passed between them.
//
// The control plane never interprets these payloads beyond the fields it
// needs to sequence work: building identifiers, per-building validation
// metrics, and failure lists. Everything else travels through as opaque
// values. Package exectool provides the production implementation that runs
// each collaborator as an external command.
package collab
