/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package example contains skeleton connectors that satisfy both contract
// generations. Every method logs its arguments and returns a placeholder; they are
// meant to be copied and filled in by integrators.
package example

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/suparena/plmconnector/connector"
	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/logging"
)

// ConfigSchema is the configuration both example connectors declare.
const ConfigSchema = `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "minLength": 1},
    "database": {"type": "string"}
  }
}`

var (
	_ connector.V1             = (*V1)(nil)
	_ connector.V2             = (*V2)(nil)
	_ connector.SchemaProvider = (*V1)(nil)
	_ connector.SchemaProvider = (*V2)(nil)
)

// V1 is an example PLM connector.
type V1 struct {
	logger *zap.Logger
}

// NewV1 creates the example PLM connector.
func NewV1(logger *zap.Logger) *V1 {
	return &V1{logger: logging.Component(logger, "example-v1")}
}

func (c *V1) ConfigSchema() string { return ConfigSchema }

func (c *V1) List(ctx context.Context, rc *connectormodels.RequestContext, query connectormodels.Query) ([]connectormodels.ObjectDefinition, error) {
	logging.FromRequest(rc, c.logger).Info("list", zap.Any("query", query))
	return nil, nil
}

func (c *V1) Open(ctx context.Context, rc *connectormodels.RequestContext, id, revision string) error {
	logging.FromRequest(rc, c.logger).Info("open", zap.String("id", id), zap.String("revision", revision))
	return nil
}

func (c *V1) ReadWithMeta(ctx context.Context, rc *connectormodels.RequestContext, id, revision string) (io.ReadCloser, *connectormodels.ObjectMetaData, error) {
	logging.FromRequest(rc, c.logger).Info("readWithMeta", zap.String("id", id), zap.String("revision", revision))
	return nil, nil, nil
}

func (c *V1) Save(ctx context.Context, rc *connectormodels.RequestContext, id, revision string) error {
	logging.FromRequest(rc, c.logger).Info("save", zap.String("id", id), zap.String("revision", revision))
	return nil
}

func (c *V1) SaveAndDone(ctx context.Context, rc *connectormodels.RequestContext, id, revision string) error {
	logging.FromRequest(rc, c.logger).Info("saveAndDone", zap.String("id", id), zap.String("revision", revision))
	return nil
}

func (c *V1) Discard(ctx context.Context, rc *connectormodels.RequestContext, id, revision string) error {
	logging.FromRequest(rc, c.logger).Info("discard", zap.String("id", id), zap.String("revision", revision))
	return nil
}

// V2 is an example EV connector.
type V2 struct {
	logger *zap.Logger
}

// NewV2 creates the example EV connector.
func NewV2(logger *zap.Logger) *V2 {
	return &V2{logger: logging.Component(logger, "example-v2")}
}

func (c *V2) ConfigSchema() string { return ConfigSchema }

func (c *V2) List(ctx context.Context, rc *connectormodels.RequestContext, query connectormodels.Query) ([]connectormodels.ObjectDefinition, error) {
	logging.FromRequest(rc, c.logger).Info("list", zap.Any("query", query))
	return nil, nil
}

func (c *V2) Open(ctx context.Context, rc *connectormodels.RequestContext, req connectormodels.OpenRequest) error {
	logging.FromRequest(rc, c.logger).Info("open",
		logging.Object(req.Key()),
		zap.String("name", req.Name),
		zap.Bool("is_new", req.IsNew),
	)
	return nil
}

func (c *V2) RequestRead(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) (connectormodels.Result, error) {
	logging.FromRequest(rc, c.logger).Info("requestRead", logging.Object(obj.Key()))
	// a real datasource returns Pending(handle) when the transfer is prepared out of band
	return connectormodels.Completed(), nil
}

func (c *V2) ReadWithMeta(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) (io.ReadCloser, *connectormodels.ObjectMetaData, error) {
	logging.FromRequest(rc, c.logger).Info("readWithMeta", logging.Object(obj.Key()))
	return nil, nil, nil
}

func (c *V2) Save(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	logging.FromRequest(rc, c.logger).Info("save", logging.Object(obj.Key()), zap.Int("assets", len(req.Assets)))
	return connectormodels.SaveResult{Result: connectormodels.Completed()}, nil
}

func (c *V2) SaveAndDone(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	logging.FromRequest(rc, c.logger).Info("saveAndDone", logging.Object(obj.Key()), zap.Int("assets", len(req.Assets)))
	return connectormodels.SaveResult{Result: connectormodels.Completed()}, nil
}

func (c *V2) Discard(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) error {
	logging.FromRequest(rc, c.logger).Info("discard", logging.Object(obj.Key()))
	return nil
}

func (c *V2) SendMessage(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, msg connectormodels.Message) error {
	logging.FromRequest(rc, c.logger).Info("sendMessage", logging.Object(obj.Key()), zap.String("type", msg.Type))
	return nil
}

func (c *V2) UpdateFileLifecycle(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, status connectormodels.FileStatus) error {
	logging.FromRequest(rc, c.logger).Info("updateFileLifecycle", logging.Object(obj.Key()), zap.String("status", string(status)))
	return nil
}
