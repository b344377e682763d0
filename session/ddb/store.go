/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/suparena/plmconnector/config"
	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/errors"
	"github.com/suparena/plmconnector/logging"
	"github.com/suparena/plmconnector/registry"
	"github.com/suparena/plmconnector/session"
)

const (
	// EntityType is written on every session item.
	EntityType = "Session"

	// GSI1 lists a workspace's sessions ordered by last update.
	GSI1 = "GSI1"

	// fixed width so GSI1SK sorts chronologically
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// IndexMap holds the key templates of session items.
var IndexMap = map[string]string{
	"PK":     "SESSION#{ObjectID}",
	"SK":     "REV#{Revision}#WS#{WorkspaceID}",
	"GSI1PK": "WS#{WorkspaceID}",
	"GSI1SK": "{UpdatedAt}",
}

func init() {
	registry.RegisterIndexMap[sessionItem](IndexMap)
	registry.RegisterType(EntityType, decodeSession)
}

type sessionItem struct {
	PK          string `dynamodbav:"PK,omitempty"`
	SK          string `dynamodbav:"SK,omitempty"`
	GSI1PK      string `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK      string `dynamodbav:"GSI1SK,omitempty"`
	EntityType  string `dynamodbav:"EntityType,omitempty"`
	WorkspaceID int64  `dynamodbav:"WorkspaceID"`
	ObjectID    string `dynamodbav:"ObjectID"`
	Revision    string `dynamodbav:"Revision"`
	State       string `dynamodbav:"State,omitempty"`
	Version     int64  `dynamodbav:"Version"`
	Holder      string `dynamodbav:"Holder,omitempty"`
	UserID      int64  `dynamodbav:"UserID,omitempty"`
	Handle      string `dynamodbav:"Handle,omitempty"`
	Final       bool   `dynamodbav:"Final,omitempty"`
	UpdatedAt   string `dynamodbav:"UpdatedAt,omitempty"`
}

func itemFor(key session.Key) sessionItem {
	return sessionItem{WorkspaceID: key.WorkspaceID, ObjectID: key.ObjectID, Revision: key.Revision}
}

func toItem(rec *session.Record, version int64) sessionItem {
	return sessionItem{
		EntityType:  EntityType,
		WorkspaceID: rec.WorkspaceID,
		ObjectID:    rec.ObjectID,
		Revision:    rec.Revision,
		State:       string(rec.State),
		Version:     version,
		Holder:      rec.Holder,
		UserID:      rec.UserID,
		Handle:      string(rec.Handle),
		Final:       rec.Final,
		UpdatedAt:   formatTime(rec.UpdatedAt),
	}
}

func (it sessionItem) record() (*session.Record, error) {
	rec := &session.Record{
		WorkspaceID: it.WorkspaceID,
		ObjectID:    it.ObjectID,
		Revision:    it.Revision,
		State:       session.State(it.State),
		Version:     it.Version,
		Holder:      it.Holder,
		UserID:      it.UserID,
		Handle:      connectormodels.PollHandle(it.Handle),
		Final:       it.Final,
	}
	if it.UpdatedAt != "" {
		t, err := time.Parse(timeLayout, it.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid UpdatedAt %q: %w", it.UpdatedAt, err)
		}
		rec.UpdatedAt = t
	}
	return rec, nil
}

func decodeSession(raw map[string]types.AttributeValue) (any, error) {
	var it sessionItem
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session item: %w", err)
	}
	return it.record()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

var _ session.Store = (*Store)(nil)

// Store is a session.Store backed by a single DynamoDB table.
type Store struct {
	client API
	table  string
	logger *zap.Logger
}

// New creates a store on table using client.
func New(client API, table string, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		table:  table,
		logger: logging.Component(logger, "session-ddb"),
	}
}

// NewFromConfig creates a DynamoDB client from the sessions configuration.
func NewFromConfig(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (*Store, error) {
	client, err := NewClient(ctx, cfg.AccessKey, cfg.SecretKey, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB client: %w", err)
	}
	s := New(client, cfg.Table, logger)
	s.logger.Info("session store ready", zap.String("table", cfg.Table), zap.String("region", cfg.Region))
	return s, nil
}

func (s *Store) key(key session.Key) (map[string]types.AttributeValue, error) {
	templates, err := registry.IndexMapFor[sessionItem]()
	if err != nil {
		return nil, err
	}
	expanded, err := expandMacros(templates, itemFor(key))
	if err != nil {
		return nil, err
	}
	return primaryKey(expanded)
}

func (s *Store) Get(ctx context.Context, key session.Key) (*session.Record, error) {
	keyMap, err := s.key(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build key: %w", err)
	}

	out, err := s.client.GetItem(ctx, &sdk.GetItemInput{
		TableName:      &s.table,
		Key:            keyMap,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem error: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	v, err := registry.Unmarshal(out.Item)
	if err != nil {
		return nil, err
	}
	rec, ok := v.(*session.Record)
	if !ok {
		return nil, fmt.Errorf("item %s is not a session", key)
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, rec *session.Record, expectedVersion int64) error {
	templates, err := registry.IndexMapFor[sessionItem]()
	if err != nil {
		return err
	}

	item := toItem(rec, expectedVersion+1)
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	expanded, err := expandMacros(templates, item)
	if err != nil {
		return err
	}
	for k, v := range expanded {
		if v != "" {
			av[k] = &types.AttributeValueMemberS{Value: v}
		}
	}

	input := &sdk.PutItemInput{
		TableName: &s.table,
		Item:      av,
	}
	if expectedVersion == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		input.ConditionExpression = aws.String("#version = :expected")
		input.ExpressionAttributeNames = map[string]string{"#version": "Version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var cfe *types.ConditionalCheckFailedException
		if stderrors.As(err, &cfe) {
			return errors.NewConditionFailedError("put", *input.ConditionExpression)
		}
		return fmt.Errorf("PutItem failed: %w", err)
	}

	rec.Version = expectedVersion + 1
	return nil
}

func (s *Store) Delete(ctx context.Context, key session.Key) error {
	keyMap, err := s.key(key)
	if err != nil {
		return fmt.Errorf("failed to build key for Delete: %w", err)
	}
	_, err = s.client.DeleteItem(ctx, &sdk.DeleteItemInput{
		TableName: &s.table,
		Key:       keyMap,
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListByWorkspace(ctx context.Context, workspaceID int64, state session.State) ([]session.Record, error) {
	input, err := s.workspaceQuery(workspaceID)
	if err != nil {
		return nil, err
	}
	if state != "" {
		input.FilterExpression = aws.String("#state = :state")
		input.ExpressionAttributeNames = map[string]string{"#state": "State"}
		input.ExpressionAttributeValues[":state"] = &types.AttributeValueMemberS{Value: string(state)}
	}
	return s.query(ctx, input)
}

func (s *Store) ListUpdatedBefore(ctx context.Context, workspaceID int64, cutoff time.Time) ([]session.Record, error) {
	input, err := s.workspaceQuery(workspaceID)
	if err != nil {
		return nil, err
	}
	*input.KeyConditionExpression += " AND GSI1SK < :cutoff"
	input.ExpressionAttributeValues[":cutoff"] = &types.AttributeValueMemberS{Value: formatTime(cutoff)}
	return s.query(ctx, input)
}

func (s *Store) workspaceQuery(workspaceID int64) (*sdk.QueryInput, error) {
	templates, err := registry.IndexMapFor[sessionItem]()
	if err != nil {
		return nil, err
	}
	expanded, err := expandMacros(map[string]string{"GSI1PK": templates["GSI1PK"]}, sessionItem{WorkspaceID: workspaceID})
	if err != nil {
		return nil, err
	}

	return &sdk.QueryInput{
		TableName:              &s.table,
		IndexName:              aws.String(GSI1),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: expanded["GSI1PK"]},
		},
		ScanIndexForward: aws.Bool(true),
	}, nil
}

func (s *Store) query(ctx context.Context, input *sdk.QueryInput) ([]session.Record, error) {
	var records []session.Record
	pages := 0

	paginator := sdk.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query error: %w", err)
		}
		pages++

		for _, item := range out.Items {
			v, err := registry.Unmarshal(item)
			if err != nil {
				return nil, err
			}
			if rec, ok := v.(*session.Record); ok {
				records = append(records, *rec)
			}
		}
	}

	s.logger.Debug("queried sessions",
		zap.String("index", aws.ToString(input.IndexName)),
		zap.Int("pages", pages),
		zap.Int("records", len(records)),
	)
	return records, nil
}
