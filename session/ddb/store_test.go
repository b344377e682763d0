/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/plmconnector/errors"
	"github.com/suparena/plmconnector/session"
)

// fakeTable understands exactly the expressions Store issues and serves one item
// per query page so pagination is exercised.
type fakeTable struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	queries int
	putErr  error
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]map[string]types.AttributeValue)}
}

func str(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func itemID(key map[string]types.AttributeValue) string {
	return str(key["PK"]) + "|" + str(key["SK"])
}

func (f *fakeTable) GetItem(ctx context.Context, in *sdk.GetItemInput, _ ...func(*sdk.Options)) (*sdk.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &sdk.GetItemOutput{Item: f.items[itemID(in.Key)]}, nil
}

func (f *fakeTable) PutItem(ctx context.Context, in *sdk.PutItemInput, _ ...func(*sdk.Options)) (*sdk.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}

	id := itemID(in.Item)
	current, exists := f.items[id]
	failed := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	switch aws.ToString(in.ConditionExpression) {
	case "attribute_not_exists(PK)":
		if exists {
			return nil, failed
		}
	case "#version = :expected":
		if !exists || str(current["Version"]) != str(in.ExpressionAttributeValues[":expected"]) {
			return nil, failed
		}
	}
	f.items[id] = in.Item
	return &sdk.PutItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(ctx context.Context, in *sdk.DeleteItemInput, _ ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, itemID(in.Key))
	return &sdk.DeleteItemOutput{}, nil
}

func (f *fakeTable) Query(ctx context.Context, in *sdk.QueryInput, _ ...func(*sdk.Options)) (*sdk.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++

	if aws.ToString(in.IndexName) != GSI1 {
		return nil, stderrors.New("unexpected index")
	}
	pk := str(in.ExpressionAttributeValues[":pk"])
	cutoff, hasCutoff := in.ExpressionAttributeValues[":cutoff"]
	state, hasState := in.ExpressionAttributeValues[":state"]

	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		if str(item["GSI1PK"]) != pk {
			continue
		}
		if hasCutoff && !strings.Contains(aws.ToString(in.KeyConditionExpression), "GSI1SK < :cutoff") {
			return nil, stderrors.New("cutoff value without condition")
		}
		if hasCutoff && str(item["GSI1SK"]) >= str(cutoff) {
			continue
		}
		if hasState && str(item["State"]) != str(state) {
			continue
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool {
		return str(matched[i]["GSI1SK"]) < str(matched[j]["GSI1SK"])
	})

	start := 0
	if in.ExclusiveStartKey != nil {
		last := itemID(in.ExclusiveStartKey)
		for i, item := range matched {
			if itemID(item) == last {
				start = i + 1
			}
		}
	}
	if start >= len(matched) {
		return &sdk.QueryOutput{}, nil
	}

	item := matched[start]
	out := &sdk.QueryOutput{Items: []map[string]types.AttributeValue{item}}
	if start+1 < len(matched) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]}
	}
	return out, nil
}

func TestExpandMacros(t *testing.T) {
	expanded, err := expandMacros(IndexMap, sessionItem{
		WorkspaceID: 42,
		ObjectID:    "B-1",
		Revision:    "C",
		UpdatedAt:   "2025-03-01T00:00:00.000000000Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "SESSION#B-1", expanded["PK"])
	assert.Equal(t, "REV#C#WS#42", expanded["SK"])
	assert.Equal(t, "WS#42", expanded["GSI1PK"])
	assert.Equal(t, "2025-03-01T00:00:00.000000000Z", expanded["GSI1SK"])

	_, err = primaryKey(map[string]string{"PK": "SESSION#B-1"})
	assert.Error(t, err)
}

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	s := New(table, "sessions", nil)
	updated := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	rec := &session.Record{
		WorkspaceID: 42,
		ObjectID:    "B-1",
		Revision:    "C",
		State:       session.StateOpen,
		Holder:      "user:7",
		UserID:      7,
		UpdatedAt:   updated,
	}
	require.NoError(t, s.Put(ctx, rec, 0))
	assert.Equal(t, int64(1), rec.Version)

	stored := table.items["SESSION#B-1|REV#C#WS#42"]
	require.NotNil(t, stored)
	assert.Equal(t, "WS#42", str(stored["GSI1PK"]))
	assert.Equal(t, EntityType, str(stored["EntityType"]))

	got, err := s.Get(ctx, rec.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.StateOpen, got.State)
	assert.Equal(t, "user:7", got.Holder)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, updated.Equal(got.UpdatedAt))

	// a second create and a stale update both fail the condition
	err = s.Put(ctx, rec, 0)
	assert.True(t, errors.IsConditionFailed(err))

	rec.State = session.StatePendingSave
	rec.Handle = "h-1"
	require.NoError(t, s.Put(ctx, rec, 1))
	assert.Equal(t, int64(2), rec.Version)
	assert.True(t, errors.IsConditionFailed(s.Put(ctx, rec, 1)))

	missing, err := s.Get(ctx, session.Key{WorkspaceID: 42, ObjectID: "nope", Revision: "A"})
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.Delete(ctx, rec.Key()))
	got, err = s.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStorePutError(t *testing.T) {
	table := newFakeTable()
	table.putErr = stderrors.New("throttled")
	s := New(table, "sessions", nil)

	err := s.Put(context.Background(), &session.Record{ObjectID: "B-1", Revision: "A"}, 0)
	require.Error(t, err)
	assert.False(t, errors.IsConditionFailed(err))
	assert.Contains(t, err.Error(), "throttled")
}

func TestStoreQueries(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	s := New(table, "sessions", nil)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	seed := []session.Record{
		{WorkspaceID: 1, ObjectID: "A", Revision: "1", State: session.StateOpen, UpdatedAt: base},
		{WorkspaceID: 1, ObjectID: "B", Revision: "1", State: session.StateClosed, UpdatedAt: base.Add(time.Hour)},
		{WorkspaceID: 1, ObjectID: "C", Revision: "1", State: session.StateOpen, UpdatedAt: base.Add(2 * time.Hour)},
		{WorkspaceID: 2, ObjectID: "A", Revision: "1", State: session.StateOpen, UpdatedAt: base},
	}
	for i := range seed {
		require.NoError(t, s.Put(ctx, &seed[i], 0))
	}

	all, err := s.ListByWorkspace(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{all[0].ObjectID, all[1].ObjectID, all[2].ObjectID})
	assert.Equal(t, 3, table.queries, "one page per item")

	open, err := s.ListByWorkspace(ctx, 1, session.StateOpen)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "C", open[1].ObjectID)

	stale, err := s.ListUpdatedBefore(ctx, 1, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "B", stale[1].ObjectID)

	other, err := s.ListByWorkspace(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestStoreBacksGuard(t *testing.T) {
	ctx := context.Background()
	s := New(newFakeTable(), "sessions", nil)

	// the guard's optimistic writes go through the conditional puts
	rec := &session.Record{WorkspaceID: 5, ObjectID: "B-1", Revision: "A", State: session.StateClosed}
	require.NoError(t, rec.Apply(session.OpOpen))
	require.NoError(t, s.Put(ctx, rec, 0))

	loaded, err := s.Get(ctx, rec.Key())
	require.NoError(t, err)
	require.NoError(t, loaded.Apply(session.OpDiscard))
	require.NoError(t, s.Put(ctx, loaded, loaded.Version))

	final, err := s.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, session.StateDiscarded, final.State)
	assert.Equal(t, int64(2), final.Version)
}
