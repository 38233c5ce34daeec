package repo

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/chative-estimate/server/internal/agent/model"
	errx "github.com/chative-estimate/server/internal/core/error"
)

// fakeDynamo is an in-memory table keyed by PK/SK.
type fakeDynamo struct {
	mu      sync.Mutex
	items   map[string]map[string]map[string]types.AttributeValue
	putErr  error
	lastPut *dynamodb.PutItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]map[string]types.AttributeValue{}}
}

func keyOf(item map[string]types.AttributeValue) (string, string) {
	pk := item["PK"].(*types.AttributeValueMemberS).Value
	sk := item["SK"].(*types.AttributeValueMemberS).Value
	return pk, sk
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.lastPut = in
	pk, sk := keyOf(in.Item)
	if f.items[pk] == nil {
		f.items[pk] = map[string]map[string]types.AttributeValue{}
	}
	if _, exists := f.items[pk][sk]; exists {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[pk][sk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, sk := keyOf(in.Key)
	if f.items[pk] == nil {
		f.items[pk] = map[string]map[string]types.AttributeValue{}
	}
	if sk == skMeta {
		return f.bumpTurns(in, pk)
	}
	var n int64
	if cur, ok := f.items[pk][sk]["value"].(*types.AttributeValueMemberN); ok {
		n, _ = strconv.ParseInt(cur.Value, 10, 64)
	}
	n++
	val := &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
	f.items[pk][sk] = map[string]types.AttributeValue{"PK": in.Key["PK"], "SK": in.Key["SK"], "value": val}
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"value": val}}, nil
}

// bumpTurns applies the META turn counter update with its owner condition.
func (f *fakeDynamo) bumpTurns(in *dynamodb.UpdateItemInput, pk string) (*dynamodb.UpdateItemOutput, error) {
	meta, ok := f.items[pk][skMeta]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	owner := meta["owner"].(*types.AttributeValueMemberS).Value
	if owner != in.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS).Value {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("owner")}
	}
	n, _ := strconv.ParseInt(meta["turns"].(*types.AttributeValueMemberN).Value, 10, 64)
	n++
	val := &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
	meta["turns"] = val
	meta["ttl"] = in.ExpressionAttributeValues[":ttl"]
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"turns": val}}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value

	var sks []string
	for sk := range f.items[pk] {
		sks = append(sks, sk)
	}
	sort.Strings(sks)
	out := &dynamodb.QueryOutput{}
	for _, sk := range sks {
		out.Items = append(out.Items, f.items[pk][sk])
	}
	return out, nil
}

func newTestDynamoStore(t *testing.T, api dynamodbAPI) *DynamoSessionStore {
	t.Helper()
	store, err := NewDynamoSessionStore(api, "chat-sessions", time.Hour)
	require.NoError(t, err)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var tick int64
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	return store
}

func TestNewDynamoSessionStore_Validation(t *testing.T) {
	_, err := NewDynamoSessionStore(nil, "t", time.Hour)
	require.Error(t, err)
	_, err = NewDynamoSessionStore(newFakeDynamo(), "  ", time.Hour)
	require.Error(t, err)
}

func TestDynamoSessionStore_CreateAppendLoad(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := newTestDynamoStore(t, fake)

	out, err := store.CreateOrAppendTurn(ctx, model.TurnInput{
		Role:    model.StoreRoleUser,
		UserID:  "user-1",
		Content: "Quote me an app",
		Title:   "Quote me an app",
		Attachments: []model.Attachment{
			{Name: "brief.pdf", URI: "files/abc", MIMEType: "application/pdf"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), out.ChatSession.Index)

	meta := fake.items["SESSION#1"][skMeta]
	require.NotNil(t, meta)
	require.Equal(t, "Quote me an app", meta["title"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "user-1", meta["owner"].(*types.AttributeValueMemberS).Value)

	_, err = store.CreateOrAppendTurn(ctx, model.TurnInput{
		Role:         model.StoreRoleAI,
		UserID:       "user-1",
		SessionIndex: model.Int64Ptr(1),
		Content:      "Plan attached.",
		Estimate:     &model.Estimate{Project: "App"},
	})
	require.NoError(t, err)
	_, ok := fake.lastPut.Item["ttl"].(*types.AttributeValueMemberN)
	require.True(t, ok)

	turns, err := store.LoadTurns(ctx, 1, "user-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, model.StoreRoleUser, turns[0].Role)
	require.Len(t, turns[0].Attachments, 1)
	require.Equal(t, "brief.pdf", turns[0].Attachments[0].Name)
	require.Equal(t, model.StoreRoleAI, turns[1].Role)
	require.Equal(t, "App", turns[1].Estimate.Project)

	second, err := store.CreateOrAppendTurn(ctx, model.TurnInput{Role: model.StoreRoleUser, UserID: "user-1", Content: "another"})
	require.NoError(t, err)
	require.Equal(t, int64(2), second.ChatSession.Index)
}

func TestDynamoSessionStore_PutFailure(t *testing.T) {
	fake := newFakeDynamo()
	fake.putErr = errors.New("throttled")
	store := newTestDynamoStore(t, fake)

	_, err := store.CreateOrAppendTurn(context.Background(), model.TurnInput{Role: model.StoreRoleUser, Content: "x"})
	require.Error(t, err)
	require.Equal(t, http.StatusBadGateway, errx.StatusOf(err, http.StatusInternalServerError))
	require.ErrorContains(t, err, "throttled")
}

func TestDynamoSessionStore_TurnsKeepAppendOrder(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := newTestDynamoStore(t, fake)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	offsets := []time.Duration{0, 500 * time.Millisecond, 520 * time.Millisecond, 520 * time.Millisecond}
	var calls int
	store.now = func() time.Time {
		at := base.Add(offsets[calls])
		calls++
		return at
	}

	out, err := store.CreateOrAppendTurn(ctx, model.TurnInput{Role: model.StoreRoleUser, UserID: "user-1", Content: "first"})
	require.NoError(t, err)
	index := model.Int64Ptr(out.ChatSession.Index)
	for _, content := range []string{"second", "third", "fourth"} {
		_, err := store.CreateOrAppendTurn(ctx, model.TurnInput{Role: model.StoreRoleUser, UserID: "user-1", SessionIndex: index, Content: content})
		require.NoError(t, err)
	}

	turns, err := store.LoadTurns(ctx, *index, "user-1")
	require.NoError(t, err)
	var got []string
	for _, turn := range turns {
		got = append(got, turn.Content)
	}
	require.Equal(t, []string{"first", "second", "third", "fourth"}, got)
}

func TestDynamoSessionStore_UnknownSession(t *testing.T) {
	store := newTestDynamoStore(t, newFakeDynamo())

	_, err := store.CreateOrAppendTurn(context.Background(), model.TurnInput{
		Role:         model.StoreRoleAI,
		UserID:       "user-1",
		SessionIndex: model.Int64Ptr(42),
		Content:      "orphan",
	})
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Equal(t, http.StatusNotFound, errx.StatusOf(err, http.StatusInternalServerError))

	_, err = store.LoadTurns(context.Background(), 42, "user-1")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDynamoSessionStore_OtherUsersSessionIsHidden(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := newTestDynamoStore(t, fake)

	out, err := store.CreateOrAppendTurn(ctx, model.TurnInput{Role: model.StoreRoleUser, UserID: "user-1", Content: "my secret budget plan"})
	require.NoError(t, err)
	index := out.ChatSession.Index

	turns, err := store.LoadTurns(ctx, index, "mallory")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Nil(t, turns)

	_, err = store.CreateOrAppendTurn(ctx, model.TurnInput{
		Role:         model.StoreRoleUser,
		UserID:       "mallory",
		SessionIndex: model.Int64Ptr(index),
		Content:      "injected",
	})
	require.ErrorIs(t, err, ErrSessionNotFound)

	turns, err = store.LoadTurns(ctx, index, "user-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
}
