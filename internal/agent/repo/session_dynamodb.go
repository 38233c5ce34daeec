package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bytedance/sonic"

	"github.com/chative-estimate/server/internal/agent/model"
	errx "github.com/chative-estimate/server/internal/core/error"
)

const (
	seqPK        = "SESSION#SEQ"
	skMeta       = "META#"
	skTurnPrefix = "TURN#"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoSessionStore.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoSessionStore keeps sessions in a single table under PK SESSION#<index>:
// one META# item holding the owner and a turn counter, and one
// TURN#<seq> item per turn. seq is zero padded so sort keys follow append order.
type DynamoSessionStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoSessionStore(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoSessionStore, error) {
	if api == nil {
		return nil, errors.New("repo: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repo: table name must not be empty")
	}
	return &DynamoSessionStore{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func sessionPK(index int64) string {
	return "SESSION#" + strconv.FormatInt(index, 10)
}

func turnSK(seq int64) string {
	return fmt.Sprintf("%s%020d", skTurnPrefix, seq)
}

func (d *DynamoSessionStore) ttlValue(now time.Time) string {
	return strconv.FormatInt(now.Add(d.ttl).Unix(), 10)
}

func (d *DynamoSessionStore) CreateOrAppendTurn(ctx context.Context, in model.TurnInput) (model.TurnOutput, error) {
	now := d.now().UTC()

	var index int64
	if in.SessionIndex == nil {
		n, err := d.nextIndex(ctx)
		if err != nil {
			return model.TurnOutput{}, err
		}
		index = n
		_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(d.tableName),
			Item: map[string]types.AttributeValue{
				"PK":        &types.AttributeValueMemberS{Value: sessionPK(index)},
				"SK":        &types.AttributeValueMemberS{Value: skMeta},
				"title":     &types.AttributeValueMemberS{Value: in.Title},
				"owner":     &types.AttributeValueMemberS{Value: in.UserID},
				"turns":     &types.AttributeValueMemberN{Value: "0"},
				"createdAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
				"ttl":       &types.AttributeValueMemberN{Value: d.ttlValue(now)},
			},
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		})
		if err != nil {
			return model.TurnOutput{}, errx.WrapDynamo(fmt.Errorf("repo: put session meta: %w", err))
		}
	} else {
		index = *in.SessionIndex
	}

	seq, err := d.nextTurn(ctx, index, in.UserID, now)
	if err != nil {
		return model.TurnOutput{}, err
	}

	payload, err := sonic.MarshalString(struct {
		Attachments []model.Attachment `json:"attachments,omitempty"`
		Estimate    *model.Estimate    `json:"estimate,omitempty"`
	}{in.Attachments, in.Estimate})
	if err != nil {
		return model.TurnOutput{}, fmt.Errorf("repo: marshal turn payload: %w", err)
	}

	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: sessionPK(index)},
			"SK":        &types.AttributeValueMemberS{Value: turnSK(seq)},
			"role":      &types.AttributeValueMemberS{Value: string(in.Role)},
			"content":   &types.AttributeValueMemberS{Value: in.Content},
			"payload":   &types.AttributeValueMemberS{Value: payload},
			"createdAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			"ttl":       &types.AttributeValueMemberN{Value: d.ttlValue(now)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return model.TurnOutput{}, errx.WrapDynamo(fmt.Errorf("repo: put turn: %w", err))
	}

	return model.TurnOutput{ChatSession: &model.ChatSession{Index: index}}, nil
}

// nextIndex atomically bumps the table-wide session counter.
func (d *DynamoSessionStore) nextIndex(ctx context.Context) (int64, error) {
	out, err := d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: seqPK},
			"SK": &types.AttributeValueMemberS{Value: seqPK},
		},
		UpdateExpression:          aws.String("ADD #v :one"),
		ExpressionAttributeNames:  map[string]string{"#v": "value"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, errx.WrapDynamo(fmt.Errorf("repo: allocate session index: %w", err))
	}
	if out == nil {
		return 0, errors.New("repo: allocate session index: empty response")
	}
	n, err := intAttr(out.Attributes, "value")
	if err != nil {
		return 0, fmt.Errorf("repo: allocate session index: %w", err)
	}
	return n, nil
}

// nextTurn bumps the turn counter on the session META item. The update only
// applies when the session exists and belongs to userID.
func (d *DynamoSessionStore) nextTurn(ctx context.Context, index int64, userID string, now time.Time) (int64, error) {
	out, err := d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(index)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:    aws.String("ADD #turns :one SET #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_exists(PK) AND #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#turns": "turns",
			"#ttl":   "ttl",
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":ttl":   &types.AttributeValueMemberN{Value: d.ttlValue(now)},
			":owner": &types.AttributeValueMemberS{Value: userID},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, fmt.Errorf("append to session %d: %w", index, ErrSessionNotFound)
		}
		return 0, errx.WrapDynamo(fmt.Errorf("repo: allocate turn: %w", err))
	}
	if out == nil {
		return 0, errors.New("repo: allocate turn: empty response")
	}
	n, err := intAttr(out.Attributes, "turns")
	if err != nil {
		return 0, fmt.Errorf("repo: allocate turn: %w", err)
	}
	return n, nil
}

// LoadTurns reads the whole session partition. META# sorts before TURN#, so
// ownership is known before any turn is decoded.
func (d *DynamoSessionStore) LoadTurns(ctx context.Context, index int64, userID string) ([]model.StoredTurn, error) {
	var (
		turns []model.StoredTurn
		owned bool
		start map[string]types.AttributeValue
	)
	for {
		out, err := d.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: sessionPK(index)},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, errx.WrapDynamo(fmt.Errorf("repo: query session: %w", err))
		}

		for _, item := range out.Items {
			sk, _ := strAttr(item, "SK")
			if sk == skMeta {
				owner, _ := strAttr(item, "owner")
				owned = owner == userID
				continue
			}
			if !owned || !strings.HasPrefix(sk, skTurnPrefix) {
				continue
			}
			t, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repo: decode turn: %w", err)
			}
			turns = append(turns, t)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	if !owned {
		return nil, fmt.Errorf("load session %d: %w", index, ErrSessionNotFound)
	}
	if turns == nil {
		turns = []model.StoredTurn{}
	}
	return turns, nil
}

func itemToTurn(item map[string]types.AttributeValue) (model.StoredTurn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return model.StoredTurn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return model.StoredTurn{}, err
	}
	createdAt, _ := strAttr(item, "createdAt") // allow empty
	t := model.StoredTurn{Role: model.StoreRole(role), Content: content, CreatedAt: createdAt}

	if payload, err := strAttr(item, "payload"); err == nil && payload != "" {
		var extra struct {
			Attachments []model.Attachment `json:"attachments"`
			Estimate    *model.Estimate    `json:"estimate"`
		}
		if err := sonic.UnmarshalString(payload, &extra); err != nil {
			return model.StoredTurn{}, fmt.Errorf("payload: %w", err)
		}
		t.Attachments = extra.Attachments
		t.Estimate = extra.Estimate
	}
	return t, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

var _ model.SessionStore = (*DynamoSessionStore)(nil)
