package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/attachflow/relay/internal/model"
)

// DefaultTTL bounds how long an abandoned run can hold its flow. A crashed
// execution releases nothing; the TTL is what unblocks the flow afterwards.
const DefaultTTL = 5 * time.Minute

// LockManager implements Locker on a DynamoDB table with TTL enabled on
// expires_at.
type LockManager struct {
	client      *dynamodb.Client
	tableName   string
	ttlDuration time.Duration
}

// NewLockManager creates a new LockManager.
func NewLockManager(client *dynamodb.Client, tableName string) *LockManager {
	return &LockManager{
		client:      client,
		tableName:   tableName,
		ttlDuration: DefaultTTL,
	}
}

// Acquire attempts to take the run lock for a flow via a conditional write:
// it succeeds only when no lock row exists or the existing one has expired.
// Unlike an edit lock, the same user may not re-acquire; one run per flow,
// whoever started it.
func (m *LockManager) Acquire(ctx context.Context, flowID, userID, requestID string) (*model.RunLock, error) {
	now := time.Now().Unix()

	lock := model.RunLock{
		FlowID:    flowID,
		UserID:    userID,
		RequestID: requestID,
		ExpiresAt: now + int64(m.ttlDuration.Seconds()),
	}

	item, err := attributevalue.MarshalMap(lock)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run lock: %w", err)
	}

	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(m.tableName),
		Item:      item,
		ConditionExpression: aws.String(
			"attribute_not_exists(flow_id) OR expires_at < :now",
		),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now)},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return nil, ErrFlowRunning
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}

	return &lock, nil
}

// Release removes the lock if the given request owns it.
func (m *LockManager) Release(ctx context.Context, flowID, requestID string) error {
	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"flow_id": &types.AttributeValueMemberS{Value: flowID},
		},
		ConditionExpression: aws.String("request_id = :request_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":request_id": &types.AttributeValueMemberS{Value: requestID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Status returns the current lock for a flow, or nil when the flow is idle
// or the lock has expired.
func (m *LockManager) Status(ctx context.Context, flowID string) (*model.RunLock, error) {
	out, err := m.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"flow_id": &types.AttributeValueMemberS{Value: flowID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get run lock: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var lock model.RunLock
	if err := attributevalue.UnmarshalMap(out.Item, &lock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run lock: %w", err)
	}

	if lock.ExpiresAt < time.Now().Unix() {
		return nil, nil // expired
	}
	return &lock, nil
}
