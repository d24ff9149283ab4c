package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-kyc-access/internal/domain"
)

// RoleAssignmentRepo stores user->role grants.
// PK: user_id, SK: role
type RoleAssignmentRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewRoleAssignmentRepo(client *dynamodb.Client, tableName string) *RoleAssignmentRepo {
	return &RoleAssignmentRepo{client: client, tableName: tableName}
}

func (r *RoleAssignmentRepo) Put(ctx context.Context, a *domain.RoleAssignment) error {
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return fmt.Errorf("marshal role assignment: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put role assignment: %w", err)
	}
	return nil
}

// HasRole is a strongly consistent point read; a stale replica must never
// grant a role that was just revoked.
func (r *RoleAssignmentRepo) HasRole(ctx context.Context, userID string, role domain.Role) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            compositeKey(fieldUserID, userID, fieldRole, string(role)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get role assignment: %w", err)
	}
	return out.Item != nil, nil
}

func (r *RoleAssignmentRepo) ListByUser(ctx context.Context, userID string) ([]domain.RoleAssignment, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query role assignments: %w", err)
	}
	roles := []domain.RoleAssignment{}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *RoleAssignmentRepo) Delete(ctx context.Context, userID string, role domain.Role) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey(fieldUserID, userID, fieldRole, string(role)),
	})
	if err != nil {
		return fmt.Errorf("delete role assignment: %w", err)
	}
	return nil
}
