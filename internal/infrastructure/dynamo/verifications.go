package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-kyc-access/internal/domain"
)

// VerificationRepo manages one-time verification codes.
// PK: subject_id, SK: code_id. Rows are never deleted; every state change
// is a conditional update so concurrent submissions cannot both win.
type VerificationRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewVerificationRepo(client *dynamodb.Client, tableName string) *VerificationRepo {
	return &VerificationRepo{client: client, tableName: tableName}
}

func (r *VerificationRepo) Insert(ctx context.Context, v *domain.VerificationCode) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("marshal verification code: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#sk)"),
		ExpressionAttributeNames: map[string]string{"#sk": fieldCodeID},
	})
	return conditionErr("insert verification code", err)
}

// FindByHash returns every code of subjectID whose hash matches, whatever
// its purpose or state; the caller decides which checks fail.
func (r *VerificationRepo) FindByHash(ctx context.Context, subjectID, codeHash string) ([]domain.VerificationCode, error) {
	return r.query(ctx, subjectID, "#h = :h",
		map[string]string{"#h": fieldCodeHash},
		map[string]types.AttributeValue{":h": &types.AttributeValueMemberS{Value: codeHash}},
	)
}

// ListUnused returns the codes of (subjectID, purpose) that are still live or merely expired.
func (r *VerificationRepo) ListUnused(ctx context.Context, subjectID string, purpose domain.Purpose) ([]domain.VerificationCode, error) {
	return r.query(ctx, subjectID, "#p = :p AND #u = :f",
		map[string]string{"#p": fieldPurpose, "#u": fieldUsed},
		map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: string(purpose)},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	)
}

func (r *VerificationRepo) query(ctx context.Context, subjectID, filter string, names map[string]string, values map[string]types.AttributeValue) ([]domain.VerificationCode, error) {
	names["#s"] = fieldSubjectID
	values[":s"] = &types.AttributeValueMemberS{Value: subjectID}
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    aws.String("#s = :s"),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
		ScanIndexForward:          aws.Bool(false), // newest ULID first
	})
	var codes []domain.VerificationCode
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query verification codes: %w", err)
		}
		var batch []domain.VerificationCode
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		codes = append(codes, batch...)
	}
	return codes, nil
}

// Claim takes a lease on an unused, unexpired code. It fails with
// ErrConflict if the code is used, expired, superseded, or leased by
// someone else.
func (r *VerificationRepo) Claim(ctx context.Context, subjectID, codeID, claimToken string, now, until time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              compositeKey(fieldSubjectID, subjectID, fieldCodeID, codeID),
		UpdateExpression: aws.String("SET #t = :t, #te = :until"),
		ConditionExpression: aws.String(
			"attribute_exists(#sk) AND #u = :f AND #e > :now AND attribute_not_exists(#sp) AND (attribute_not_exists(#te) OR #te <= :now)"),
		ExpressionAttributeNames: map[string]string{
			"#sk": fieldCodeID, "#u": fieldUsed, "#e": fieldExpiresAt,
			"#t": fieldClaimToken, "#te": fieldClaimExpiresAt, "#sp": fieldSuperseded,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":     &types.AttributeValueMemberS{Value: claimToken},
			":until": numberAV(until.Unix()),
			":now":   numberAV(now.Unix()),
			":f":     &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	return conditionErr("claim verification code", err)
}

// Release drops a lease held under claimToken, leaving the code usable.
// A code superseded while leased is retired instead.
func (r *VerificationRepo) Release(ctx context.Context, subjectID, codeID, claimToken string) error {
	key := compositeKey(fieldSubjectID, subjectID, fieldCodeID, codeID)
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 key,
		UpdateExpression:    aws.String("REMOVE #t, #te"),
		ConditionExpression: aws.String("#t = :t AND attribute_not_exists(#sp)"),
		ExpressionAttributeNames: map[string]string{
			"#t": fieldClaimToken, "#te": fieldClaimExpiresAt, "#sp": fieldSuperseded,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: claimToken},
		},
	})
	if err = conditionErr("release verification code", err); !errors.Is(err, domain.ErrConflict) {
		return err
	}

	usedAt, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 key,
		UpdateExpression:    aws.String("SET #u = :tr, #ua = :ua, #ur = :ur REMOVE #t, #te, #sp"),
		ConditionExpression: aws.String("#t = :t AND #sp = :tr"),
		ExpressionAttributeNames: map[string]string{
			"#u": fieldUsed, "#ua": fieldUsedAt, "#ur": fieldUsedReason,
			"#t": fieldClaimToken, "#te": fieldClaimExpiresAt, "#sp": fieldSuperseded,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":  &types.AttributeValueMemberS{Value: claimToken},
			":tr": &types.AttributeValueMemberBOOL{Value: true},
			":ua": usedAt,
			":ur": &types.AttributeValueMemberS{Value: string(domain.UseReasonSuperseded)},
		},
	})
	return conditionErr("retire superseded verification code", err)
}

// MarkSupersededPending flags an unused code that is currently leased, so the
// holder's Release retires it.
func (r *VerificationRepo) MarkSupersededPending(ctx context.Context, subjectID, codeID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey(fieldSubjectID, subjectID, fieldCodeID, codeID),
		UpdateExpression:    aws.String("SET #sp = :tr"),
		ConditionExpression: aws.String("attribute_exists(#sk) AND #u = :f AND attribute_exists(#t)"),
		ExpressionAttributeNames: map[string]string{
			"#sk": fieldCodeID, "#u": fieldUsed, "#t": fieldClaimToken, "#sp": fieldSuperseded,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":f":  &types.AttributeValueMemberBOOL{Value: false},
			":tr": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	return conditionErr("mark verification code superseded", err)
}

// RecordMiss increments the attempt counter of an unused code and returns
// the new count.
func (r *VerificationRepo) RecordMiss(ctx context.Context, subjectID, codeID string) (int, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey(fieldSubjectID, subjectID, fieldCodeID, codeID),
		UpdateExpression:    aws.String("ADD #a :one"),
		ConditionExpression: aws.String("attribute_exists(#sk) AND #u = :f"),
		ExpressionAttributeNames: map[string]string{
			"#sk": fieldCodeID, "#u": fieldUsed, "#a": fieldAttempts,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": numberAV(1),
			":f":   &types.AttributeValueMemberBOOL{Value: false},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err := conditionErr("record verification attempt", err); err != nil {
		return 0, err
	}
	var updated struct {
		Attempts int `dynamodbav:"attempts"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return 0, fmt.Errorf("unmarshal attempt count: %w", err)
	}
	return updated.Attempts, nil
}

// MarkUsed flips used false->true. With a non-empty claimToken the caller
// must still hold an unexpired lease. An empty token is used for supersession and
// fails with ErrConflict while another caller holds a live lease.
func (r *VerificationRepo) MarkUsed(ctx context.Context, subjectID, codeID string, reason domain.UseReason, claimToken string, now time.Time) error {
	usedAt, err := attributevalue.Marshal(now.UTC())
	if err != nil {
		return err
	}
	cond := "attribute_exists(#sk) AND #u = :f"
	names := map[string]string{
		"#sk": fieldCodeID, "#u": fieldUsed, "#ua": fieldUsedAt, "#ur": fieldUsedReason,
		"#t": fieldClaimToken, "#te": fieldClaimExpiresAt, "#sp": fieldSuperseded,
	}
	values := map[string]types.AttributeValue{
		":f":   &types.AttributeValueMemberBOOL{Value: false},
		":tr":  &types.AttributeValueMemberBOOL{Value: true},
		":ua":  usedAt,
		":ur":  &types.AttributeValueMemberS{Value: string(reason)},
		":now": numberAV(now.Unix()),
	}
	if claimToken != "" {
		cond += " AND #t = :t AND #te > :now"
		values[":t"] = &types.AttributeValueMemberS{Value: claimToken}
	} else {
		// supersession never overrides a live lease
		cond += " AND (attribute_not_exists(#te) OR #te <= :now)"
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(fieldSubjectID, subjectID, fieldCodeID, codeID),
		UpdateExpression:          aws.String("SET #u = :tr, #ua = :ua, #ur = :ur REMOVE #t, #te, #sp"),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	return conditionErr("mark verification code used", err)
}

// SetDeliveryStatus records the notification outcome on an unused code.
func (r *VerificationRepo) SetDeliveryStatus(ctx context.Context, subjectID, codeID string, status domain.DeliveryStatus) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey(fieldSubjectID, subjectID, fieldCodeID, codeID),
		UpdateExpression:    aws.String("SET #d = :d"),
		ConditionExpression: aws.String("attribute_exists(#sk) AND #u = :f"),
		ExpressionAttributeNames: map[string]string{
			"#sk": fieldCodeID, "#u": fieldUsed, "#d": fieldDeliveryStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": &types.AttributeValueMemberS{Value: string(status)},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	return conditionErr("set delivery status", err)
}

func numberAV(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
}
