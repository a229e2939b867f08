package durable

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"go.uber.org/zap"

	"github.com/mqc3/scheduler/internal/jobmeta"
)

// DynamoDBStore implements Store against AWS DynamoDB. It is the durable
// table collaborator described in §6, grounded on the original
// dynamodb_helper module: conditional put on attribute_not_exists(job_id),
// paginated query against a status GSI, and conditional updates guarding
// existence or a specific expected status.
type DynamoDBStore struct {
	client    *dynamodb.DynamoDB
	tableName string
	gsiName   string
	logger    *zap.Logger
}

// NewDynamoDBStore constructs a store bound to tableName, querying status
// via gsiName (default "status-index", matching the original's
// DYNAMODB_JOB_TABLE_GSI_NAME env default).
func NewDynamoDBStore(sess *session.Session, tableName, gsiName string, logger *zap.Logger) *DynamoDBStore {
	if gsiName == "" {
		gsiName = "status-index"
	}
	return &DynamoDBStore{
		client:    dynamodb.New(sess),
		tableName: tableName,
		gsiName:   gsiName,
		logger:    logger,
	}
}

func (s *DynamoDBStore) EnsureTableExists(ctx context.Context) error {
	_, err := s.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return fmt.Errorf("durable: table %q does not exist or is unreachable: %w", s.tableName, err)
	}
	return nil
}

func (s *DynamoDBStore) PutIfAbsent(ctx context.Context, m *jobmeta.Metadata) error {
	_, err := s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                m.ToItem(),
		ConditionExpression: aws.String("attribute_not_exists(job_id)"),
	})
	if isConditionalCheckFailed(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *DynamoDBStore) Get(ctx context.Context, jobID string, consistent bool) (*jobmeta.Metadata, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            map[string]*dynamodb.AttributeValue{"job_id": {S: aws.String(jobID)}},
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return jobmeta.FromItem(out.Item)
}

func (s *DynamoDBStore) QueryByStatus(ctx context.Context, status jobmeta.Status) ([]*jobmeta.Metadata, error) {
	var results []*jobmeta.Metadata
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(s.gsiName),
		KeyConditionExpression: aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]*string{
			"#status": aws.String("status"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":status": {S: aws.String(string(status))},
		},
	}
	for {
		out, err := s.client.QueryWithContext(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			m, err := jobmeta.FromItem(item)
			if err != nil {
				s.logger.Warn("durable: skipping unparsable item during status query", zap.Error(err))
				continue
			}
			results = append(results, m)
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return results, nil
}

func (s *DynamoDBStore) UpdateIfExists(ctx context.Context, jobID string, mutate func(*jobmeta.Metadata)) error {
	return s.readModifyWrite(ctx, jobID, "attribute_exists(job_id)", nil, mutate)
}

func (s *DynamoDBStore) UpdateIfStatus(ctx context.Context, jobID string, expected jobmeta.Status, mutate func(*jobmeta.Metadata)) error {
	return s.readModifyWrite(ctx, jobID, "#status = :expected_status", map[string]*dynamodb.AttributeValue{
		":expected_status": {S: aws.String(string(expected))},
	}, mutate)
}

// readModifyWrite performs the read-mutate-conditional-put cycle every
// update in this store reduces to: DynamoDB's UpdateItem could express
// simple field changes directly, but the scheduler's updates always touch
// several fields derived from the current record (e.g. status transitions
// that also stamp a timestamp), so a full item replace under a condition
// is simpler. Each update costs two calls: a consistent Get, then a
// conditional PutItem.
func (s *DynamoDBStore) readModifyWrite(ctx context.Context, jobID, condition string, extraValues map[string]*dynamodb.AttributeValue, mutate func(*jobmeta.Metadata)) error {
	current, err := s.Get(ctx, jobID, true)
	if err != nil {
		return err
	}
	mutate(current)

	values := map[string]*dynamodb.AttributeValue{}
	for k, v := range extraValues {
		values[k] = v
	}
	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                current.ToItem(),
		ConditionExpression: aws.String(condition),
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
		input.ExpressionAttributeNames = map[string]*string{"#status": aws.String("status")}
	}

	_, err = s.client.PutItemWithContext(ctx, input)
	if isConditionalCheckFailed(err) {
		return ErrConditionFailed
	}
	return err
}

func (s *DynamoDBStore) Remove(ctx context.Context, jobID string) error {
	_, err := s.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       map[string]*dynamodb.AttributeValue{"job_id": {S: aws.String(jobID)}},
	})
	return err
}

func isConditionalCheckFailed(err error) bool {
	aerr, ok := err.(awserr.Error)
	return ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}
