package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/retry"
)

// StatusQualified is written to the lead profile on completion.
const StatusQualified = "qualified"

// ErrLeadNotFound is returned when the lead profile does not exist.
var ErrLeadNotFound = domain.ErrLeadNotFound

type leadItem struct {
	PK                  string `dynamodbav:"PK"`
	SK                  string `dynamodbav:"SK"`
	ID                  string `dynamodbav:"leadId"`
	Name                string `dynamodbav:"name"`
	Phone               string `dynamodbav:"phone"`
	AssignedToID        string `dynamodbav:"assignedToId"`
	AssignedToName      string `dynamodbav:"assignedToName"`
	QualificationStatus string `dynamodbav:"qualificationStatus,omitempty"`
}

type responseItem struct {
	PK         string    `dynamodbav:"PK"`
	SK         string    `dynamodbav:"SK"`
	LeadID     string    `dynamodbav:"leadId"`
	QuestionID string    `dynamodbav:"questionId"`
	Question   string    `dynamodbav:"question"`
	Answer     string    `dynamodbav:"answer"`
	Value      string    `dynamodbav:"value"`
	AnsweredAt time.Time `dynamodbav:"answeredAt"`
}

// LeadStore reads lead profiles and writes qualification data back to them.
type LeadStore struct {
	api       dynamodbAPI
	tableName string
	policy    retry.Policy
}

// NewLeadStore creates a lead store. Writes run under policy.
func NewLeadStore(api dynamodbAPI, tableName string, policy retry.Policy) (*LeadStore, error) {
	if err := checkTable(api, tableName); err != nil {
		return nil, err
	}
	return &LeadStore{api: api, tableName: tableName, policy: policy}, nil
}

// GetLead loads the lead profile.
func (l *LeadStore) GetLead(ctx context.Context, leadID string) (domain.Lead, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return domain.Lead{}, errors.New("repository: GetLead: lead id is required")
	}
	out, err := l.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key:       key(leadPK(leadID), skLeadProfile),
	})
	if err != nil {
		return domain.Lead{}, fmt.Errorf("repository: GetLead get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Lead{}, ErrLeadNotFound
	}

	var item leadItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.Lead{}, fmt.Errorf("repository: GetLead unmarshal: %w", err)
	}
	if item.ID == "" {
		item.ID = leadID
	}
	return domain.Lead{
		ID:                  item.ID,
		Name:                item.Name,
		Phone:               item.Phone,
		AssignedToID:        item.AssignedToID,
		AssignedToName:      item.AssignedToName,
		QualificationStatus: item.QualificationStatus,
	}, nil
}

// RecordResponse stores a single answer. Re-answering a question overwrites
// its item.
func (l *LeadStore) RecordResponse(ctx context.Context, leadID, questionID string, r domain.Response) error {
	if leadID == "" || questionID == "" {
		return errors.New("repository: RecordResponse: lead id and question id are required")
	}
	item, err := attributevalue.MarshalMap(responseItem{
		PK:         leadPK(leadID),
		SK:         responseSK(questionID),
		LeadID:     leadID,
		QuestionID: questionID,
		Question:   r.Question,
		Answer:     r.Answer,
		Value:      r.Value,
		AnsweredAt: r.Timestamp.UTC(),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordResponse marshal: %w", err)
	}
	err = retry.Do(ctx, l.policy, func(ctx context.Context) error {
		_, putErr := l.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(l.tableName),
			Item:      item,
		})
		return putErr
	})
	if err != nil {
		return fmt.Errorf("repository: RecordResponse: %w", err)
	}
	return nil
}

// SaveQualification writes the aggregate result onto the existing profile.
func (l *LeadStore) SaveQualification(ctx context.Context, leadID string, res domain.QualificationResult) error {
	if leadID == "" {
		return errors.New("repository: SaveQualification: lead id is required")
	}
	update := expression.Set(expression.Name("qualificationScore"), expression.Value(res.Score)).
		Set(expression.Name("qualificationStatus"), expression.Value(StatusQualified)).
		Set(expression.Name("qualificationResponses"), expression.Value(res.Responses)).
		Set(expression.Name("qualifiedAt"), expression.Value(res.CompletedAt.UTC().Format(time.RFC3339))).
		Set(expression.Name("qualificationDurationSeconds"), expression.Value(int64(res.Duration.Seconds())))
	cond := expression.AttributeExists(expression.Name("PK"))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("repository: SaveQualification build expression: %w", err)
	}

	err = retry.Do(ctx, l.policy, func(ctx context.Context) error {
		_, updErr := l.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(l.tableName),
			Key:                       key(leadPK(leadID), skLeadProfile),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		return updErr
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrLeadNotFound
		}
		return fmt.Errorf("repository: SaveQualification: %w", err)
	}
	return nil
}
