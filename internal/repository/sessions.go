package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"lead-qualifier/internal/domain"
)

type sessionItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	domain.Session
	TTL int64 `dynamodbav:"ttl"`
}

// SessionStore keeps one item per phone number. DynamoDB deletes expired
// items lazily, so reads also compare the ttl attribute with the clock.
type SessionStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewSessionStore creates a DynamoDB backed session store.
func NewSessionStore(api dynamodbAPI, tableName string, ttl time.Duration) (*SessionStore, error) {
	if err := checkTable(api, tableName); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, errors.New("repository: session ttl must be positive")
	}
	return &SessionStore{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func (s *SessionStore) Get(ctx context.Context, phone string) (domain.Session, bool, error) {
	phone = domain.NormalizePhone(phone)
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(sessionPK(phone), skSessionState),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("repository: GetSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{}, false, nil
	}

	expires, err := int64Attr(out.Item, "ttl")
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("repository: GetSession decode ttl: %w", err)
	}
	if s.now().Unix() >= expires {
		return domain.Session{}, false, nil
	}

	var item sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.Session{}, false, fmt.Errorf("repository: GetSession unmarshal: %w", err)
	}
	if item.Responses == nil {
		item.Responses = map[string]domain.Response{}
	}
	return item.Session, true, nil
}

// Put replaces the item and pushes its expiry out by the store TTL.
func (s *SessionStore) Put(ctx context.Context, session domain.Session) error {
	session.Phone = domain.NormalizePhone(session.Phone)
	if session.Phone == "" {
		return errors.New("repository: PutSession: phone is required")
	}
	item, err := attributevalue.MarshalMap(sessionItem{
		PK:      sessionPK(session.Phone),
		SK:      skSessionState,
		Session: session,
		TTL:     ttlValue(s.now(), s.ttl),
	})
	if err != nil {
		return fmt.Errorf("repository: PutSession marshal: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutSession: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, phone string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(sessionPK(domain.NormalizePhone(phone)), skSessionState),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteSession: %w", err)
	}
	return nil
}

// Close is a no-op; the DynamoDB client holds no per-store resources.
func (s *SessionStore) Close() error {
	return nil
}
