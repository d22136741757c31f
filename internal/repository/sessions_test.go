package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"lead-qualifier/internal/domain"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func mustNewSessionStore(t *testing.T, db *fakeDynamo) *SessionStore {
	t.Helper()
	s, err := NewSessionStore(db, "sessions", 24*time.Hour)
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	return s
}

func sampleSession() domain.Session {
	s := domain.NewSession("919876543210", "lead-1", "group_size", fixedNow.Add(-time.Minute))
	s.Record("budget", domain.Response{
		Question:  "What is your budget?",
		Answer:    "₹50,000 - ₹1,00,000",
		Value:     "50000-100000",
		Timestamp: fixedNow,
	})
	return s
}

func TestSessionStore_PutItemShape(t *testing.T) {
	db := &fakeDynamo{}
	store := mustNewSessionStore(t, db)

	require.NoError(t, store.Put(context.Background(), sampleSession()))
	item := db.lastPutInput.Item
	require.Equal(t, "sessions", *db.lastPutInput.TableName)
	require.Equal(t, "SESSION#919876543210", sAttr(item, "PK"))
	require.Equal(t, "STATE", sAttr(item, "SK"))
	require.Equal(t, "lead-1", sAttr(item, "leadId"))
	require.Equal(t, "group_size", sAttr(item, "currentQuestionId"))
	require.Equal(t, strconv.FormatInt(fixedNow.Add(24*time.Hour).Unix(), 10), item["ttl"].(*types.AttributeValueMemberN).Value)
	require.Contains(t, item, "responses")
}

func TestSessionStore_RoundTrip(t *testing.T) {
	db := &fakeDynamo{}
	store := mustNewSessionStore(t, db)
	want := sampleSession()
	require.NoError(t, store.Put(context.Background(), want))

	db.getOut = &dynamodb.GetItemOutput{Item: db.lastPutInput.Item}
	got, ok, err := store.Get(context.Background(), "+91 98765 43210")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "SESSION#919876543210", sAttr(db.lastGetInput.Key, "PK"))
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, want.LeadID, got.LeadID)
	require.Equal(t, want.CurrentQuestionID, got.CurrentQuestionID)
	require.Equal(t, "50000-100000", got.Responses["budget"].Value)
	require.True(t, want.StartedAt.Equal(got.StartedAt))
}

func TestSessionStore_GetExpiredIsAbsent(t *testing.T) {
	db := &fakeDynamo{}
	store := mustNewSessionStore(t, db)
	require.NoError(t, store.Put(context.Background(), sampleSession()))
	db.getOut = &dynamodb.GetItemOutput{Item: db.lastPutInput.Item}

	store.now = func() time.Time { return fixedNow.Add(24 * time.Hour) }
	_, ok, err := store.Get(context.Background(), "919876543210")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSessionStore_GetMissing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	store := mustNewSessionStore(t, db)
	_, ok, err := store.Get(context.Background(), "919876543210")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSessionStore_GetErrors(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	store := mustNewSessionStore(t, db)
	_, _, err := store.Get(context.Background(), "919876543210")
	require.ErrorContains(t, err, "GetSession")

	db.getErr = nil
	db.getOut = &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "SESSION#1"},
	}}
	_, _, err = store.Get(context.Background(), "1")
	require.ErrorContains(t, err, "decode ttl")
}

func TestSessionStore_Delete(t *testing.T) {
	db := &fakeDynamo{}
	store := mustNewSessionStore(t, db)
	require.NoError(t, store.Delete(context.Background(), "919876543210"))
	require.Equal(t, "SESSION#919876543210", sAttr(db.lastDelInput.Key, "PK"))

	db.delErr = errors.New("boom")
	require.ErrorContains(t, store.Delete(context.Background(), "1"), "DeleteSession")
}

func TestSessionStore_PutErrors(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")}
	store := mustNewSessionStore(t, db)
	require.ErrorContains(t, store.Put(context.Background(), sampleSession()), "PutSession")
	require.ErrorContains(t, store.Put(context.Background(), domain.Session{}), "phone is required")
}

func TestNewSessionStore_Validation(t *testing.T) {
	_, err := NewSessionStore(nil, "t", time.Hour)
	require.ErrorContains(t, err, "must not be nil")
	_, err = NewSessionStore(&fakeDynamo{}, "", time.Hour)
	require.ErrorContains(t, err, "must not be empty")
	_, err = NewSessionStore(&fakeDynamo{}, "t", 0)
	require.ErrorContains(t, err, "ttl")
}
