package repository

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

	"tripc-agent/internal/domain"
)

const (
	skPrefixMsg     = "MSG#"
	skMeta          = "META#"
	skBooking       = "BOOKING#"
	ttlDuration     = 30 * 24 * time.Hour // 30-day TTL
	bookingsPending = "pending"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a single DynamoDB table holding conversation transcripts and
// booking requests.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func bookingPK(reference string) string {
	return "BOOKING#" + reference
}

func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// SaveCompletedTurn writes one question/answer pair and bumps the
// conversation's META# record in a single transaction. The meta update is
// conditioned on the stored owner so a reused key cannot adopt another
// identity's transcript.
func (c *Client) SaveCompletedTurn(ctx context.Context, conversationID, owner, question, answer string, intent domain.Intent) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: SaveCompletedTurn: conversation id is required")
	}
	msg := c.NewTranscriptMessage(conversationID, question, answer, intent)
	meta := c.NewConversationMeta(conversationID, owner)
	if err := c.SaveTurn(ctx, msg, meta); err != nil {
		return fmt.Errorf("repository: SaveCompletedTurn: %w", err)
	}
	return nil
}

// SaveTurn writes msg and upserts meta in one transaction.
func (c *Client) SaveTurn(ctx context.Context, msg domain.TranscriptMessage, meta domain.ConversationMeta) error {
	if msg.PK == "" || msg.SK == "" {
		return errors.New("repository: SaveTurn: message PK and SK are required")
	}
	if meta.PK == "" || meta.SK == "" {
		return errors.New("repository: SaveTurn: meta PK and SK are required")
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: meta.PK},
						"SK": &types.AttributeValueMemberS{Value: meta.SK},
					},
					UpdateExpression: aws.String("SET conversationId = :cid, #owner = if_not_exists(#owner, :owner), " +
						"lastActivity = :last, #ttl = :ttl ADD turns :one"),
					ConditionExpression: aws.String("attribute_not_exists(#owner) OR #owner = :owner"),
					ExpressionAttributeNames: map[string]string{
						"#owner": "owner",
						"#ttl":   "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":cid":   &types.AttributeValueMemberS{Value: meta.ConversationID},
						":owner": &types.AttributeValueMemberS{Value: meta.Owner},
						":last":  &types.AttributeValueMemberS{Value: meta.LastActivity},
						":ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(meta.TTL, 10)},
						":one":   &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// SaveBooking stores a booking request. References are unique; an existing
// record under the same reference is never overwritten.
func (c *Client) SaveBooking(ctx context.Context, rec domain.BookingRecord) error {
	if strings.TrimSpace(rec.Reference) == "" {
		return errors.New("repository: SaveBooking: reference is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                bookingItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveBooking: %w", err)
	}
	return nil
}

// NewTranscriptMessage constructs a TranscriptMessage keyed by the current time.
func (c *Client) NewTranscriptMessage(conversationID, question, answer string, intent domain.Intent) domain.TranscriptMessage {
	return domain.TranscriptMessage{
		PK:             convPK(conversationID),
		SK:             msgSK(c.now()),
		ConversationID: conversationID,
		Question:       question,
		Answer:         answer,
		Intent:         string(intent),
		TTL:            c.ttlValue(),
	}
}

// NewConversationMeta constructs the META# record for a conversation.
func (c *Client) NewConversationMeta(conversationID, owner string) domain.ConversationMeta {
	return domain.ConversationMeta{
		PK:             convPK(conversationID),
		SK:             skMeta,
		ConversationID: conversationID,
		Owner:          owner,
		LastActivity:   c.now().UTC().Format(time.RFC3339),
		TTL:            c.ttlValue(),
	}
}

func messageItem(msg domain.TranscriptMessage) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: msg.PK},
		"SK":             &types.AttributeValueMemberS{Value: msg.SK},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"question":       &types.AttributeValueMemberS{Value: msg.Question},
		"answer":         &types.AttributeValueMemberS{Value: msg.Answer},
		"intent":         &types.AttributeValueMemberS{Value: msg.Intent},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.TTL, 10)},
	}
}

func bookingItem(rec domain.BookingRecord) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: bookingPK(rec.Reference)},
		"SK":        &types.AttributeValueMemberS{Value: skBooking},
		"reference": &types.AttributeValueMemberS{Value: rec.Reference},
		"name":      &types.AttributeValueMemberS{Value: rec.Name},
		"email":     &types.AttributeValueMemberS{Value: rec.Email},
		"phone":     &types.AttributeValueMemberS{Value: rec.Phone},
		"partySize": &types.AttributeValueMemberN{Value: strconv.Itoa(rec.PartySize)},
		"status":    &types.AttributeValueMemberS{Value: bookingsPending},
		"createdAt": &types.AttributeValueMemberS{Value: rec.CreatedAt.UTC().Format(time.RFC3339)},
	}
	// Empty strings are valid DynamoDB values but add nothing to the record.
	for name, v := range map[string]string{
		"conversationId": rec.ConversationID,
		"note":           rec.Note,
		"place":          rec.Place,
	} {
		if v != "" {
			item[name] = &types.AttributeValueMemberS{Value: v}
		}
	}
	return item
}
