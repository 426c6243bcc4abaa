// Package platform wraps the conversation platform's REST API. The offline
// queue replays outbound messages through it and the read endpoint forwards
// read receipts.
package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

// ClientAPI is the surface the usecase and offline layers depend on.
type ClientAPI interface {
	CreateContact(ctx context.Context, payload ContactPayload) (*Contact, error)
	FindContactByPhone(ctx context.Context, phoneNumber string) (*Contact, error)
	CreateConversation(ctx context.Context, contactID int) (*Conversation, error)
	ConversationsForContact(ctx context.Context, contactID int) ([]Conversation, error)
	CreateMessage(ctx context.Context, conversationID int, payload MessagePayload) (*Message, error)
	MarkConversationRead(ctx context.Context, conversationID int) error
	Ping(ctx context.Context) error
}

// Client talks to the conversation platform over HTTP.
type Client struct {
	httpClient *resty.Client
	accountID  string
	inboxID    string
}

var _ ClientAPI = (*Client)(nil)

// NewClient creates a platform client. The access token is sent on every
// request via the api_access_token header.
func NewClient(baseURL, accessToken, accountID, inboxID string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("platform baseURL cannot be empty")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("platform accessToken cannot be empty")
	}
	if accountID == "" {
		return nil, fmt.Errorf("platform accountID cannot be empty")
	}
	if inboxID == "" {
		return nil, fmt.Errorf("platform inboxID cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("api_access_token", accessToken).
		SetTimeout(timeout)

	return &Client{
		httpClient: httpClient,
		accountID:  accountID,
		inboxID:    inboxID,
	}, nil
}

// CreateContact creates a contact on the platform.
func (c *Client) CreateContact(ctx context.Context, payload ContactPayload) (*Contact, error) {
	log := logger.FromContext(ctx)
	url := fmt.Sprintf("/api/v1/accounts/%s/contacts", c.accountID)
	payload.InboxID = c.inboxID

	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&Contact{}).
		Post(url)
	observer.ObservePlatformRequest("create_contact", statusLabel(resp, err), time.Since(start))

	if err != nil {
		return nil, apperrors.NewRetryable(err, "platform CreateContact request failed")
	}
	if resp.IsError() {
		return nil, c.apiError("CreateContact", resp)
	}

	contact := resp.Result().(*Contact)
	log.Debug("Created platform contact",
		zap.Int("contact_id", contact.ID),
		zap.String("phone_number", contact.PhoneNumber))
	return contact, nil
}

// FindContactByPhone searches for a contact by phone number. A missing
// contact is not an error, the method returns (nil, nil).
func (c *Client) FindContactByPhone(ctx context.Context, phoneNumber string) (*Contact, error) {
	url := fmt.Sprintf("/api/v1/accounts/%s/contacts/search", c.accountID)

	var searchResult contactSearchResponse
	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("q", phoneNumber).
		SetResult(&searchResult).
		Get(url)
	observer.ObservePlatformRequest("find_contact", statusLabel(resp, err), time.Since(start))

	if err != nil {
		return nil, apperrors.NewRetryable(err, "platform FindContactByPhone request failed")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, c.apiError("FindContactByPhone", resp)
	}

	// The search query is broad, only an exact phone match counts.
	for i := range searchResult.Payload {
		if searchResult.Payload[i].PhoneNumber == phoneNumber {
			return &searchResult.Payload[i], nil
		}
	}
	return nil, nil
}

// CreateConversation creates an open conversation for the contact. When the
// platform answers 409 an open conversation already exists, so it is fetched
// and returned instead.
func (c *Client) CreateConversation(ctx context.Context, contactID int) (*Conversation, error) {
	log := logger.FromContext(ctx)
	url := fmt.Sprintf("/api/v1/accounts/%s/conversations", c.accountID)
	payload := ConversationPayload{InboxID: c.inboxID, ContactID: contactID, Status: "open"}

	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&Conversation{}).
		Post(url)
	observer.ObservePlatformRequest("create_conversation", statusLabel(resp, err), time.Since(start))

	if err != nil {
		return nil, apperrors.NewRetryable(err, "platform CreateConversation request failed")
	}
	if resp.StatusCode() == http.StatusConflict {
		log.Debug("Conversation already exists on platform, fetching",
			zap.Int("contact_id", contactID))
		return c.openConversationFor(ctx, contactID)
	}
	if resp.IsError() {
		return nil, c.apiError("CreateConversation", resp)
	}

	return resp.Result().(*Conversation), nil
}

// ConversationsForContact lists the contact's conversations.
func (c *Client) ConversationsForContact(ctx context.Context, contactID int) ([]Conversation, error) {
	url := fmt.Sprintf("/api/v1/accounts/%s/contacts/%d/conversations", c.accountID, contactID)

	var listResult conversationListResponse
	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&listResult).
		Get(url)
	observer.ObservePlatformRequest("list_conversations", statusLabel(resp, err), time.Since(start))

	if err != nil {
		return nil, apperrors.NewRetryable(err, "platform ConversationsForContact request failed")
	}
	if resp.IsError() {
		return nil, c.apiError("ConversationsForContact", resp)
	}
	return listResult.Payload, nil
}

// CreateMessage appends a message to a platform conversation.
func (c *Client) CreateMessage(ctx context.Context, conversationID int, payload MessagePayload) (*Message, error) {
	url := fmt.Sprintf("/api/v1/accounts/%s/conversations/%d/messages", c.accountID, conversationID)

	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&Message{}).
		Post(url)
	observer.ObservePlatformRequest("create_message", statusLabel(resp, err), time.Since(start))

	if err != nil {
		return nil, apperrors.NewRetryable(err, "platform CreateMessage request failed")
	}
	if resp.IsError() {
		return nil, c.apiError("CreateMessage", resp)
	}
	return resp.Result().(*Message), nil
}

// MarkConversationRead forwards a read receipt to the platform.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID int) error {
	url := fmt.Sprintf("/api/v1/accounts/%s/conversations/%d/update_last_seen", c.accountID, conversationID)

	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Post(url)
	observer.ObservePlatformRequest("mark_read", statusLabel(resp, err), time.Since(start))

	if err != nil {
		return apperrors.NewRetryable(err, "platform MarkConversationRead request failed")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("conversation %d: %w", conversationID, apperrors.ErrNotFound)
	}
	if resp.IsError() {
		return c.apiError("MarkConversationRead", resp)
	}
	return nil
}

// Ping probes platform reachability. Any parseable HTTP answer counts as
// online, auth errors included; only transport failures count as offline.
func (c *Client) Ping(ctx context.Context) error {
	url := fmt.Sprintf("/api/v1/accounts/%s/conversations", c.accountID)

	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("per_page", "1").
		Get(url)
	observer.ObservePlatformRequest("ping", statusLabel(resp, err), time.Since(start))

	if err != nil {
		return apperrors.NewRetryable(err, "platform unreachable")
	}
	return nil
}

// openConversationFor resolves a 409 on create by returning the contact's
// open conversation.
func (c *Client) openConversationFor(ctx context.Context, contactID int) (*Conversation, error) {
	conversations, err := c.ConversationsForContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	for i := range conversations {
		if conversations[i].Status == "open" {
			return &conversations[i], nil
		}
	}
	return nil, fmt.Errorf("no open conversation for contact %d after conflict: %w", contactID, apperrors.ErrNotFound)
}

// apiError maps platform HTTP errors onto the retryable/fatal split: 5xx and
// 429 are worth retrying, the rest are not.
func (c *Client) apiError(operation string, resp *resty.Response) error {
	err := fmt.Errorf("platform %s error: status %s, body: %s", operation, resp.Status(), resp.String())
	if resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests {
		return apperrors.NewRetryable(err, "platform request failed")
	}
	return apperrors.NewFatal(err, "platform rejected request")
}

func statusLabel(resp *resty.Response, err error) string {
	if err != nil {
		return "transport_error"
	}
	if resp.IsError() {
		return fmt.Sprintf("http_%d", resp.StatusCode())
	}
	return "success"
}
