package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nicklamont/slack-chat-migrator/internal/retryhttp"
)

const defaultBaseURL = "https://chat.googleapis.com/v1"

// Client talks to the chat service's import-mode API. Every call goes
// through the shared retry caller.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	caller  *retryhttp.Caller
	logger  *slog.Logger
}

func NewClient(token string, caller *retryhttp.Caller, logger *slog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		caller:  caller,
		logger:  logger,
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// Space is a target space resource.
type Space struct {
	Name                string `json:"name"`
	DisplayName         string `json:"displayName"`
	ExternalUserAllowed bool   `json:"externalUserAllowed"`
}

// SpaceRequest is the creation body for an import-mode space.
type SpaceRequest struct {
	DisplayName         string `json:"displayName"`
	SpaceType           string `json:"spaceType"`
	ImportMode          bool   `json:"importMode"`
	SpaceThreadingState string `json:"spaceThreadingState"`
	ExternalUserAllowed bool   `json:"externalUserAllowed,omitempty"`
	CreateTime          string `json:"createTime,omitempty"`
}

// NewSpaceRequest fills the fixed import-mode fields of a space creation body.
func NewSpaceRequest(displayName string, externalUserAllowed bool, createTime time.Time) SpaceRequest {
	req := SpaceRequest{
		DisplayName:         displayName,
		SpaceType:           "SPACE",
		ImportMode:          true,
		SpaceThreadingState: "THREADED_MESSAGES",
		ExternalUserAllowed: externalUserAllowed,
	}
	if !createTime.IsZero() {
		req.CreateTime = createTime.UTC().Format(time.RFC3339)
	}
	return req
}

// Member identifies a human member by target identity.
type Member struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type membershipRequest struct {
	Member     Member `json:"member"`
	CreateTime string `json:"createTime,omitempty"`
	DeleteTime string `json:"deleteTime,omitempty"`
}

// Thread references a message thread, either by a caller-chosen key (new
// roots) or by the resource name returned for an already-sent root.
type Thread struct {
	Name      string `json:"name,omitempty"`
	ThreadKey string `json:"thread_key,omitempty"`
}

// Sender attributes a message to a human identity.
type Sender struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// MessageRequest is the creation body for a historical message.
type MessageRequest struct {
	CreateTime string  `json:"createTime"`
	Sender     *Sender `json:"sender,omitempty"`
	Text       string  `json:"text"`
	Thread     *Thread `json:"thread,omitempty"`
}

// Message is the created message resource.
type Message struct {
	Name   string `json:"name"`
	Thread Thread `json:"thread"`
}

// CreateSpace creates a new space in import mode and returns it.
func (c *Client) CreateSpace(ctx context.Context, req SpaceRequest) (Space, error) {
	var space Space
	err := c.do(ctx, http.MethodPost, "/spaces", nil, req, &space)
	return space, err
}

// FindSpace searches existing spaces for one with the given display name.
// Used in update mode to reuse a space created by a prior run.
func (c *Client) FindSpace(ctx context.Context, displayName string) (Space, bool, error) {
	pageToken := ""
	for {
		q := url.Values{"pageSize": {"100"}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page struct {
			Spaces        []Space `json:"spaces"`
			NextPageToken string  `json:"nextPageToken"`
		}
		if err := c.do(ctx, http.MethodGet, "/spaces", q, nil, &page); err != nil {
			return Space{}, false, err
		}
		for _, s := range page.Spaces {
			if s.DisplayName == displayName {
				return s, true, nil
			}
		}
		if page.NextPageToken == "" {
			return Space{}, false, nil
		}
		pageToken = page.NextPageToken
	}
}

// CompleteImport finishes import mode on a space. No request body.
func (c *Client) CompleteImport(ctx context.Context, space string) error {
	return c.do(ctx, http.MethodPost, "/"+space+":completeImport", nil, struct{}{}, nil)
}

// SetExternalUserAllowed patches the external-access flag. Import completion
// can silently reset it, so activation re-asserts it when needed.
func (c *Client) SetExternalUserAllowed(ctx context.Context, space string, allowed bool) error {
	q := url.Values{"updateMask": {"externalUserAllowed"}}
	body := map[string]bool{"externalUserAllowed": allowed}
	return c.do(ctx, http.MethodPatch, "/"+space, q, body, nil)
}

// DeleteSpace removes a space, used by cleanup-on-error.
func (c *Client) DeleteSpace(ctx context.Context, space string) error {
	return c.do(ctx, http.MethodDelete, "/"+space, nil, nil, nil)
}

// CreateHistoricalMembership adds a membership window with both times in the
// past, valid only while the space is in import mode.
func (c *Client) CreateHistoricalMembership(ctx context.Context, space, email string, createTime, deleteTime time.Time) error {
	body := membershipRequest{
		Member:     Member{Name: "users/" + email, Type: "HUMAN"},
		CreateTime: createTime.UTC().Format(time.RFC3339),
		DeleteTime: deleteTime.UTC().Format(time.RFC3339),
	}
	return c.do(ctx, http.MethodPost, "/"+space+"/members", nil, body, nil)
}

// CreateMembership adds a live member. No time fields.
func (c *Client) CreateMembership(ctx context.Context, space, email string) error {
	body := membershipRequest{
		Member: Member{Name: "users/" + email, Type: "HUMAN"},
	}
	return c.do(ctx, http.MethodPost, "/"+space+"/members", nil, body, nil)
}

// CreateMessage submits a historical message under a deterministic message
// identifier so retries and resumed runs cannot double-send. The reply
// fallback option lets the service start a fresh thread for out-of-order
// replies whose root is not yet known.
func (c *Client) CreateMessage(ctx context.Context, space, messageID string, req MessageRequest) (Message, error) {
	q := url.Values{
		"messageId":          {messageID},
		"messageReplyOption": {"REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD"},
	}
	var msg Message
	err := c.do(ctx, http.MethodPost, "/"+space+"/messages", q, req, &msg)
	return msg, err
}

// CreateReaction adds an emoji reaction to a sent message. Best effort.
func (c *Client) CreateReaction(ctx context.Context, messageName, unicode string) error {
	body := map[string]any{"emoji": map[string]string{"unicode": unicode}}
	return c.do(ctx, http.MethodPost, "/"+messageName+"/reactions", nil, body, nil)
}

// CheckAccess performs a cheap pre-flight call verifying the credentials can
// reach the spaces API at all.
func (c *Client) CheckAccess(ctx context.Context) error {
	q := url.Values{"pageSize": {"1"}}
	return c.do(ctx, http.MethodGet, "/spaces", q, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return c.caller.Do(ctx, method+" "+path, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("api call: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &retryhttp.StatusError{
				Code:       resp.StatusCode,
				Body:       string(respBody),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return nil
	})
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
