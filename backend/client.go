package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatlink/models"
)

// DefaultRequestTimeout bounds each backend call when no client override exists.
const DefaultRequestTimeout = 15 * time.Second

var (
	// ErrAuthRejected indicates the backend refused the credentials.
	ErrAuthRejected = errors.New("backend: authentication rejected")
)

// Options controls the backend HTTP client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client talks to the HTTP backend: auth, contact search, conversation access,
// message history, and message persistence. The real-time channel is separate.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a backend client with validated configuration.
func New(options Options) (*Client, error) {
	if options.BaseURL == "" {
		return nil, errors.New("backend: base URL is required")
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(options.BaseURL, "/"),
		httpClient: httpClient,
		logger:     options.Logger,
	}, nil
}

type wireUser struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

type wireChat struct {
	ID          string     `json:"_id"`
	IsGroupChat bool       `json:"isGroupChat"`
	ChatName    string     `json:"chatName"`
	Users       []wireUser `json:"users"`
}

type wireHistoryItem struct {
	ID       string `json:"_id,omitempty"`
	FromSelf bool   `json:"fromSelf"`
	Message  string `json:"message"`
	Time     string `json:"time"`
	Name     string `json:"name"`
}

type authResponse struct {
	Status bool     `json:"status"`
	Msg    string   `json:"msg,omitempty"`
	User   wireUser `json:"user"`
}

// Login authenticates and returns the local user reference.
func (c *Client) Login(ctx context.Context, username, password string) (models.UserRef, error) {
	body := map[string]string{"username": username, "password": password}

	var response authResponse
	if err := c.post(ctx, "/api/auth/login", nil, body, &response); err != nil {
		return models.UserRef{}, err
	}
	if !response.Status {
		if response.Msg != "" {
			return models.UserRef{}, fmt.Errorf("%w: %s", ErrAuthRejected, response.Msg)
		}
		return models.UserRef{}, ErrAuthRejected
	}

	return models.UserRef{ID: response.User.ID, Username: response.User.Username}, nil
}

// Register creates an account and returns the local user reference.
func (c *Client) Register(ctx context.Context, username, email, password string) (models.UserRef, error) {
	body := map[string]string{"username": username, "email": email, "password": password}

	var response authResponse
	if err := c.post(ctx, "/api/auth/register", nil, body, &response); err != nil {
		return models.UserRef{}, err
	}
	if !response.Status {
		if response.Msg != "" {
			return models.UserRef{}, fmt.Errorf("%w: %s", ErrAuthRejected, response.Msg)
		}
		return models.UserRef{}, ErrAuthRejected
	}

	return models.UserRef{ID: response.User.ID, Username: response.User.Username}, nil
}

// Contacts returns every other registered user for the contact list.
func (c *Client) Contacts(ctx context.Context, localUserID string) ([]models.UserRef, error) {
	var users []wireUser
	if err := c.get(ctx, "/api/auth/allusers/"+url.PathEscape(localUserID), nil, &users); err != nil {
		return nil, err
	}
	return toUserRefs(users), nil
}

// SearchUsers returns users matching a name or email query.
func (c *Client) SearchUsers(ctx context.Context, localUserID, query string) ([]models.UserRef, error) {
	params := url.Values{}
	params.Set("search", query)
	params.Set("user", localUserID)

	var users []wireUser
	if err := c.get(ctx, "/api/auth/allusers", params, &users); err != nil {
		return nil, err
	}
	return toUserRefs(users), nil
}

// AccessChat returns the 1:1 conversation with another user, creating it on
// the backend if it does not exist yet.
func (c *Client) AccessChat(ctx context.Context, localUserID, otherUserID string) (models.Conversation, error) {
	params := url.Values{}
	params.Set("user", localUserID)
	body := map[string]string{"userId": otherUserID}

	var chat wireChat
	if err := c.post(ctx, "/api/chat", params, body, &chat); err != nil {
		return models.Conversation{}, err
	}
	if chat.ID == "" {
		return models.Conversation{}, errors.New("backend: chat response missing id")
	}
	return toConversation(chat), nil
}

// FetchMessages returns the persisted history for one conversation, oldest first.
func (c *Client) FetchMessages(ctx context.Context, localUserID, conversationID string) ([]models.Message, error) {
	body := map[string]string{"from": localUserID, "to": conversationID}

	var items []wireHistoryItem
	if err := c.post(ctx, "/api/messages/getmsg", nil, body, &items); err != nil {
		return nil, err
	}

	history := make([]models.Message, 0, len(items))
	for _, item := range items {
		message := models.Message{
			ID:             item.ID,
			SenderName:     item.Name,
			ConversationID: conversationID,
			Body:           item.Message,
			SentAt:         item.Time,
			Origin:         models.OriginPeer,
		}
		if item.FromSelf {
			message.Origin = models.OriginSelf
			message.SenderID = localUserID
		}
		history = append(history, message)
	}
	return history, nil
}

// PersistMessage stores an outbound message before it is mirrored onto the
// channel.
func (c *Client) PersistMessage(ctx context.Context, message models.Message, conversation models.Conversation) error {
	body := map[string]any{
		"from":    message.SenderID,
		"name":    message.SenderName,
		"to":      conversation.ID,
		"message": message.Body,
		"time":    message.SentAt,
		"chat":    fromConversation(conversation),
	}
	return c.post(ctx, "/api/messages/addmsg", nil, body, nil)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

func (c *Client) post(ctx context.Context, path string, params url.Values, body, out any) error {
	return c.do(ctx, http.MethodPost, path, params, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", response.StatusCode).Msg("backend request")
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, response.StatusCode)
	}
	if out == nil {
		return nil
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func toUserRefs(users []wireUser) []models.UserRef {
	out := make([]models.UserRef, 0, len(users))
	for _, user := range users {
		out = append(out, models.UserRef{ID: user.ID, Username: user.Username})
	}
	return out
}

func toConversation(chat wireChat) models.Conversation {
	participants := make([]models.UserRef, 0, len(chat.Users))
	for _, user := range chat.Users {
		participants = append(participants, models.UserRef{ID: user.ID, Username: user.Username})
	}
	return models.Conversation{
		ID:           chat.ID,
		IsGroup:      chat.IsGroupChat,
		Name:         chat.ChatName,
		Participants: participants,
	}
}

func fromConversation(conversation models.Conversation) wireChat {
	users := make([]wireUser, 0, len(conversation.Participants))
	for _, participant := range conversation.Participants {
		users = append(users, wireUser{ID: participant.ID, Username: participant.Username})
	}
	return wireChat{
		ID:          conversation.ID,
		IsGroupChat: conversation.IsGroup,
		ChatName:    conversation.Name,
		Users:       users,
	}
}
