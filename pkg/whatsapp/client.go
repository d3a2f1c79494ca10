package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"convodesk/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"
)

// Renderer resolves a stored template ID to a rendered message body.
type Renderer interface {
	Render(ctx context.Context, owner, templateID string, variables map[string]string) (string, error)
}

// Client talks to the WhatsApp Cloud (Graph) API and records outbound
// messages against their conversation when a database is attached.
type Client struct {
	baseURL    string
	token      string
	phoneID    string
	httpClient *http.Client
	logger     *logrus.Logger
	config     *Config

	db       *gorm.DB
	renderer Renderer
}

func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL: config.BaseURL,
		token:   config.AccessToken,
		phoneID: config.PhoneNumber,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		config: config,
	}
}

// SetDB attaches the application database so sends can resolve the
// recipient from the conversation and persist the outbound message.
func (c *Client) SetDB(db *gorm.DB) {
	c.db = db
}

// SetRenderer attaches a template renderer used when SendMessage is
// called with a template ID instead of literal content.
func (c *Client) SetRenderer(r Renderer) {
	c.renderer = r
}

func (c *Client) createRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	url := fmt.Sprintf("%s/%s%s", c.baseURL, c.config.APIVersion, endpoint)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", "Convodesk-WhatsApp-Client/1.0")

	return req, nil
}

func (c *Client) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("WhatsApp API Request: %s %s", req.Method, req.URL.String())
	c.logger.Debugf("WhatsApp API Response: %d %s", resp.StatusCode, string(body))

	if resp.StatusCode >= 400 {
		var errResp apiError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return fmt.Errorf("API error [%d]: %s (code: %d)", resp.StatusCode, errResp.Error.Message, errResp.Error.Code)
		}
		return fmt.Errorf("API error [%d]: %s", resp.StatusCode, string(body))
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) doRequestWithRetry(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			c.logger.Warnf("WhatsApp API retry attempt %d/%d", attempt, c.config.MaxRetries)
		}

		req, err := c.createRequest(ctx, method, endpoint, body)
		if err != nil {
			lastErr = err
			continue
		}

		if err := c.doRequest(req, result); err != nil {
			lastErr = err
			if attempt < c.config.MaxRetries {
				continue
			}
			break
		}

		return nil
	}

	return lastErr
}

// SendMessage sends a text message to the conversation's contact. When
// templateID is set and a renderer is attached, the template's rendered
// body replaces content.
func (c *Client) SendMessage(ctx context.Context, conversationID, content, templateID string) (*models.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation ID is required")
	}

	conv, contact, err := c.resolveConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if templateID != "" && c.renderer != nil {
		rendered, err := c.renderer.Render(ctx, conv.OwnerID, templateID, nil)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		content = rendered
	}
	if content == "" {
		return nil, fmt.Errorf("message content is required")
	}

	payload := &sendRequest{
		MessagingProduct: "whatsapp",
		To:               contact.PhoneNumber,
		Type:             "text",
		Text:             &textBody{Body: content},
	}

	var response sendResponse
	endpoint := fmt.Sprintf("/%s/messages", c.phoneID)
	if err := c.doRequestWithRetry(ctx, "POST", endpoint, payload, &response); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	return c.recordOutbound(ctx, conv, content, "text", externalID(&response))
}

// SendTemplate sends a pre-approved template by name.
func (c *Client) SendTemplate(ctx context.Context, conversationID, templateName, language string, variables map[string]string) (*models.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation ID is required")
	}
	if templateName == "" {
		return nil, fmt.Errorf("template name is required")
	}
	if language == "" {
		language = "en"
	}

	conv, contact, err := c.resolveConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	payload := &sendRequest{
		MessagingProduct: "whatsapp",
		To:               contact.PhoneNumber,
		Type:             "template",
		Template: &templatePayload{
			Name:       templateName,
			Language:   templateLanguage{Code: language},
			Components: bodyComponents(variables),
		},
	}

	var response sendResponse
	endpoint := fmt.Sprintf("/%s/messages", c.phoneID)
	if err := c.doRequestWithRetry(ctx, "POST", endpoint, payload, &response); err != nil {
		return nil, fmt.Errorf("send template: %w", err)
	}

	content := fmt.Sprintf("[template:%s]", templateName)
	return c.recordOutbound(ctx, conv, content, "template", externalID(&response))
}

// SendMedia sends an image or document by public link. mediaType must be
// "image" or "document".
func (c *Client) SendMedia(ctx context.Context, conversationID, mediaURL, caption, mediaType string) (*models.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation ID is required")
	}
	if mediaURL == "" {
		return nil, fmt.Errorf("media URL is required")
	}

	conv, contact, err := c.resolveConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	payload := &sendRequest{
		MessagingProduct: "whatsapp",
		To:               contact.PhoneNumber,
		Type:             mediaType,
	}
	media := &mediaPayload{Link: mediaURL, Caption: caption}
	switch mediaType {
	case "image":
		payload.Image = media
	case "document":
		payload.Document = media
	default:
		return nil, fmt.Errorf("unsupported media type: %s", mediaType)
	}

	var response sendResponse
	endpoint := fmt.Sprintf("/%s/messages", c.phoneID)
	if err := c.doRequestWithRetry(ctx, "POST", endpoint, payload, &response); err != nil {
		return nil, fmt.Errorf("send media: %w", err)
	}

	return c.recordMedia(ctx, conv, caption, mediaType, mediaURL, externalID(&response))
}

// HealthCheck verifies the phone number resource is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("/%s", c.phoneID)
	var response map[string]interface{}
	if err := c.doRequestWithRetry(ctx, "GET", endpoint, nil, &response); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (c *Client) resolveConversation(ctx context.Context, conversationID string) (*models.Conversation, *models.Contact, error) {
	if c.db == nil {
		return nil, nil, fmt.Errorf("no database attached")
	}
	var conv models.Conversation
	if err := c.db.WithContext(ctx).Where("id = ?", conversationID).First(&conv).Error; err != nil {
		return nil, nil, fmt.Errorf("resolve conversation: %w", err)
	}
	var contact models.Contact
	if err := c.db.WithContext(ctx).Where("id = ?", conv.ContactID).First(&contact).Error; err != nil {
		return nil, nil, fmt.Errorf("resolve contact: %w", err)
	}
	if contact.PhoneNumber == "" {
		return nil, nil, fmt.Errorf("contact %s has no phone number", contact.ID)
	}
	return &conv, &contact, nil
}

func (c *Client) recordOutbound(ctx context.Context, conv *models.Conversation, content, msgType, extID string) (*models.Message, error) {
	return c.recordMedia(ctx, conv, content, msgType, "", extID)
}

func (c *Client) recordMedia(ctx context.Context, conv *models.Conversation, content, msgType, mediaURL, extID string) (*models.Message, error) {
	msg := &models.Message{
		ConversationID: conv.ID,
		Content:        content,
		Type:           msgType,
		Direction:      models.DirectionOutbound,
		Status:         "sent",
		ExternalID:     extID,
		MediaURL:       mediaURL,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := c.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("record outbound message: %w", err)
	}
	return msg, nil
}

func externalID(resp *sendResponse) string {
	if len(resp.Messages) > 0 {
		return resp.Messages[0].ID
	}
	return ""
}

func bodyComponents(variables map[string]string) []templateComponent {
	if len(variables) == 0 {
		return nil
	}
	// The Cloud API matches body parameters by position, so emit them
	// in key order.
	keys := make([]string, 0, len(variables))
	for key := range variables {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	params := make([]templateParameter, 0, len(keys))
	for _, key := range keys {
		params = append(params, templateParameter{Type: "text", Text: variables[key]})
	}
	return []templateComponent{{Type: "body", Parameters: params}}
}
