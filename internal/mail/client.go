package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// metadataHeaders are the only headers fetched per message; bodies never
// leave the mail provider.
var metadataHeaders = []string{"From", "To", "Cc", "Bcc", "Subject"}

// HTTPClient implements Source and Labeler against a Gmail-style REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new mail API client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) ListMessages(ctx context.Context, req ListRequest) (*Page, error) {
	params := url.Values{}
	if req.Query != "" {
		params.Set("q", req.Query)
	}
	if req.Cursor != "" {
		params.Set("pageToken", req.Cursor)
	}
	if req.MaxResults > 0 {
		params.Set("maxResults", strconv.Itoa(req.MaxResults))
	}

	u := fmt.Sprintf("%s/users/me/messages?%s", c.baseURL, params.Encode())

	var listResp listMessagesResponse
	if err := c.getJSON(ctx, req.Credential, u, &listResp); err != nil {
		return nil, err
	}

	page := &Page{
		NextCursor:         listResp.NextPageToken,
		ResultSizeEstimate: listResp.ResultSizeEstimate,
	}

	for _, ref := range listResp.Messages {
		msg := Message{ID: ref.ID}
		if req.IncludeHeaders {
			fetched, err := c.getMessage(ctx, req.Credential, ref.ID)
			if err != nil {
				if IsTransient(err) {
					return nil, err
				}
				// A single unreadable message never fails the page.
				continue
			}
			msg = *fetched
		}
		page.Messages = append(page.Messages, msg)
	}

	return page, nil
}

func (c *HTTPClient) getMessage(ctx context.Context, credential, id string) (*Message, error) {
	params := url.Values{"format": {"metadata"}}
	for _, h := range metadataHeaders {
		params.Add("metadataHeaders", h)
	}
	u := fmt.Sprintf("%s/users/me/messages/%s?%s", c.baseURL, url.PathEscape(id), params.Encode())

	var resp messageResponse
	if err := c.getJSON(ctx, credential, u, &resp); err != nil {
		return nil, err
	}

	msg := &Message{ID: resp.ID}
	for _, h := range resp.Payload.Headers {
		switch {
		case strings.EqualFold(h.Name, "From"):
			msg.From = h.Value
		case strings.EqualFold(h.Name, "To"):
			msg.To = h.Value
		case strings.EqualFold(h.Name, "Cc"):
			msg.Cc = h.Value
		case strings.EqualFold(h.Name, "Bcc"):
			msg.Bcc = h.Value
		case strings.EqualFold(h.Name, "Subject"):
			msg.Subject = h.Value
		}
	}
	return msg, nil
}

func (c *HTTPClient) ModifyLabels(ctx context.Context, credential, messageID string, addLabelIDs, removeLabelIDs []string) error {
	u := fmt.Sprintf("%s/users/me/messages/%s/modify", c.baseURL, url.PathEscape(messageID))
	body := modifyRequest{AddLabelIDs: addLabelIDs, RemoveLabelIDs: removeLabelIDs}
	return c.postJSON(ctx, credential, u, body, nil)
}

func (c *HTTPClient) ResolveOrCreateLabel(ctx context.Context, credential, name string) (string, error) {
	u := fmt.Sprintf("%s/users/me/labels", c.baseURL)

	var listResp listLabelsResponse
	if err := c.getJSON(ctx, credential, u, &listResp); err != nil {
		return "", err
	}
	for _, l := range listResp.Labels {
		if l.ID == name || strings.EqualFold(l.Name, name) {
			return l.ID, nil
		}
	}

	var created label
	if err := c.postJSON(ctx, credential, u, label{Name: name}, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: label create returned no id", ErrPermanent)
	}
	return created.ID, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, credential, u string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(httpReq, credential, out)
}

func (c *HTTPClient) postJSON(ctx context.Context, credential, u string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, credential, out)
}

func (c *HTTPClient) do(req *http.Request, credential string, out any) error {
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding mail api response: %w", err)
	}
	return nil
}

// --- mail API wire types ---

type listMessagesResponse struct {
	Messages           []messageRef `json:"messages"`
	NextPageToken      string       `json:"nextPageToken"`
	ResultSizeEstimate int          `json:"resultSizeEstimate"`
}

type messageRef struct {
	ID string `json:"id"`
}

type messageResponse struct {
	ID      string `json:"id"`
	Payload struct {
		Headers []header `json:"headers"`
	} `json:"payload"`
}

type header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type modifyRequest struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
}

type listLabelsResponse struct {
	Labels []label `json:"labels"`
}

type label struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Compile-time checks that HTTPClient implements both contracts.
var (
	_ Source  = (*HTTPClient)(nil)
	_ Labeler = (*HTTPClient)(nil)
)
