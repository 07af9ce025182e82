package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/auth"
	pb "github.com/mqy/minichat/proto"
)

const (
	PathMessages      = "/chat/messages/"
	PathChats         = "/chat/chats/"
	PathSendMessage   = "/chat/send-message/"
	PathMessageDelete = "/chat/message-delete/"
	PathClearChat     = "/chat/clear-chat/"
	PathBlockUser     = "/chat/block-user/"

	defaultTimeout = 8 * time.Second
	uploadTimeout  = 2 * time.Minute

	// max bytes of a JSON answer to read.
	maxResponseBytes = 4 << 20
)

type Config struct {
	// BaseURL is the server root, e.g. http://127.0.0.1:8000.
	BaseURL string
	Timeout time.Duration
}

var _ IClient = (*Client)(nil)

// Client implements IClient over HTTP.
type Client struct {
	baseURL    string
	session    *auth.Session
	httpClient *http.Client
}

func NewClient(conf Config, session *auth.Session) *Client {
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(conf.BaseURL, "/"),
		session: session,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) FetchMessages(ctx context.Context, key string) (*MessagesResp, error) {
	var out MessagesResp
	if err := c.postJSON(ctx, PathMessages, map[string]string{"chat": key}, http.StatusOK, &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = pb.Sections{}
	}
	return &out, nil
}

func (c *Client) FetchChats(ctx context.Context) ([]*pb.ChatPreview, error) {
	req, err := c.newRequest(ctx, http.MethodGet, PathChats, nil)
	if err != nil {
		return nil, err
	}
	var out []*pb.ChatPreview
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMedia(ctx context.Context, key string, item MediaItem) (*pb.Message, error) {
	body, contentType, err := encodeMedia(key, item)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, PathSendMessage, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var out pb.Message
	if err := c.doWith(&http.Client{Transport: c.httpClient.Transport}, req, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, key string, id int64) (pb.Sections, error) {
	payload := map[string]string{"id": strconv.FormatInt(id, 10), "name": key}
	var out pb.Sections
	if err := c.postJSON(ctx, PathMessageDelete, payload, http.StatusOK, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = pb.Sections{}
	}
	return out, nil
}

func (c *Client) ClearChat(ctx context.Context, key string) error {
	return c.postJSON(ctx, PathClearChat, map[string]string{"name": key}, http.StatusOK, nil)
}

func (c *Client) BlockUser(ctx context.Context, peer string, block bool) error {
	status := "unblock"
	if block {
		status = "block"
	}
	return c.postJSON(ctx, PathBlockUser, map[string]string{"user": peer, "status": status}, http.StatusOK, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, expect int, out interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, expect, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	identity, ok := c.session.Identity()
	if !ok {
		return nil, c.session.Err()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+identity.Token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, expect int, out interface{}) error {
	return c.doWith(c.httpClient, req, expect, out)
}

func (c *Client) doWith(hc *http.Client, req *http.Request, expect int, out interface{}) error {
	res, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("api: %s %s: read body: %w", req.Method, req.URL.Path, err)
	}

	glog.V(5).Infof("api: %s %s -> %d, %d bytes", req.Method, req.URL.Path, res.StatusCode, len(body))

	if res.StatusCode == http.StatusUnauthorized {
		c.session.Invalidate()
		return ErrUnauthorized
	}
	// a 2xx other than the documented one is still success; the body decides.
	if res.StatusCode != expect && (res.StatusCode < 200 || res.StatusCode > 299) {
		return &StatusError{Code: res.StatusCode, Detail: errorDetail(body)}
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("api: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func errorDetail(body []byte) string {
	var e struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil && len(e.Detail) > 0 {
		var s string
		if json.Unmarshal(e.Detail, &s) == nil {
			return s
		}
		return string(e.Detail)
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return strings.TrimSpace(string(body))
}

// encodeMedia builds the multipart form {type, name, file}.
func encodeMedia(key string, item MediaItem) (io.Reader, string, error) {
	f, err := os.Open(item.Path)
	if err != nil {
		return nil, "", fmt.Errorf("api: open media: %w", err)
	}
	defer f.Close()

	name := item.Name
	if name == "" {
		name = filepath.Base(item.Path)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("type", string(item.Kind)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("name", key); err != nil {
		return nil, "", err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", item.Kind.ContentType())
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("api: read media: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
