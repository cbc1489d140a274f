package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"boxchat/internal/model"

	"github.com/gorilla/websocket"
)

// StatusError is a non-2xx reply from the relay.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay: %d %s", e.Code, e.Message)
}

type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: u, http: httpClient}, nil
}

// WithToken returns a copy that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) Signup(ctx context.Context, req model.SignupRequest) (*model.AuthResponse, error) {
	var out model.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, req model.LoginRequest) (*model.AuthResponse, error) {
	var out model.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Check(ctx context.Context) (*model.User, error) {
	var out model.UserResponse
	if err := c.do(ctx, http.MethodGet, "/auth/check", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) UpdateProfile(ctx context.Context, req model.UpdateProfileRequest) (*model.User, error) {
	var out model.UserResponse
	if err := c.do(ctx, http.MethodPut, "/auth/update-profile", req, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) UploadKey(ctx context.Context, publicKey string) error {
	return c.do(ctx, http.MethodPost, "/messages/upload-key", model.UploadKeyRequest{PublicKey: publicKey}, nil)
}

func (c *Client) Users(ctx context.Context) (*model.UsersResponse, error) {
	var out model.UsersResponse
	if err := c.do(ctx, http.MethodGet, "/messages/users", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, counterpartID string) ([]model.Message, error) {
	var out model.MessagesResponse
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(counterpartID), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) MarkSeen(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPut, "/messages/mark/"+url.PathEscape(messageID), nil, nil)
}

func (c *Client) Send(ctx context.Context, recipientID string, req model.SendRequest) (*model.Message, error) {
	var out model.SendResponse
	if err := c.do(ctx, http.MethodPost, "/messages/send/"+url.PathEscape(recipientID), req, &out); err != nil {
		return nil, err
	}
	if out.NewMessage == nil {
		return nil, fmt.Errorf("relay: send reply without message")
	}
	return out.NewMessage, nil
}

// Dial opens the realtime websocket for the current token.
func (c *Client) Dial(ctx context.Context, dialer *websocket.Dialer) (*websocket.Conn, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": []string{c.token}}.Encode()

	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
