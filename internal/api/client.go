// Package api talks to the Eco-Dispose HTTP backend. Every request carries the
// cookie-based session held in the client's jar.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"ecodispose/client/internal/model"
)

// ErrDecode marks a response body that could not be parsed.
var ErrDecode = errors.New("decode_failed")

// Error is a non-2xx answer from the backend.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// Message returns the server-provided message carried by err, if any.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

// File is an upload part.
type File struct {
	Name    string
	Content io.Reader
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client with its own cookie jar.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout, Jar: jar}), nil
}

func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// URL composes a server-relative path (image references) with the base URL.
func (c *Client) URL(path string) string {
	if path == "" {
		return c.baseURL
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

type userEnvelope struct {
	User *model.User `json:"user"`
}

type deviceEnvelope struct {
	Device *model.Device `json:"device"`
}

type devicesEnvelope struct {
	Devices []model.Device `json:"devices"`
}

func (c *Client) Register(ctx context.Context, reg model.Registration) error {
	form := newForm()
	form.field("firstName", reg.FirstName)
	form.field("lastName", reg.LastName)
	form.field("email", reg.Email)
	form.field("password", reg.Password)
	return c.do(ctx, http.MethodPost, "/auth/register", form, nil)
}

func (c *Client) Login(ctx context.Context, email, password string) (model.User, error) {
	form := newForm()
	form.field("email", email)
	form.field("password", password)
	return c.userCall(ctx, http.MethodPost, "/auth/login", form)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) Profile(ctx context.Context) (model.User, error) {
	return c.userCall(ctx, http.MethodGet, "/auth/profile", nil)
}

func (c *Client) EditProfile(ctx context.Context, user model.User, image *File) (model.User, error) {
	form := newForm()
	if err := form.json("user", user); err != nil {
		return model.User{}, err
	}
	if image != nil {
		if err := form.file("profileImage", *image); err != nil {
			return model.User{}, err
		}
	}
	return c.userCall(ctx, http.MethodPost, "/auth/edit", form)
}

func (c *Client) ListDevices(ctx context.Context) ([]model.Device, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/devices", nil, &raw); err != nil {
		return nil, err
	}
	return decodeDevices(raw)
}

func (c *Client) AddDevice(ctx context.Context, draft model.Device, image File) (model.Device, error) {
	form := newForm()
	if err := form.json("device", draft); err != nil {
		return model.Device{}, err
	}
	if err := form.file("image", image); err != nil {
		return model.Device{}, err
	}
	return c.deviceCall(ctx, http.MethodPost, "/devices", form)
}

func (c *Client) UpdateDevice(ctx context.Context, id model.ID, device model.Device) (model.Device, error) {
	body, err := json.Marshal(device)
	if err != nil {
		return model.Device{}, err
	}
	return c.deviceCall(ctx, http.MethodPut, "/devices/"+url.PathEscape(id.String()), jsonBody(body))
}

func (c *Client) DeleteDevice(ctx context.Context, id model.ID) error {
	return c.do(ctx, http.MethodDelete, "/devices/"+url.PathEscape(id.String()), nil, nil)
}

func (c *Client) userCall(ctx context.Context, method, path string, body requestBody) (model.User, error) {
	var env userEnvelope
	if err := c.do(ctx, method, path, body, &env); err != nil {
		return model.User{}, err
	}
	if env.User == nil {
		return model.User{}, fmt.Errorf("%w: %s response has no user", ErrDecode, path)
	}
	return *env.User, nil
}

func (c *Client) deviceCall(ctx context.Context, method, path string, body requestBody) (model.Device, error) {
	var env deviceEnvelope
	if err := c.do(ctx, method, path, body, &env); err != nil {
		return model.Device{}, err
	}
	if env.Device == nil {
		return model.Device{}, fmt.Errorf("%w: %s response has no device", ErrDecode, path)
	}
	return *env.Device, nil
}

// decodeDevices accepts the documented {"devices": [...]} envelope as well as
// the bare array the Flask backend returns.
func decodeDevices(raw json.RawMessage) ([]model.Device, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var devices []model.Device
		if err := json.Unmarshal(trimmed, &devices); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return devices, nil
	}
	var env devicesEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.Devices == nil {
		return []model.Device{}, nil
	}
	return env.Devices, nil
}

func (c *Client) do(ctx context.Context, method, path string, body requestBody, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		var err error
		reader, contentType, err = body.encode()
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrDecode, method, path, err)
	}
	return nil
}

// errorMessage extracts {"message": ...} or {"error": ...} from an error body.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

type requestBody interface {
	encode() (io.Reader, string, error)
}

type jsonBody []byte

func (b jsonBody) encode() (io.Reader, string, error) {
	return bytes.NewReader(b), "application/json", nil
}

type form struct {
	buf    bytes.Buffer
	writer *multipart.Writer
}

func newForm() *form {
	f := &form{}
	f.writer = multipart.NewWriter(&f.buf)
	return f
}

func (f *form) field(name, value string) {
	_ = f.writer.WriteField(name, value)
}

func (f *form) json(name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return f.writer.WriteField(name, string(data))
}

func (f *form) file(name string, file File) error {
	if file.Content == nil {
		return fmt.Errorf("missing %s content", name)
	}
	part, err := f.writer.CreateFormFile(name, file.Name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file.Content)
	return err
}

func (f *form) encode() (io.Reader, string, error) {
	if err := f.writer.Close(); err != nil {
		return nil, "", err
	}
	return &f.buf, f.writer.FormDataContentType(), nil
}
