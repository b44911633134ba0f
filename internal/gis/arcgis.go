package gis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"webmapapi/internal/config"
)

const (
	restPath         = "/sharing/rest"
	maxResponseBytes = 4 << 20
	// tokens are refreshed this long before the portal expires them
	tokenSkew = time.Minute
)

// ArcGIS is a Client for ArcGIS Online and ArcGIS Enterprise portals using
// the Sharing REST API. It is safe for concurrent use.
type ArcGIS struct {
	portal   string
	http     *http.Client
	apiKey   string
	password string
	referer  string
	tokenTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time

	ownerMu  sync.Mutex
	username string
}

var _ Client = (*ArcGIS)(nil)

// NewArcGIS validates cfg and builds a portal client. A nil httpClient gets
// an otelhttp-instrumented client with cfg.TimeoutSec as its timeout.
func NewArcGIS(cfg config.GISConfig, httpClient *http.Client) (*ArcGIS, error) {
	portal := strings.TrimRight(cfg.PortalURL, "/")
	if portal == "" {
		return nil, ErrPortalURL
	}
	if _, err := url.ParseRequestURI(portal); err != nil {
		return nil, fmt.Errorf("gis: invalid portal url: %w", err)
	}
	if cfg.APIKey == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, ErrNoCredentials
	}

	if httpClient == nil {
		timeout := time.Duration(cfg.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	ttl := time.Duration(cfg.TokenExpMin) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &ArcGIS{
		portal:   portal,
		http:     httpClient,
		apiKey:   cfg.APIKey,
		username: cfg.Username,
		password: cfg.Password,
		referer:  cfg.Referer,
		tokenTTL: ttl,
		now:      time.Now,
	}, nil
}

// ItemPageURL is the portal's landing page for an item.
func (c *ArcGIS) ItemPageURL(itemID string) string {
	return c.portal + "/home/item.html?id=" + url.QueryEscape(itemID)
}

// AddItem uploads data as a new item. The returned URL is the item's own url
// when the portal assigns one, otherwise its item page.
func (c *ArcGIS) AddItem(ctx context.Context, props ItemProperties, data Upload) (*Item, error) {
	if data.Body == nil {
		return nil, fmt.Errorf("gis: add item: empty upload body")
	}
	owner, err := c.owner(ctx)
	if err != nil {
		return nil, err
	}
	content, err := io.ReadAll(data.Body)
	if err != nil {
		return nil, fmt.Errorf("gis: read upload: %w", err)
	}

	endpoint := c.userContentURL(owner, "addItem")
	var out struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	err = c.call(ctx, func(token string) (*http.Request, error) {
		body, contentType, err := addItemForm(token, props, data, content)
		if err != nil {
			return nil, err
		}
		req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("gis: add item: %w", err)
	}
	if !out.Success || out.ID == "" {
		return nil, fmt.Errorf("gis: add item: %w", ErrNotSuccessful)
	}

	item, err := c.GetItem(ctx, out.ID)
	if err != nil {
		// the item exists; only its details are unavailable
		item = &Item{ID: out.ID, Title: props.Title, Type: props.Type, Owner: owner}
	}
	if item.URL == "" {
		item.URL = c.ItemPageURL(out.ID)
	}
	return item, nil
}

// Share sets the item's public visibility.
func (c *ArcGIS) Share(ctx context.Context, itemID string, everyone bool) error {
	owner, err := c.owner(ctx)
	if err != nil {
		return err
	}

	endpoint := c.userContentURL(owner, "items", itemID, "share")
	var out struct {
		ItemID        string   `json:"itemId"`
		NotSharedWith []string `json:"notSharedWith"`
	}
	err = c.call(ctx, func(token string) (*http.Request, error) {
		return c.postForm(ctx, endpoint, url.Values{
			"everyone": {strconv.FormatBool(everyone)},
			"org":      {"false"},
			"groups":   {""},
			"token":    {token},
		})
	}, &out)
	if err != nil {
		return fmt.Errorf("gis: share item %s: %w", itemID, err)
	}
	if len(out.NotSharedWith) > 0 {
		return fmt.Errorf("gis: share item %s: not shared with %v: %w", itemID, out.NotSharedWith, ErrNotSuccessful)
	}
	return nil
}

// GetItem fetches item details. URL is left as reported by the portal.
// AddItem uses it to pick up the url the portal assigned.
func (c *ArcGIS) GetItem(ctx context.Context, itemID string) (*Item, error) {
	endpoint := c.portal + restPath + "/content/items/" + url.PathEscape(itemID)
	var item Item
	err := c.call(ctx, func(token string) (*http.Request, error) {
		q := url.Values{"f": {"json"}, "token": {token}}
		return c.newRequest(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	}, &item)
	if err != nil {
		return nil, fmt.Errorf("gis: get item %s: %w", itemID, err)
	}
	return &item, nil
}

// DeleteItem removes the item from the owner's content.
func (c *ArcGIS) DeleteItem(ctx context.Context, itemID string) error {
	owner, err := c.owner(ctx)
	if err != nil {
		return err
	}

	endpoint := c.userContentURL(owner, "items", itemID, "delete")
	var out struct {
		Success bool `json:"success"`
	}
	err = c.call(ctx, func(token string) (*http.Request, error) {
		return c.postForm(ctx, endpoint, url.Values{"token": {token}})
	}, &out)
	if err != nil {
		if isMissingItem(err) {
			return fmt.Errorf("gis: delete item %s: %w: %w", itemID, ErrItemNotFound, err)
		}
		return fmt.Errorf("gis: delete item %s: %w", itemID, err)
	}
	if !out.Success {
		return fmt.Errorf("gis: delete item %s: %w", itemID, ErrNotSuccessful)
	}
	return nil
}

// call runs one authenticated request. A token rejection clears the cached
// token and the request is rebuilt and sent once more.
func (c *ArcGIS) call(ctx context.Context, build func(token string) (*http.Request, error), out any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		req, err := build(token)
		if err != nil {
			return err
		}
		err = c.do(req, out)
		if err != nil && attempt == 0 && c.apiKey == "" && IsTokenError(err) {
			c.invalidateToken()
			continue
		}
		return err
	}
}

func (c *ArcGIS) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var env struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Error != nil {
		return env.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *ArcGIS) accessToken(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExp.Add(-tokenSkew)) {
		return c.token, nil
	}

	form := url.Values{
		"username":   {c.username},
		"password":   {c.password},
		"client":     {"referer"},
		"referer":    {c.referer},
		"expiration": {strconv.Itoa(int(c.tokenTTL / time.Minute))},
	}
	req, err := c.postForm(ctx, c.portal+restPath+"/generateToken", form)
	if err != nil {
		return "", err
	}
	var out struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("gis: generate token: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("gis: generate token: %w", ErrNotSuccessful)
	}

	c.token = out.Token
	if out.Expires > 0 {
		c.tokenExp = time.UnixMilli(out.Expires)
	} else {
		c.tokenExp = c.now().Add(c.tokenTTL)
	}
	return c.token, nil
}

func (c *ArcGIS) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
}

// owner returns the username whose content folder receives new items,
// asking the portal once when only an API key is configured.
func (c *ArcGIS) owner(ctx context.Context) (string, error) {
	c.ownerMu.Lock()
	defer c.ownerMu.Unlock()

	if c.username != "" {
		return c.username, nil
	}

	var self struct {
		Username string `json:"username"`
	}
	err := c.call(ctx, func(token string) (*http.Request, error) {
		q := url.Values{"f": {"json"}, "token": {token}}
		return c.newRequest(ctx, http.MethodGet, c.portal+restPath+"/community/self?"+q.Encode(), nil)
	}, &self)
	if err != nil {
		return "", fmt.Errorf("gis: resolve user: %w", err)
	}
	if self.Username == "" {
		return "", fmt.Errorf("gis: resolve user: %w", ErrNotSuccessful)
	}
	c.username = self.Username
	return c.username, nil
}

func (c *ArcGIS) userContentURL(owner string, parts ...string) string {
	var b strings.Builder
	b.WriteString(c.portal + restPath + "/content/users/" + url.PathEscape(owner))
	for _, p := range parts {
		b.WriteString("/" + url.PathEscape(p))
	}
	return b.String()
}

func (c *ArcGIS) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Request, error) {
	form.Set("f", "json")
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (c *ArcGIS) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}
	return req, nil
}

func addItemForm(token string, props ItemProperties, data Upload, content []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"f", "json"},
		{"token", token},
		{"title", props.Title},
		{"type", props.Type},
		{"filename", data.Name},
	}
	for _, kv := range fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}

	ct := data.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, data.Name))
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
