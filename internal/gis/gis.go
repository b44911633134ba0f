// Package gis talks to the hosted GIS portal that owns published map items.
package gis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrNoCredentials = errors.New("gis: api key or username/password required")
	ErrPortalURL     = errors.New("gis: portal url is required")
	ErrNotSuccessful = errors.New("gis: portal reported failure")
	// ErrItemNotFound is returned when the portal no longer has the item.
	ErrItemNotFound = errors.New("gis: item not found")
)

// ItemProperties is the metadata sent with every new item.
type ItemProperties struct {
	Title string
	Type  string
}

// Upload is the file attached to a new item.
type Upload struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Item is a content item owned by the portal.
type Item struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Type   string `json:"type"`
	Owner  string `json:"owner"`
	Access string `json:"access"`
	URL    string `json:"url"`
}

// Client is the portal surface used by the publisher.
// Implementations must be safe for concurrent use.
type Client interface {
	// AddItem creates a new item owned by the authenticated user.
	AddItem(ctx context.Context, props ItemProperties, data Upload) (*Item, error)
	// Share changes the item's visibility. everyone=true makes it public.
	Share(ctx context.Context, itemID string, everyone bool) error
	// DeleteItem removes an item owned by the authenticated user. An item the
	// portal does not know yields an error wrapping ErrItemNotFound.
	DeleteItem(ctx context.Context, itemID string) error
}

// Error is an error envelope returned by the portal. The portal usually
// answers with HTTP 200 and puts the real status in Code.
type Error struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *Error) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("gis: %d %s (%v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("gis: %d %s", e.Code, e.Message)
}

// Portal error codes for expired or invalid tokens.
const (
	CodeInvalidToken  = 498
	CodeTokenRequired = 499
)

// isMissingItem reports whether err is the portal's answer for an unknown
// or inaccessible item.
func isMissingItem(err error) bool {
	var gerr *Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusNotFound {
		return true
	}
	return gerr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(gerr.Message), "does not exist")
}

// IsTokenError reports whether err is a portal token rejection.
func IsTokenError(err error) bool {
	var gerr *Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == CodeInvalidToken || gerr.Code == CodeTokenRequired
}
