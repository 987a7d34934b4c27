package sharepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// genericListTemplate is the SharePoint base template ID for a generic
// (custom) list.
const genericListTemplate = 100

// List is the handle for a SharePoint list, addressed by display title.
// A freshly constructed handle is unmaterialized; stage it with
// ClientContext.Load and flush with Execute to populate its properties.
type List struct {
	Title       string
	ID          string
	Description string
	ItemCount   int

	loaded bool
}

// listResponse mirrors the list entity JSON payload.
type listResponse struct {
	ID          string `json:"Id"`          //nolint:tagliatelle // SharePoint API key
	Title       string `json:"Title"`       //nolint:tagliatelle // SharePoint API key
	Description string `json:"Description"` //nolint:tagliatelle // SharePoint API key
	ItemCount   int    `json:"ItemCount"`   //nolint:tagliatelle // SharePoint API key
}

// GetList returns a lazy handle for the list with the given display title.
// No network traffic happens until the handle is loaded or used.
func GetList(_ *ClientContext, title string) *List {
	return &List{Title: title}
}

func (l *List) apiPath() string {
	return fmt.Sprintf("/_api/web/lists/getbytitle('%s')", quoteArg(l.Title))
}

func (l *List) refresh(ctx context.Context, cc *ClientContext) error {
	var resp listResponse
	if err := cc.getJSON(ctx, l.apiPath(), &resp); err != nil {
		return err
	}

	l.ID = resp.ID
	l.Description = resp.Description
	l.ItemCount = resp.ItemCount
	l.loaded = true

	return nil
}

func (l *List) describe() string {
	return fmt.Sprintf("list %q", l.Title)
}

// Loaded reports whether the handle has been materialized by an Execute.
func (l *List) Loaded() bool {
	return l.loaded
}

// createListRequest mirrors the list creation JSON payload.
type createListRequest struct {
	Title               string `json:"Title"`               //nolint:tagliatelle // SharePoint API key
	BaseTemplate        int    `json:"BaseTemplate"`        //nolint:tagliatelle // SharePoint API key
	ContentTypesEnabled bool   `json:"ContentTypesEnabled"` //nolint:tagliatelle // SharePoint API key
}

// CreateList creates a generic list with content types enabled. There is no
// pre-existence check; a duplicate title follows remote-service semantics.
func CreateList(ctx context.Context, cc *ClientContext, title string) error {
	cc.logger.Info("creating list", slog.String("title", title))

	body, err := json.Marshal(createListRequest{
		Title:               title,
		BaseTemplate:        genericListTemplate,
		ContentTypesEnabled: true,
	})
	if err != nil {
		return fmt.Errorf("sharepoint: marshaling create list request: %w", err)
	}

	resp, err := cc.rest.Do(ctx, http.MethodPost, "/_api/web/lists", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("sharepoint: draining create list response: %w", copyErr)
	}

	return nil
}

// ListItems retrieves every item of the list and, when filters are given,
// retains only items where each filter's column stringifies to exactly the
// filter's value (logical AND, case-sensitive). Filtering happens after
// full retrieval; there is no server-side predicate pushdown.
func ListItems(ctx context.Context, cc *ClientContext, list *List, filters ...Information) ([]*Item, error) {
	cc.logger.Debug("listing items",
		slog.String("list", list.Title),
		slog.Int("filters", len(filters)),
	)

	raws, err := cc.getCollection(ctx, list.apiPath()+"/items")
	if err != nil {
		return nil, err
	}

	items := make([]*Item, 0, len(raws))

	for _, raw := range raws {
		item, err := decodeItem(raw, list)
		if err != nil {
			return nil, err
		}

		if len(filters) > 0 && !matchesAll(item.Fields, filters) {
			continue
		}

		items = append(items, item)
	}

	cc.logger.Debug("listed items",
		slog.String("list", list.Title),
		slog.Int("total", len(raws)),
		slog.Int("matched", len(items)),
	)

	return items, nil
}

// matchesAll reports whether every filter matches the item's fields.
func matchesAll(fields map[string]any, filters []Information) bool {
	for _, f := range filters {
		if !f.matches(fields) {
			return false
		}
	}

	return true
}
