package sharepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
)

// Item is a list item: a numeric ID plus the item's named properties as
// decoded from the API response. Items keep a reference to the list they
// were read from so item-scoped operations (delete, attachments) can build
// their paths.
type Item struct {
	ID     int
	Fields map[string]any

	list *List
}

// List returns the list the item belongs to.
func (i *Item) List() *List {
	return i.list
}

func (i *Item) apiPath() string {
	return fmt.Sprintf("%s/items(%d)", i.list.apiPath(), i.ID)
}

// decodeItem turns a raw item JSON object into an Item bound to list.
// Properties are kept wholesale; the numeric ID is extracted from the Id
// property.
func decodeItem(raw json.RawMessage, list *List) (*Item, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("sharepoint: decoding item: %w", err)
	}

	id, ok := numericID(fields)
	if !ok {
		return nil, fmt.Errorf("sharepoint: item in list %q has no numeric Id property", list.Title)
	}

	return &Item{ID: id, Fields: fields, list: list}, nil
}

// numericID extracts the item identifier from the decoded properties.
// SharePoint emits both "Id" and "ID"; either satisfies the lookup.
func numericID(fields map[string]any) (int, bool) {
	for _, key := range []string{"Id", "ID"} {
		if v, ok := fields[key]; ok {
			if f, isNum := v.(float64); isNum {
				return int(f), true
			}
		}
	}

	return 0, false
}

// UpdateItem applies each (column, value) pair to the item with the given
// ID, one MERGE round trip per field. The item is located by retrieving all
// items and scanning for the identifier; when absent, an ItemNotFoundError
// naming the ID is returned and nothing is mutated.
func UpdateItem(ctx context.Context, cc *ClientContext, list *List, itemID int, updates []Information) error {
	items, err := ListItems(ctx, cc, list)
	if err != nil {
		return err
	}

	var target *Item

	for _, item := range items {
		if item.ID == itemID {
			target = item
			break
		}
	}

	if target == nil {
		return &ItemNotFoundError{ListTitle: list.Title, ItemID: itemID}
	}

	cc.logger.Info("updating item",
		slog.String("list", list.Title),
		slog.Int("item_id", itemID),
		slog.Int("fields", len(updates)),
	)

	for _, info := range updates {
		if err := mergeField(ctx, cc, target, info); err != nil {
			return err
		}
	}

	return nil
}

// mergeField issues a single-field MERGE against the item.
func mergeField(ctx context.Context, cc *ClientContext, item *Item, info Information) error {
	body, err := json.Marshal(map[string]string{info.Column: info.Value})
	if err != nil {
		return fmt.Errorf("sharepoint: marshaling field update: %w", err)
	}

	headers := http.Header{
		"X-HTTP-Method": {"MERGE"},
		"IF-MATCH":      {"*"},
	}

	resp, err := cc.rest.DoWithHeaders(ctx, http.MethodPost, item.apiPath(), bytes.NewReader(body), headers)
	if err != nil {
		return fmt.Errorf("sharepoint: updating field %q on item %d: %w", info.Column, item.ID, err)
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("sharepoint: draining update response: %w", copyErr)
	}

	return nil
}

// AddItem creates a new item from the field mapping in one call. When
// attachmentPath is non-empty, the file is read fully into memory and
// uploaded as an attachment bound to the new item.
func AddItem(
	ctx context.Context, cc *ClientContext, list *List, fields map[string]any, attachmentPath string,
) (*Item, error) {
	cc.logger.Info("adding item",
		slog.String("list", list.Title),
		slog.Int("fields", len(fields)),
		slog.Bool("attachment", attachmentPath != ""),
	)

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("sharepoint: marshaling new item: %w", err)
	}

	resp, err := cc.rest.Do(ctx, http.MethodPost, list.apiPath()+"/items", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sharepoint: reading create item response: %w", err)
	}

	item, err := decodeItem(raw, list)
	if err != nil {
		return nil, err
	}

	if attachmentPath != "" {
		if err := attachFile(ctx, cc, item, attachmentPath); err != nil {
			return nil, err
		}
	}

	return item, nil
}

// attachFile uploads a local file as an attachment of the item.
func attachFile(ctx context.Context, cc *ClientContext, item *Item, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("sharepoint: reading attachment %s: %w", path, err)
	}

	name := lastPathSegment(path)
	apiPath := fmt.Sprintf("%s/AttachmentFiles/add(FileName='%s')", item.apiPath(), quoteArg(name))

	headers := http.Header{"Content-Type": {"application/octet-stream"}}

	resp, err := cc.rest.DoWithHeaders(ctx, http.MethodPost, apiPath, bytes.NewReader(content), headers)
	if err != nil {
		return fmt.Errorf("sharepoint: uploading attachment %s: %w", name, err)
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("sharepoint: draining attachment response: %w", copyErr)
	}

	return nil
}

// Attachment describes a file bound to a list item.
type Attachment struct {
	FileName          string
	ServerRelativeURL string
}

// attachmentResponse mirrors the attachment entity JSON payload.
type attachmentResponse struct {
	FileName          string `json:"FileName"`          //nolint:tagliatelle // SharePoint API key
	ServerRelativeURL string `json:"ServerRelativeUrl"` //nolint:tagliatelle // SharePoint API key
}

// Attachments retrieves the attachment files bound to the item.
func Attachments(ctx context.Context, cc *ClientContext, item *Item) ([]Attachment, error) {
	raws, err := cc.getCollection(ctx, item.apiPath()+"/AttachmentFiles")
	if err != nil {
		return nil, err
	}

	attachments := make([]Attachment, 0, len(raws))

	for _, raw := range raws {
		var ar attachmentResponse
		if err := json.Unmarshal(raw, &ar); err != nil {
			return nil, fmt.Errorf("sharepoint: decoding attachment: %w", err)
		}

		attachments = append(attachments, Attachment{
			FileName:          ar.FileName,
			ServerRelativeURL: ar.ServerRelativeURL,
		})
	}

	return attachments, nil
}

// DeleteItem deletes the item in a single round trip.
func DeleteItem(ctx context.Context, cc *ClientContext, item *Item) error {
	cc.logger.Info("deleting item",
		slog.String("list", item.list.Title),
		slog.Int("item_id", item.ID),
	)

	return cc.deleteResource(ctx, item.apiPath())
}
