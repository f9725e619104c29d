package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/models"
)

// QueryResult is one page of a database query.
type QueryResult struct {
	Records    []models.SourceRecord
	HasMore    bool
	NextCursor string
}

// DatabaseInfo is the subset of a database object used to validate access.
type DatabaseInfo struct {
	ID    string
	Title string
}

// QueryDatabase returns the page of records starting at startCursor, or the
// first page when startCursor is empty.
func (c *Client) QueryDatabase(ctx context.Context, databaseID, startCursor string) (QueryResult, error) {
	body := []byte(`{}`)
	if startCursor != "" {
		var err error
		body, err = sjson.SetBytes(body, "start_cursor", startCursor)
		if err != nil {
			return QueryResult{}, fmt.Errorf("failed to build query body: %w", err)
		}
	}

	data, err := c.do(ctx, http.MethodPost, "databases/"+databaseID+"/query", body)
	if err != nil {
		return QueryResult{}, err
	}
	if !gjson.ValidBytes(data) {
		return QueryResult{}, errors.New("notion: query response is not valid JSON")
	}

	res := gjson.ParseBytes(data)
	result := QueryResult{
		HasMore:    res.Get("has_more").Bool(),
		NextCursor: res.Get("next_cursor").String(),
	}
	for _, r := range res.Get("results").Array() {
		record := models.SourceRecord{ID: r.Get("id").String()}
		if record.ID == "" {
			return QueryResult{}, errors.New("notion: query result without id")
		}
		if props := r.Get("properties"); props.Exists() {
			record.Properties = json.RawMessage(props.Raw)
		}
		if children := r.Get("children"); children.IsArray() {
			record.Children = json.RawMessage(children.Raw)
		}
		result.Records = append(result.Records, record)
	}
	if !result.HasMore {
		result.NextCursor = ""
	}
	return result, nil
}

// CreatePage creates a page under parentDatabaseID with the given properties
// copied byte for byte. Children are sent only when non-empty.
func (c *Client) CreatePage(ctx context.Context, parentDatabaseID string, properties, children json.RawMessage) (string, error) {
	body, err := createPageBody(parentDatabaseID, properties, children)
	if err != nil {
		return "", err
	}

	data, err := c.do(ctx, http.MethodPost, "pages", body)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(data, "id").String()
	if id == "" {
		return "", errors.New("notion: create page response without id")
	}
	return id, nil
}

// RetrieveDatabase fetches a database object; it fails when the token cannot
// see the database.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (DatabaseInfo, error) {
	data, err := c.do(ctx, http.MethodGet, "databases/"+databaseID, nil)
	if err != nil {
		return DatabaseInfo{}, err
	}
	res := gjson.ParseBytes(data)
	var title []string
	for _, t := range res.Get("title.#.plain_text").Array() {
		title = append(title, t.String())
	}
	return DatabaseInfo{
		ID:    res.Get("id").String(),
		Title: strings.Join(title, ""),
	}, nil
}

func createPageBody(parentDatabaseID string, properties, children json.RawMessage) ([]byte, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "parent.database_id", parentDatabaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to build page body: %w", err)
	}
	if len(properties) == 0 {
		properties = json.RawMessage(`{}`)
	}
	if body, err = sjson.SetRawBytes(body, "properties", properties); err != nil {
		return nil, fmt.Errorf("failed to set page properties: %w", err)
	}
	if c := gjson.ParseBytes(children); c.IsArray() && len(c.Array()) > 0 {
		if body, err = sjson.SetRawBytes(body, "children", children); err != nil {
			return nil, fmt.Errorf("failed to set page children: %w", err)
		}
	}
	return body, nil
}

// parseError returns the message of a Notion error object, or "" when body is
// not one.
func parseError(body []byte) string {
	if len(body) == 0 || gjson.GetBytes(body, "object").String() != "error" {
		return ""
	}
	msg := gjson.GetBytes(body, "message").String()
	if code := gjson.GetBytes(body, "code").String(); code != "" {
		msg = code + ": " + msg
	}
	if msg == "" {
		msg = "unknown API error"
	}
	return msg
}
