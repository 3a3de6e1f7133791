package mcpclient

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/goose-run/goose-core/message"
)

// convertSchema round-trips an mcp.ToolInputSchema through JSON to get a
// plain map[string]any, the shape the rest of the runtime validates tool
// arguments against.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

func convertToolResultContent(items []mcp.Content) []message.Content {
	out := make([]message.Content, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case mcp.TextContent:
			out = append(out, message.Text{Text: v.Text})
		case mcp.ImageContent:
			out = append(out, message.Image{Data: v.Data, Mime: v.MIMEType})
		}
	}
	return out
}

func convertResourceContents(items []mcp.ResourceContents) []message.Content {
	out := make([]message.Content, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case mcp.TextResourceContents:
			out = append(out, message.Text{Text: v.Text})
		case mcp.BlobResourceContents:
			out = append(out, message.Image{Data: v.Blob, Mime: v.MIMEType})
		}
	}
	return out
}

func convertPromptContent(c mcp.Content) []message.Content {
	switch v := c.(type) {
	case mcp.TextContent:
		return []message.Content{message.Text{Text: v.Text}}
	case mcp.ImageContent:
		return []message.Content{message.Image{Data: v.Data, Mime: v.MIMEType}}
	default:
		return nil
	}
}
