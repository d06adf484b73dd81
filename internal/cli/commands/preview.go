package commands

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/leapstack-labs/leapdash/internal/sandbox"
)

// previewApp renders app for values and converts the HTML to markdown so a
// dashboard can be inspected in a terminal.
func previewApp(ctx context.Context, app *sandbox.App, values url.Values) (string, error) {
	html, err := app.Render(ctx, values)
	if err != nil {
		return "", err
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert preview: %w", err)
	}
	return strings.TrimSpace(md), nil
}

// parseAssignments turns id=value pairs into form values.
func parseAssignments(pairs []string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	values := url.Values{}
	for _, p := range pairs {
		id, value, ok := strings.Cut(p, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid input %q, expected id=value", p)
		}
		values.Add(strings.TrimSpace(id), strings.TrimSpace(value))
	}
	return values, nil
}
