// cmd/helpers.go
package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

// httpClient is shared by every command that talks to the REST API.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// apiGet fetches JSON from the REST API.
func apiGet(path string, out any) error {
	resp, err := httpClient.Get(GetAPIURL() + path)
	if err != nil {
		return fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

// apiPost sends JSON to the REST API.
func apiPost(path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	resp, err := httpClient.Post(GetAPIURL()+path, "application/json", rd)
	if err != nil {
		return fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

// decodeAPIResponse surfaces API errors and decodes success payloads.
func decodeAPIResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// printJSON renders a payload as indented JSON.
func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}

// shortID trims a UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// statusColor renders a job status in the conventional colors.
func statusColor(status job.Status) string {
	switch status {
	case job.StatusCompleted:
		return color.GreenString(string(status))
	case job.StatusFailed:
		return color.RedString(string(status))
	case job.StatusRunning:
		return color.CyanString(string(status))
	default:
		return color.YellowString(string(status))
	}
}

// formatMetrics renders a compact metric summary, alphabetical, at most
// three entries so tables stay narrow.
func formatMetrics(m job.Metrics) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 3 {
		keys = keys[:3]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.4g", k, m[k]))
	}
	return strings.Join(parts, " ")
}

// formatProgress renders a progress struct as "42% (epoch)".
func formatProgress(p job.Progress) string {
	if p.Unit == "" {
		return fmt.Sprintf("%.0f%%", p.Percent)
	}
	return fmt.Sprintf("%.0f%% (%s)", p.Percent, p.Unit)
}
