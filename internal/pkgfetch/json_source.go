package pkgfetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

type jsonFileEntry struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type jsonFetchResponse struct {
	Files        map[string]jsonFileEntry `json:"files"`
	Dependencies []string                 `json:"dependencies"`
	Error        string                   `json:"error"`
}

// fetchJSON retrieves the fallback /api/fetch/<pkg> endpoint: a flat map of
// VFS path to (content, encoding), with base64 content decoded and anything
// else treated as UTF-8 text.
func (f *Fetcher) fetchJSON(ctx context.Context, pkg string) (*Result, error) {
	url := fmt.Sprintf("%s/api/fetch/%s", f.baseURL, pkg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("json endpoint for %s: not found", pkg)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("json endpoint for %s returned %d", pkg, resp.StatusCode)
	}

	var body jsonFetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("json endpoint for %s: decode: %w", pkg, err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("json endpoint for %s: %s", pkg, body.Error)
	}

	files := make(map[string][]byte, len(body.Files))
	for path, entry := range body.Files {
		if entry.Encoding == "base64" {
			data, err := base64.StdEncoding.DecodeString(entry.Content)
			if err != nil {
				return nil, fmt.Errorf("json endpoint for %s: decode %s: %w", pkg, path, err)
			}
			files[path] = data
		} else {
			files[path] = []byte(entry.Content)
		}
	}
	return &Result{Files: files, Dependencies: body.Dependencies}, nil
}
