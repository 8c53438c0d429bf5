package pkgfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type ctanPkgResponse struct {
	ContainedIn string `json:"contained_in"`
}

// resolveContainer calls /api/ctan-pkg/<pkg>, which may report the real
// archive name a package's files actually ship under (spec.md §4.6:
// "Package container resolution").
func (f *Fetcher) resolveContainer(ctx context.Context, pkg string) (string, error) {
	url := fmt.Sprintf("%s/api/ctan-pkg/%s", f.baseURL, pkg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ctan-pkg lookup for %s returned %d", pkg, resp.StatusCode)
	}
	var body ctanPkgResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("ctan-pkg lookup for %s: decode: %w", pkg, err)
	}
	return body.ContainedIn, nil
}
