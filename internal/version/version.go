// Package version compares the running build with the latest published release.
package version

import (
	"context"
	"fmt"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/nulzo/bot-router/internal/httpclient"
)

// Version is set at build time with -ldflags "-X ...version.Version=v1.2.3".
var Version = "v0.0.0"

type release struct {
	TagName string `json:"tag_name"`
}

// Status is the outcome of an update check.
type Status struct {
	Current  string
	Latest   string
	Outdated bool
}

// Check fetches the latest release from url, a GitHub style releases API
// endpoint, and compares it with current.
func Check(ctx context.Context, client httpclient.HTTPClient, url, current string) (*Status, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var rel release
	if err := httpclient.GetJSON(ctx, client, url, map[string]string{"Accept": "application/vnd.github+json"}, &rel); err != nil {
		return nil, fmt.Errorf("fetch latest release: %w", err)
	}

	cur, err := goversion.NewVersion(current)
	if err != nil {
		return nil, fmt.Errorf("parse current version %q: %w", current, err)
	}
	latest, err := goversion.NewVersion(rel.TagName)
	if err != nil {
		return nil, fmt.Errorf("parse latest version %q: %w", rel.TagName, err)
	}

	return &Status{
		Current:  cur.Original(),
		Latest:   latest.Original(),
		Outdated: cur.LessThan(latest),
	}, nil
}
