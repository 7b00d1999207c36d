// Package fetcher performs conditional probes and full-body retrieval of
// remote dataset sources over HTTP and FTP.
package fetcher

import (
	"context"
	"fmt"
)

// ProbeResult holds the freshness metadata returned by a probe.
type ProbeResult struct {
	Status        int
	ETag          string
	LastModified  string
	ContentLength string
}

// FetchError reports a non-success status during body retrieval. It is
// recoverable at the orchestrator level: the next source is tried.
type FetchError struct {
	Status int
	URL    string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// Client defines the remote operations the acquisition orchestrator needs.
type Client interface {
	// Probe performs a lightweight metadata check with a short timeout.
	// It returns nil when the check cannot be completed (network failure,
	// timeout); that is an outcome, not an error.
	Probe(ctx context.Context, url string) *ProbeResult

	// Retrieve downloads the full body, following redirects. Non-success
	// HTTP statuses yield a *FetchError; deadline expiry yields the
	// transport's timeout error.
	Retrieve(ctx context.Context, url string) ([]byte, error)
}
