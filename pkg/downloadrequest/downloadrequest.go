// Package downloadrequest builds the per-pod DataDownloadRequest batch that
// the (external) download agent consumes. It performs no I/O.
package downloadrequest

import (
	"path/filepath"
	"strings"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
)

// Build emits one DataDownloadRequest per repo in info.DataSources. If
// info.DropFolder is empty there is nowhere to stage a download, so the
// empty list is returned regardless of DataSources.
func Build(info autocranetypes.PodDataRequestInfo) []autocranetypes.DataDownloadRequest {
	if info.DropFolder == "" {
		return nil
	}

	requests := make([]autocranetypes.DataDownloadRequest, 0, len(info.DataSources))
	for _, repo := range info.DataSources {
		req := autocranetypes.DataDownloadRequest{
			Pod:        info.ID,
			Repo:       repo,
			DropFolder: info.DropFolder,
		}

		if encoded, ok := info.Requests[repo]; ok {
			if details, ok := encoded.Decode(); ok {
				d := details
				req.Details = &d
				req.ExtractionLocation = filepath.Join(info.DropFolder, sanitize(details.Path))
			}
		}

		requests = append(requests, req)
	}

	return requests
}

// sanitize replaces the platform path separator with "_" so a repo path
// component never introduces an extra directory level under dropFolder.
func sanitize(path string) string {
	return strings.ReplaceAll(path, string(filepath.Separator), "_")
}
