// Package integrations loads planning snapshots from external data drops.
package integrations

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"siteplan/internal/integrations/csvdir"
	"siteplan/internal/integrations/yamlfile"
	"siteplan/internal/model"
)

// SnapshotSource produces a plan request from an external data source.
type SnapshotSource interface {
	Name() string
	Load(ctx context.Context) (model.PlanRequest, error)
}

var (
	_ SnapshotSource = (*csvdir.Source)(nil)
	_ SnapshotSource = (*yamlfile.Source)(nil)
)

// Open picks a source for path: a directory is read as CSV files, anything
// else as a YAML or JSON snapshot document.
func Open(path string) (SnapshotSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "integrations: stat %s", path)
	}
	if info.IsDir() {
		return csvdir.New(path), nil
	}
	return yamlfile.New(path), nil
}
