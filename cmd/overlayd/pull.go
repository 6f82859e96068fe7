package main

import (
	"context"
	"fmt"

	"github.com/rootlayer/overlayd/lib/paths"
	"github.com/rootlayer/overlayd/lib/registry"
)

// pullModule fetches ref and unpacks it into p.ModuleDir(module), the same
// destination the manager app would otherwise populate by unzipping a
// downloaded module zip (SPEC_FULL.md §4.10).
func pullModule(ctx context.Context, p *paths.Paths, module, ref string) error {
	dest := p.ModuleDir(module)
	if err := registry.Pull(ctx, registry.RemoteFetch, ref, dest); err != nil {
		return fmt.Errorf("pull module %s from %s: %w", module, ref, err)
	}
	return nil
}
