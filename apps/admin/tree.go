package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/orgpanel/core/hierarchy"
)

// tree prints the structure forest, one node per line, indented by depth.
func (cli *commandLine) tree(orgID, structureID string) error {
	ctx := context.Background()
	structures, err := cli.hSvc.QueryStructures(ctx, orgID)
	if err != nil {
		return errors.Wrap(err, "querying structures")
	}

	var st *hierarchy.Structure
	for i := range structures {
		if structures[i].ID == structureID || (structureID == "" && structures[i].IsDefault) {
			st = &structures[i]
			break
		}
	}
	if st == nil {
		return hierarchy.ErrStructureNotFound
	}

	forest, err := cli.hSvc.GetTree(ctx, st.ID)
	if err != nil {
		return errors.Wrap(err, "building tree")
	}
	_, _ = fmt.Fprintf(cli.out, "%s (%d nodes)\n", st.Name, hierarchy.Count(forest))
	return hierarchy.Render(cli.out, forest)
}
