package main

import (
	"github.com/spf13/cobra"

	"dynastycore/internal/core"
	"dynastycore/pkg/domain"
)

type relateFlags struct {
	addParents, removeParents   []string
	addChildren, removeChildren []string
	addSpouses, removeSpouses   []string
	addSiblings, removeSiblings []string
	retype                      []string
}

func (f relateFlags) updates() (core.RelationshipUpdates, error) {
	types := make(map[string]domain.EdgeType)
	var u core.RelationshipUpdates
	var err error
	for _, p := range []struct {
		dst  *[]string
		refs []string
	}{
		{&u.AddParents, f.addParents},
		{&u.AddChildren, f.addChildren},
		{&u.AddSpouses, f.addSpouses},
		{&u.AddSiblings, f.addSiblings},
		{&u.RemoveParents, f.removeParents},
		{&u.RemoveChildren, f.removeChildren},
		{&u.RemoveSpouses, f.removeSpouses},
		{&u.RemoveSiblings, f.removeSiblings},
	} {
		if *p.dst, err = parseEdgeRefs(p.refs, types); err != nil {
			return u, err
		}
	}
	if _, err := parseEdgeRefs(f.retype, types); err != nil {
		return u, err
	}
	if len(types) > 0 {
		u.RelationshipTypes = types
	}
	return u, nil
}

func newRelateCmd(a *app) *cobra.Command {
	var f relateFlags
	cmd := &cobra.Command{
		Use:   "relate TREE_ID MEMBER_ID",
		Short: "Apply a batch of relationship changes to a member",
		Long: `Apply a batch of relationship changes to a member. Add flags accept
"id" or "id:type"; --retype id:type changes the type of an existing edge.
Siblings are derived from shared parents and cannot be edited directly.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := a.requireCaller()
			if err != nil {
				return err
			}
			updates, err := f.updates()
			if err != nil {
				return err
			}
			m, res, err := a.svc().UpdateRelationships(cmd.Context(), core.UpdateRelationshipsInput{
				TreeID: args[0], MemberID: args[1], CallerID: caller, Updates: updates,
			})
			if err != nil {
				return err
			}
			return a.printResult(m, res)
		},
	}
	fs := cmd.Flags()
	fs.StringSliceVar(&f.addParents, "add-parent", nil, "parent to add")
	fs.StringSliceVar(&f.removeParents, "remove-parent", nil, "parent to remove")
	fs.StringSliceVar(&f.addChildren, "add-child", nil, "child to add")
	fs.StringSliceVar(&f.removeChildren, "remove-child", nil, "child to remove")
	fs.StringSliceVar(&f.addSpouses, "add-spouse", nil, "spouse to add")
	fs.StringSliceVar(&f.removeSpouses, "remove-spouse", nil, "spouse to remove")
	fs.StringSliceVar(&f.addSiblings, "add-sibling", nil, "member to give this member's parents")
	fs.StringSliceVar(&f.removeSiblings, "remove-sibling", nil, "sibling to remove (always rejected)")
	fs.StringSliceVar(&f.retype, "retype", nil, "existing edge to retype, as id:type")
	return cmd
}
