package main

import (
	"github.com/spf13/cobra"

	"dynastycore/internal/core"
	"dynastycore/pkg/domain"
)

func newMemberCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Add, inspect, edit and delete members",
	}
	cmd.AddCommand(newMemberAddCmd(a), newMemberGetCmd(a), newMemberUpdateCmd(a), newMemberDeleteCmd(a))
	return cmd
}

func newMemberAddCmd(a *app) *cobra.Command {
	var (
		attrs    attrFlags
		relation string
		target   string
		edgeType string
		opts     core.MemberOptions
	)
	cmd := &cobra.Command{
		Use:   "add TREE_ID",
		Short: "Add a member, optionally related to a target member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := a.requireCaller()
			if err != nil {
				return err
			}
			in := core.CreateMemberInput{
				TreeID:         args[0],
				CallerID:       caller,
				Relation:       domain.Relation(relation),
				TargetMemberID: target,
				EdgeType:       domain.EdgeType(edgeType),
				Options:        opts,
			}
			if in.Attributes, err = attrs.attributes(); err != nil {
				return err
			}
			m, res, err := a.svc().CreateMember(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.printResult(m, res)
		},
	}
	attrs.bind(cmd.Flags(), "")
	cmd.Flags().StringVar(&relation, "relation", "", "relation to the target: parent, child, spouse or sibling")
	cmd.Flags().StringVar(&target, "target", "", "target member id")
	cmd.Flags().StringVar(&edgeType, "edge-type", "", "edge type, e.g. blood, adopted, married")
	cmd.Flags().BoolVar(&opts.ConnectToSpouse, "connect-spouse", false, "also attach a new child to the target's spouses")
	cmd.Flags().BoolVar(&opts.ConnectToExistingParent, "connect-parent", false, "also marry a new parent to the target's other parents")
	cmd.Flags().BoolVar(&opts.ConnectToChildren, "connect-children", false, "also make a new spouse a parent of the target's children")
	return cmd
}

func newMemberGetCmd(a *app) *cobra.Command {
	var projected bool
	cmd := &cobra.Command{
		Use:   "get MEMBER_ID",
		Short: "Print a member record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if projected {
				node, err := a.svc().ProjectMember(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(node)
			}
			m, err := a.svc().GetMember(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(m)
		},
	}
	cmd.Flags().BoolVar(&projected, "node", false, "print the rendering node instead of the record")
	return cmd
}

func newMemberUpdateCmd(a *app) *cobra.Command {
	var attrs attrFlags
	cmd := &cobra.Command{
		Use:   "update TREE_ID MEMBER_ID",
		Short: "Replace a member's descriptive attributes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := a.requireCaller()
			if err != nil {
				return err
			}
			values, err := attrs.attributes()
			if err != nil {
				return err
			}
			m, res, err := a.svc().UpdateMemberAttributes(cmd.Context(), core.UpdateMemberInput{
				TreeID: args[0], MemberID: args[1], CallerID: caller, Attributes: values,
			})
			if err != nil {
				return err
			}
			return a.printResult(m, res)
		},
	}
	attrs.bind(cmd.Flags(), "")
	return cmd
}

func newMemberDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete TREE_ID MEMBER_ID",
		Short: "Delete a member and every edge that references it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := a.requireCaller()
			if err != nil {
				return err
			}
			res, err := a.svc().DeleteMember(cmd.Context(), args[1], args[0], caller)
			if err != nil {
				return err
			}
			return a.printResult(map[string]string{"deleted": args[1]}, res)
		},
	}
}
