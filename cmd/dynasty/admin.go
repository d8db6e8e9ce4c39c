package main

import (
	"github.com/spf13/cobra"
)

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Grant or revoke tree admin rights",
	}
	promote := &cobra.Command{
		Use:   "promote TREE_ID MEMBER_ID",
		Short: "Make a member an admin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := a.requireCaller()
			if err != nil {
				return err
			}
			tree, res, err := a.svc().PromoteToAdmin(cmd.Context(), args[1], args[0], caller)
			if err != nil {
				return err
			}
			return a.printResult(tree, res)
		},
	}
	demote := &cobra.Command{
		Use:   "demote TREE_ID MEMBER_ID",
		Short: "Revoke a member's admin rights",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := a.requireCaller()
			if err != nil {
				return err
			}
			tree, res, err := a.svc().DemoteToMember(cmd.Context(), args[1], args[0], caller)
			if err != nil {
				return err
			}
			return a.printResult(tree, res)
		},
	}
	cmd.AddCommand(promote, demote)
	return cmd
}
