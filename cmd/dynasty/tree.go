package main

import (
	"github.com/spf13/cobra"

	"dynastycore/internal/core"
)

func newTreeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Create and inspect family trees",
	}

	var root attrFlags
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a tree with its root member as the only admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			attrs, err := root.attributes()
			if err != nil {
				return err
			}
			tree, res, err := a.svc().CreateTree(cmd.Context(), core.CreateTreeInput{Name: name, Root: attrs})
			if err != nil {
				return err
			}
			return a.printResult(tree, res)
		},
	}
	create.Flags().StringVar(&name, "name", "", "tree name")
	root.bind(create.Flags(), "root-")

	show := &cobra.Command{
		Use:   "show TREE_ID",
		Short: "Print a tree record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := a.svc().GetTree(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(tree)
		},
	}

	view := &cobra.Command{
		Use:   "view TREE_ID",
		Short: "Print the tree as rendering nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := a.svc().ProjectTree(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(nodes)
		},
	}

	cmd.AddCommand(create, show, view)
	return cmd
}
