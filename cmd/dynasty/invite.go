package main

import (
	"context"

	"github.com/spf13/cobra"

	"dynastycore/internal/core"
	"dynastycore/pkg/domain"
)

func newInviteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Create and resolve tree invitations",
	}

	var (
		attrs    attrFlags
		email    string
		relation string
		target   string
		edgeType string
	)
	create := &cobra.Command{
		Use:   "create TREE_ID",
		Short: "Invite a person to join a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := a.requireCaller()
			if err != nil {
				return err
			}
			values, err := attrs.attributes()
			if err != nil {
				return err
			}
			inv, res, err := a.svc().CreateInvitation(cmd.Context(), core.CreateInvitationInput{
				TreeID:   args[0],
				CallerID: caller,
				Invitee:  core.Invitee{Email: email, Attributes: values},
				ProposedRelation: core.ProposedRelation{
					Relation:       domain.Relation(relation),
					TargetMemberID: target,
					EdgeType:       domain.EdgeType(edgeType),
				},
			})
			if err != nil {
				return err
			}
			return a.printResult(inv, res)
		},
	}
	attrs.bind(create.Flags(), "")
	create.Flags().StringVar(&email, "email", "", "invitee email address")
	create.Flags().StringVar(&relation, "relation", "", "proposed relation to the target")
	create.Flags().StringVar(&target, "target", "", "proposed target member id")
	create.Flags().StringVar(&edgeType, "edge-type", "", "proposed edge type")

	list := &cobra.Command{
		Use:   "list TREE_ID",
		Short: "List a tree's invitations, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invs, err := a.svc().ListInvitations(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if invs == nil {
				invs = []core.Invitation{}
			}
			return a.print(invs)
		},
	}

	cmd.AddCommand(create, list,
		a.resolveCmd("accept", "Accept an invitation and add the invitee to the tree", (*core.Service).AcceptInvitation),
		a.resolveCmd("reject", "Reject an invitation", (*core.Service).RejectInvitation),
	)
	return cmd
}

func (a *app) resolveCmd(use, short string, resolve func(*core.Service, context.Context, string) (core.Invitation, core.Result, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " INVITATION_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, res, err := resolve(a.svc(), cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printResult(inv, res)
		},
	}
}
