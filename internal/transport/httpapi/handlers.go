package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dynastycore/internal/core"
	"dynastycore/pkg/domain"
)

type treeResponse struct {
	Tree   core.FamilyTree `json:"tree"`
	Result core.Result     `json:"result"`
}

type memberResponse struct {
	Member core.Member `json:"member"`
	Result core.Result `json:"result"`
}

type invitationResponse struct {
	Invitation core.Invitation `json:"invitation"`
	Result     core.Result     `json:"result"`
}

func caller(r *http.Request) string { return r.Header.Get(CallerHeader) }

func (a *API) createTree(w http.ResponseWriter, r *http.Request) {
	var in core.CreateTreeInput
	if err := decode(r, w, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	tree, res, err := a.svc.CreateTree(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, treeResponse{Tree: tree, Result: res})
}

func (a *API) getTree(w http.ResponseWriter, r *http.Request) {
	tree, err := a.svc.GetTree(r.Context(), chi.URLParam(r, "treeID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (a *API) viewTree(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.svc.ProjectTree(r.Context(), chi.URLParam(r, "treeID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (a *API) createMember(w http.ResponseWriter, r *http.Request) {
	var in core.CreateMemberInput
	if err := decode(r, w, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	in.TreeID = chi.URLParam(r, "treeID")
	in.CallerID = caller(r)
	m, res, err := a.svc.CreateMember(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, memberResponse{Member: m, Result: res})
}

func (a *API) getMember(w http.ResponseWriter, r *http.Request) {
	treeID, memberID := chi.URLParam(r, "treeID"), chi.URLParam(r, "memberID")
	m, err := a.svc.GetMember(r.Context(), memberID)
	if err == nil && m.TreeID != treeID {
		err = domain.NotFoundError{Entity: domain.EntityMember, ID: memberID}
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) updateMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Attributes core.MemberAttributes `json:"attributes"`
	}
	if err := decode(r, w, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	m, res, err := a.svc.UpdateMemberAttributes(r.Context(), core.UpdateMemberInput{
		MemberID:   chi.URLParam(r, "memberID"),
		TreeID:     chi.URLParam(r, "treeID"),
		CallerID:   caller(r),
		Attributes: body.Attributes,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{Member: m, Result: res})
}

func (a *API) deleteMember(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.DeleteMember(r.Context(), chi.URLParam(r, "memberID"), chi.URLParam(r, "treeID"), caller(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

func (a *API) updateRelationships(w http.ResponseWriter, r *http.Request) {
	var updates core.RelationshipUpdates
	if err := decode(r, w, &updates); err != nil {
		a.writeError(w, r, err)
		return
	}
	m, res, err := a.svc.UpdateRelationships(r.Context(), core.UpdateRelationshipsInput{
		MemberID: chi.URLParam(r, "memberID"),
		TreeID:   chi.URLParam(r, "treeID"),
		CallerID: caller(r),
		Updates:  updates,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{Member: m, Result: res})
}

func (a *API) createInvitation(w http.ResponseWriter, r *http.Request) {
	var in core.CreateInvitationInput
	if err := decode(r, w, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	in.TreeID = chi.URLParam(r, "treeID")
	in.CallerID = caller(r)
	inv, res, err := a.svc.CreateInvitation(r.Context(), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invitationResponse{Invitation: inv, Result: res})
}

func (a *API) listInvitations(w http.ResponseWriter, r *http.Request) {
	invs, err := a.svc.ListInvitations(r.Context(), chi.URLParam(r, "treeID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if invs == nil {
		invs = []core.Invitation{}
	}
	writeJSON(w, http.StatusOK, invs)
}

func (a *API) getInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := a.svc.GetInvitation(r.Context(), chi.URLParam(r, "invitationID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	a.resolveInvitation(w, r, a.svc.AcceptInvitation)
}

func (a *API) rejectInvitation(w http.ResponseWriter, r *http.Request) {
	a.resolveInvitation(w, r, a.svc.RejectInvitation)
}

func (a *API) resolveInvitation(w http.ResponseWriter, r *http.Request, resolve func(ctx context.Context, id string) (core.Invitation, core.Result, error)) {
	inv, res, err := resolve(r.Context(), chi.URLParam(r, "invitationID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationResponse{Invitation: inv, Result: res})
}

func (a *API) promote(w http.ResponseWriter, r *http.Request) {
	tree, res, err := a.svc.PromoteToAdmin(r.Context(), chi.URLParam(r, "memberID"), chi.URLParam(r, "treeID"), caller(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, treeResponse{Tree: tree, Result: res})
}

func (a *API) demote(w http.ResponseWriter, r *http.Request) {
	tree, res, err := a.svc.DemoteToMember(r.Context(), chi.URLParam(r, "memberID"), chi.URLParam(r, "treeID"), caller(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, treeResponse{Tree: tree, Result: res})
}
