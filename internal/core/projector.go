package core

import (
	"context"
	"sort"
	"time"

	"dynastycore/pkg/domain"
)

// MediaResolver turns a stored profile image reference into a URL a client can fetch.
type MediaResolver interface {
	ResolveURL(ctx context.Context, ref string) (string, error)
}

// NodeEdge is one relationship of a projected node.
type NodeEdge struct {
	ID   string   `json:"id"`
	Type EdgeType `json:"type"`
}

// NodeAttributes carries a node's descriptive fields.
type NodeAttributes struct {
	DisplayName     string     `json:"displayName"`
	BirthDate       *time.Time `json:"birthDate,omitempty"`
	DeathDate       *time.Time `json:"deathDate,omitempty"`
	Biography       string     `json:"biography,omitempty"`
	ProfileImage    string     `json:"profileImage,omitempty"`
	ProfileImageURL string     `json:"profileImageUrl,omitempty"`
}

// TreeNode is the shape consumed by tree-rendering clients.
type TreeNode struct {
	ID         string         `json:"id"`
	Gender     domain.Gender  `json:"gender"`
	Parents    []NodeEdge     `json:"parents"`
	Children   []NodeEdge     `json:"children"`
	Siblings   []NodeEdge     `json:"siblings"`
	Spouses    []NodeEdge     `json:"spouses"`
	Attributes NodeAttributes `json:"attributes"`
}

// ProjectTree converts a tree's members into render nodes sorted by id. Edges to
// members outside the tree are dropped.
func (s *Service) ProjectTree(ctx context.Context, treeID string) ([]TreeNode, error) {
	var nodes []TreeNode
	err := s.read(ctx, "project_tree", func(view domain.TransactionView) error {
		tree, ok := view.FindTree(treeID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityTree, ID: treeID}
		}
		nodes = make([]TreeNode, 0, len(tree.MemberIDs))
		for _, id := range tree.MemberIDs {
			m, ok := view.FindMember(id)
			if !ok {
				continue
			}
			nodes = append(nodes, projectMember(m, tree.HasMember))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for i := range nodes {
		s.resolveImage(ctx, &nodes[i])
	}
	return nodes, nil
}

// ProjectMember converts a single member into a render node.
func (s *Service) ProjectMember(ctx context.Context, id string) (TreeNode, error) {
	var node TreeNode
	err := s.read(ctx, "project_member", func(view domain.TransactionView) error {
		m, ok := view.FindMember(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityMember, ID: id}
		}
		tree, _ := view.FindTree(m.TreeID)
		node = projectMember(m, tree.HasMember)
		return nil
	})
	if err != nil {
		return TreeNode{}, err
	}
	s.resolveImage(ctx, &node)
	return node, nil
}

func projectMember(m Member, inTree func(string) bool) TreeNode {
	return TreeNode{
		ID:       m.ID,
		Gender:   m.Gender,
		Parents:  projectEdges(m.Parents, inTree),
		Children: projectEdges(m.Children, inTree),
		Siblings: projectEdges(m.Siblings, inTree),
		Spouses:  projectEdges(m.Spouses, inTree),
		Attributes: NodeAttributes{
			DisplayName:  m.DisplayName,
			BirthDate:    m.BirthDate,
			DeathDate:    m.DeathDate,
			Biography:    m.Biography,
			ProfileImage: m.ProfileImage,
		},
	}
}

func projectEdges(edges []Edge, inTree func(string) bool) []NodeEdge {
	out := make([]NodeEdge, 0, len(edges))
	for _, e := range edges {
		if !inTree(e.MemberID) {
			continue
		}
		out = append(out, NodeEdge{ID: e.MemberID, Type: e.Type})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// resolveImage fills ProfileImageURL, falling back to the raw reference.
func (s *Service) resolveImage(ctx context.Context, node *TreeNode) {
	ref := node.Attributes.ProfileImage
	if ref == "" {
		return
	}
	node.Attributes.ProfileImageURL = ref
	if s.media == nil {
		return
	}
	url, err := s.media.ResolveURL(ctx, ref)
	if err != nil {
		s.logger.Warn("profile image resolution failed", "member_id", node.ID, "ref", ref, "error", err)
		return
	}
	node.Attributes.ProfileImageURL = url
}
