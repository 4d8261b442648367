package hierarchy

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/orgpanel/core"
	"github.com/trezcool/orgpanel/core/user"
)

var (
	// errors
	ErrStructureNotFound  = errors.New("structure not found")
	ErrNodeNotFound       = errors.New("node not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrAssignmentNotFound = errors.New("course assignment not found")

	ErrDefaultStructure = errors.New("the default structure cannot be deleted while other structures exist")
	ErrNodeHasChildren  = errors.New("node has children")
	ErrParentNotFound   = errors.New("parent not found in this structure")
	ErrMoveUnderSelf    = errors.New("a node cannot be moved under itself or one of its descendants")
	ErrInvalidManager   = errors.New("manager must be an active user of the organization")
	ErrInvalidMember    = errors.New("user not found in the organization")
	ErrAlreadyMember    = errors.New("user is already a member of this node")
	ErrNameTaken        = errors.New("a sibling node already has this name")

	nowFunc = time.Now // mockable
)

const memberAddedTmpl = "node_member_added"

func init() {
	core.RegisterEmailTemplate(
		memberAddedTmpl,
		`Hello {{.Data.Name}},

You were added to {{.Data.NodeName}} as {{.Data.Role}}.

{{.FrontendBaseURL}}
`,
		`<p>Hello {{.Data.Name}},</p>
<p>You were added to <b>{{.Data.NodeName}}</b> as {{.Data.Role}}.</p>
<p><a href="{{.FrontendBaseURL}}">{{.FrontendBaseURL}}</a></p>
`,
	)
}

type (
	Repository interface {
		CreateStructure(ctx context.Context, st Structure) (Structure, error)
		QueryStructures(ctx context.Context, orgID string) ([]Structure, error)
		GetStructure(ctx context.Context, id string) (Structure, error)
		UpdateStructure(ctx context.Context, st Structure) (Structure, error)
		// SetDefaultStructure marks the structure as the only default one of its organization.
		SetDefaultStructure(ctx context.Context, st Structure) error
		// DeleteStructure also deletes the structure nodes.
		DeleteStructure(ctx context.Context, id string) error

		CreateNode(ctx context.Context, node Node) (Node, error)
		// QueryNodes returns the structure nodes ordered by position then creation, with MembersCount.
		QueryNodes(ctx context.Context, structureID string) ([]Node, error)
		GetNode(ctx context.Context, id string) (Node, error)
		UpdateNode(ctx context.Context, node Node) (Node, error)
		// MoveNode writes the node ParentID and Position. It returns ErrMoveUnderSelf, checked in the same
		// transaction, if the new parent is the node itself or one of its descendants.
		MoveNode(ctx context.Context, node Node) (Node, error)
		// DeleteNodes also deletes the nodes members and course assignments.
		DeleteNodes(ctx context.Context, ids ...string) (int, error)

		CreateMember(ctx context.Context, m Member) (Member, error)
		QueryMembers(ctx context.Context, nodeID string) ([]Member, error)
		GetMember(ctx context.Context, nodeID, userID string) (Member, error)
		DeleteMember(ctx context.Context, nodeID, userID string) error

		CreateCourseAssignments(ctx context.Context, assignments []CourseAssignment) ([]CourseAssignment, error)
		// QueryCourseAssignments returns the assignments of the nodes, filtered by status if not empty.
		QueryCourseAssignments(ctx context.Context, nodeIDs []string, status string) ([]CourseAssignment, error)
		GetCourseAssignment(ctx context.Context, id string) (CourseAssignment, error)
		UpdateCourseAssignment(ctx context.Context, ca CourseAssignment) (CourseAssignment, error)
	}

	// UserGetter resolves organization users (managers and members).
	UserGetter interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		repo    Repository
		users   UserGetter
		mailSvc core.EmailService
	}
)

func NewService(repo Repository, users UserGetter, mailSvc core.EmailService) *Service {
	return &Service{repo: repo, users: users, mailSvc: mailSvc}
}

// Structures

func (svc *Service) CreateStructure(ctx context.Context, ns NewStructure) (Structure, error) {
	existing, err := svc.repo.QueryStructures(ctx, ns.OrganizationID)
	if err != nil {
		return Structure{}, errors.Wrap(err, "querying structures")
	}

	now := nowFunc().UTC()
	st := Structure{
		OrganizationID: ns.OrganizationID,
		Name:           ns.Name,
		Description:    ns.Description,
		IsDefault:      len(existing) == 0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return svc.repo.CreateStructure(ctx, st)
}

func (svc *Service) QueryStructures(ctx context.Context, orgID string) ([]Structure, error) {
	return svc.repo.QueryStructures(ctx, orgID)
}

// GetStructure returns ErrStructureNotFound if the structure belongs to another organization.
func (svc *Service) GetStructure(ctx context.Context, orgID, id string) (Structure, error) {
	st, err := svc.repo.GetStructure(ctx, id)
	if err != nil {
		return Structure{}, err
	}
	if st.OrganizationID != orgID {
		return Structure{}, ErrStructureNotFound
	}
	return st, nil
}

func (svc *Service) UpdateStructure(ctx context.Context, st Structure, us UpdateStructure) (Structure, error) {
	if us.Name != nil {
		st.Name = *us.Name
	}
	if us.Description != nil {
		st.Description = *us.Description
	}
	st.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateStructure(ctx, st)
}

func (svc *Service) SetDefaultStructure(ctx context.Context, st Structure) (Structure, error) {
	if err := svc.repo.SetDefaultStructure(ctx, st); err != nil {
		return Structure{}, errors.Wrap(err, "setting default structure")
	}
	st.IsDefault = true
	return st, nil
}

func (svc *Service) DeleteStructure(ctx context.Context, st Structure) error {
	if st.IsDefault {
		all, err := svc.repo.QueryStructures(ctx, st.OrganizationID)
		if err != nil {
			return errors.Wrap(err, "querying structures")
		}
		if len(all) > 1 {
			return core.NewValidationError(ErrDefaultStructure)
		}
	}
	return svc.repo.DeleteStructure(ctx, st.ID)
}

// Nodes

func (svc *Service) CreateNode(ctx context.Context, st Structure, nn NewNode) (Node, error) {
	now := nowFunc().UTC()
	node := Node{
		StructureID:    st.ID,
		OrganizationID: st.OrganizationID,
		ParentID:       nn.ParentID,
		Name:           nn.Name,
		Type:           nn.Type,
		Properties:     nn.Properties,
		Position:       nn.Position,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if node.Properties == nil {
		node.Properties = make(map[string]interface{})
	}

	parentType := ""
	if node.ParentID != nil {
		parent, err := svc.getStructureNode(ctx, st.ID, *node.ParentID)
		if err != nil {
			return Node{}, err
		}
		parentType = parent.Type
	}
	if err := svc.checkName(ctx, st.ID, node.ParentID, node.Name, ""); err != nil {
		return Node{}, err
	}
	if node.Type == "" {
		if node.ParentID == nil {
			node.Type = TypeRoot
		} else {
			node.Type = SuggestChildType(parentType)
		}
	}

	if nn.ManagerID != nil {
		mgr, err := svc.getManager(ctx, st.OrganizationID, *nn.ManagerID)
		if err != nil {
			return Node{}, err
		}
		node.ManagerID = &mgr.ID
		node.Manager = mgr
	}

	created, err := svc.repo.CreateNode(ctx, node)
	if err != nil {
		return Node{}, errors.Wrap(err, "creating node")
	}
	created.Manager = node.Manager
	return created, nil
}

// getStructureNode fetches the parent of a node being created or moved.
func (svc *Service) getStructureNode(ctx context.Context, structureID, id string) (Node, error) {
	node, err := svc.repo.GetNode(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNodeNotFound {
			return Node{}, core.NewFieldValidationError("parent_id", ErrParentNotFound)
		}
		return Node{}, errors.Wrap(err, "getting parent node")
	}
	if node.StructureID != structureID {
		return Node{}, core.NewFieldValidationError("parent_id", ErrParentNotFound)
	}
	return node, nil
}

func (svc *Service) getManager(ctx context.Context, orgID, id string) (*Manager, error) {
	usr, err := svc.users.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return nil, core.NewFieldValidationError("manager_id", ErrInvalidManager)
		}
		return nil, errors.Wrap(err, "getting manager")
	}
	if usr.OrganizationID != orgID || !usr.Active() {
		return nil, core.NewFieldValidationError("manager_id", ErrInvalidManager)
	}
	return &Manager{ID: usr.ID, Name: usr.DisplayName(), Email: usr.Email}, nil
}

// resolveManagers attaches the manager summary of the nodes. Unknown managers are left nil.
func (svc *Service) resolveManagers(ctx context.Context, nodes []Node) error {
	cache := make(map[string]*Manager)
	for i := range nodes {
		if nodes[i].ManagerID == nil {
			continue
		}
		id := *nodes[i].ManagerID
		mgr, ok := cache[id]
		if !ok {
			usr, err := svc.users.GetByID(ctx, id)
			switch {
			case err == nil:
				mgr = &Manager{ID: usr.ID, Name: usr.DisplayName(), Email: usr.Email}
			case errors.Cause(err) != user.ErrNotFound:
				return errors.Wrap(err, "getting manager")
			}
			cache[id] = mgr
		}
		nodes[i].Manager = mgr
	}
	return nil
}

// QueryNodes returns the flat node list of a structure.
func (svc *Service) QueryNodes(ctx context.Context, structureID string) ([]Node, error) {
	nodes, err := svc.repo.QueryNodes(ctx, structureID)
	if err != nil {
		return nil, errors.Wrap(err, "querying nodes")
	}
	if err = svc.resolveManagers(ctx, nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (svc *Service) GetTree(ctx context.Context, structureID string) ([]*TreeNode, error) {
	nodes, err := svc.QueryNodes(ctx, structureID)
	if err != nil {
		return nil, err
	}
	return BuildForest(nodes), nil
}

// GetNode returns ErrNodeNotFound if the node belongs to another organization.
func (svc *Service) GetNode(ctx context.Context, orgID, id string) (Node, error) {
	node, err := svc.repo.GetNode(ctx, id)
	if err != nil {
		return Node{}, err
	}
	if node.OrganizationID != orgID {
		return Node{}, ErrNodeNotFound
	}
	nodes := []Node{node}
	if err = svc.resolveManagers(ctx, nodes); err != nil {
		return Node{}, err
	}
	return nodes[0], nil
}

func (svc *Service) UpdateNode(ctx context.Context, node Node, un UpdateNode) (Node, error) {
	if un.Name != nil {
		if err := svc.checkName(ctx, node.StructureID, node.ParentID, *un.Name, node.ID); err != nil {
			return Node{}, err
		}
		node.Name = *un.Name
	}
	if un.Type != nil && *un.Type != "" {
		node.Type = *un.Type
	}
	if un.Properties != nil {
		node.Properties = un.Properties
	}
	if un.Position != nil {
		node.Position = *un.Position
	}
	if un.ManagerID != nil {
		if *un.ManagerID == "" {
			node.ManagerID, node.Manager = nil, nil
		} else {
			mgr, err := svc.getManager(ctx, node.OrganizationID, *un.ManagerID)
			if err != nil {
				return Node{}, err
			}
			node.ManagerID, node.Manager = &mgr.ID, mgr
		}
	}
	node.UpdatedAt = nowFunc().UTC()

	updated, err := svc.repo.UpdateNode(ctx, node)
	if err != nil {
		return Node{}, errors.Wrap(err, "updating node")
	}
	updated.Manager = node.Manager
	return updated, nil
}

// structureSubtree returns the subtree of `node` within its structure forest.
func (svc *Service) structureSubtree(ctx context.Context, node Node) ([]Node, *TreeNode, error) {
	nodes, err := svc.repo.QueryNodes(ctx, node.StructureID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying nodes")
	}
	sub, ok := Subtree(BuildForest(nodes), node.ID)
	if !ok {
		// only reachable through a parent cycle
		sub = &TreeNode{Node: node, Children: make([]*TreeNode, 0)}
	}
	return nodes, sub, nil
}

func (svc *Service) MoveNode(ctx context.Context, node Node, mn MoveNode) (Node, error) {
	if mn.ParentID != nil {
		if _, err := svc.getStructureNode(ctx, node.StructureID, *mn.ParentID); err != nil {
			return Node{}, err
		}
	}
	if err := svc.checkName(ctx, node.StructureID, mn.ParentID, node.Name, node.ID); err != nil {
		return Node{}, err
	}

	node.ParentID = mn.ParentID
	if mn.Position != nil {
		node.Position = *mn.Position
	}
	node.UpdatedAt = nowFunc().UTC()

	updated, err := svc.repo.MoveNode(ctx, node)
	if err != nil {
		if errors.Cause(err) == ErrMoveUnderSelf {
			return Node{}, core.NewFieldValidationError("parent_id", ErrMoveUnderSelf)
		}
		return Node{}, errors.Wrap(err, "moving node")
	}
	updated.Manager = node.Manager
	return updated, nil
}

// IsNameAvailable reports whether no other node under `parentID` (nil for the roots) is named `name`,
// ignoring case. The node `excludedID` is skipped.
func (svc *Service) IsNameAvailable(ctx context.Context, structureID string, parentID *string, name, excludedID string) (bool, error) {
	nodes, err := svc.repo.QueryNodes(ctx, structureID)
	if err != nil {
		return false, errors.Wrap(err, "querying nodes")
	}
	for _, n := range nodes {
		if n.ID != excludedID && sameParent(n.ParentID, parentID) && strings.EqualFold(n.Name, name) {
			return false, nil
		}
	}
	return true, nil
}

func (svc *Service) checkName(ctx context.Context, structureID string, parentID *string, name, excludedID string) error {
	ok, err := svc.IsNameAvailable(ctx, structureID, parentID, name, excludedID)
	if err != nil {
		return err
	}
	if !ok {
		return core.NewFieldValidationError("name", ErrNameTaken)
	}
	return nil
}

func sameParent(a, b *string) bool {
	if a == nil || *a == "" {
		return b == nil || *b == ""
	}
	return b != nil && *a == *b
}

// IsManagedBy reports whether `userID` manages `node` or one of its ancestors.
func (svc *Service) IsManagedBy(ctx context.Context, node Node, userID string) (bool, error) {
	if managedBy(node, userID) {
		return true, nil
	}
	nodes, err := svc.repo.QueryNodes(ctx, node.StructureID)
	if err != nil {
		return false, errors.Wrap(err, "querying nodes")
	}
	for _, n := range Path(nodes, node.ID) {
		if managedBy(n, userID) {
			return true, nil
		}
	}
	return false, nil
}

// ManagedNodes returns the organization nodes managed by `userID` along with their descendants,
// structure by structure in flat order.
func (svc *Service) ManagedNodes(ctx context.Context, orgID, userID string) ([]Node, error) {
	structures, err := svc.repo.QueryStructures(ctx, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "querying structures")
	}

	managed := make([]Node, 0)
	for _, st := range structures {
		nodes, err := svc.QueryNodes(ctx, st.ID)
		if err != nil {
			return nil, err
		}
		ids := make(map[string]bool)
		_ = Walk(BuildForest(nodes), func(n *TreeNode, _ int) error {
			if !ids[n.ID] && managedBy(n.Node, userID) {
				for _, id := range IDs(n) {
					ids[id] = true
				}
			}
			return nil
		})
		for _, n := range nodes {
			if ids[n.ID] {
				managed = append(managed, n)
			}
		}
	}
	return managed, nil
}

func managedBy(n Node, userID string) bool {
	return n.ManagerID != nil && *n.ManagerID == userID
}

// DeleteNode deletes the node, and its descendants if `cascade` is set.
// Without `cascade`, a node with children is not deleted.
func (svc *Service) DeleteNode(ctx context.Context, node Node, cascade bool) error {
	_, sub, err := svc.structureSubtree(ctx, node)
	if err != nil {
		return err
	}
	if len(sub.Children) > 0 && !cascade {
		return core.NewValidationError(ErrNodeHasChildren)
	}
	if _, err = svc.repo.DeleteNodes(ctx, IDs(sub)...); err != nil {
		return errors.Wrap(err, "deleting nodes")
	}
	return nil
}

func (svc *Service) GetNodeDetails(ctx context.Context, node Node) (NodeDetails, error) {
	nodes, sub, err := svc.structureSubtree(ctx, node)
	if err != nil {
		return NodeDetails{}, err
	}
	path := Path(nodes, node.ID)
	if err = svc.resolveManagers(ctx, path); err != nil {
		return NodeDetails{}, err
	}
	assignments, err := svc.repo.QueryCourseAssignments(ctx, []string{node.ID}, AssignmentActive)
	if err != nil {
		return NodeDetails{}, errors.Wrap(err, "querying course assignments")
	}

	members := node.MembersCount
	for _, n := range nodes {
		if n.ID == node.ID {
			members = n.MembersCount
			break
		}
	}

	return NodeDetails{
		Node: node,
		Path: path,
		Stats: NodeStats{
			ChildrenCount:    len(sub.Children),
			DescendantsCount: Count(sub.Children),
			MembersCount:     members,
			CoursesAssigned:  len(assignments),
		},
	}, nil
}

// Members

func memberUser(usr user.User) *MemberUser {
	return &MemberUser{ID: usr.ID, Name: usr.Name, Username: usr.Username, Email: usr.Email}
}

// AddMember adds an organization user to the node and notifies them by email.
func (svc *Service) AddMember(ctx context.Context, node Node, nm NewMember) (Member, error) {
	usr, err := svc.users.GetByID(ctx, nm.UserID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Member{}, core.NewFieldValidationError("user_id", ErrInvalidMember)
		}
		return Member{}, errors.Wrap(err, "getting user")
	}
	if usr.OrganizationID != node.OrganizationID {
		return Member{}, core.NewFieldValidationError("user_id", ErrInvalidMember)
	}

	if _, err = svc.repo.GetMember(ctx, node.ID, usr.ID); err == nil {
		return Member{}, core.NewFieldValidationError("user_id", ErrAlreadyMember)
	} else if errors.Cause(err) != ErrMemberNotFound {
		return Member{}, errors.Wrap(err, "getting member")
	}

	role := nm.Role
	if role == "" {
		role = MemberRoleMember
	}
	m, err := svc.repo.CreateMember(ctx, Member{
		NodeID:     node.ID,
		UserID:     usr.ID,
		Role:       role,
		AssignedAt: nowFunc().UTC(),
	})
	if err != nil {
		return Member{}, errors.Wrap(err, "creating member")
	}
	m.User = memberUser(usr)

	if usr.Email != "" {
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:           []mail.Address{{Name: usr.DisplayName(), Address: usr.Email}},
			Subject:      "You were added to " + node.Name,
			TemplateName: memberAddedTmpl,
			TemplateData: map[string]string{"Name": usr.DisplayName(), "NodeName": node.Name, "Role": role},
		})
	}
	return m, nil
}

func (svc *Service) QueryMembers(ctx context.Context, nodeID string) ([]Member, error) {
	members, err := svc.repo.QueryMembers(ctx, nodeID)
	if err != nil {
		return nil, errors.Wrap(err, "querying members")
	}
	for i := range members {
		usr, err := svc.users.GetByID(ctx, members[i].UserID)
		switch {
		case err == nil:
			members[i].User = memberUser(usr)
		case errors.Cause(err) != user.ErrNotFound:
			return nil, errors.Wrap(err, "getting member user")
		}
	}
	return members, nil
}

func (svc *Service) RemoveMember(ctx context.Context, nodeID, userID string) error {
	return svc.repo.DeleteMember(ctx, nodeID, userID)
}

// Course assignments

// AssignCourses assigns the courses to the node, skipping those already actively assigned.
func (svc *Service) AssignCourses(ctx context.Context, node Node, nca NewCourseAssignment, assignedBy string) ([]CourseAssignment, error) {
	existing, err := svc.repo.QueryCourseAssignments(ctx, []string{node.ID}, AssignmentActive)
	if err != nil {
		return nil, errors.Wrap(err, "querying course assignments")
	}
	skip := make(map[string]bool, len(existing))
	for _, ca := range existing {
		skip[ca.CourseID] = true
	}

	now := nowFunc().UTC()
	var dueDate *time.Time
	if nca.DueDate != nil {
		d := nca.DueDate.UTC()
		dueDate = &d
	}

	toCreate := make([]CourseAssignment, 0, len(nca.CourseIDs))
	for _, courseID := range nca.CourseIDs {
		if skip[courseID] {
			continue
		}
		skip[courseID] = true
		toCreate = append(toCreate, CourseAssignment{
			NodeID:     node.ID,
			CourseID:   courseID,
			AssignedBy: assignedBy,
			DueDate:    dueDate,
			Status:     AssignmentActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if len(toCreate) == 0 {
		return []CourseAssignment{}, nil
	}

	created, err := svc.repo.CreateCourseAssignments(ctx, toCreate)
	if err != nil {
		return nil, errors.Wrap(err, "creating course assignments")
	}
	return created, nil
}

// QueryCourseAssignments returns the node assignments, followed by the active assignments
// of its ancestors (flagged Inherited) if `includeInherited` is set.
func (svc *Service) QueryCourseAssignments(ctx context.Context, node Node, includeInherited bool) ([]CourseAssignment, error) {
	own, err := svc.repo.QueryCourseAssignments(ctx, []string{node.ID}, "")
	if err != nil {
		return nil, errors.Wrap(err, "querying course assignments")
	}
	if !includeInherited || node.IsRoot() {
		return own, nil
	}

	nodes, err := svc.repo.QueryNodes(ctx, node.StructureID)
	if err != nil {
		return nil, errors.Wrap(err, "querying nodes")
	}
	path := Path(nodes, node.ID)
	if len(path) == 0 {
		return own, nil
	}
	ancestorIDs := make([]string, 0, len(path))
	for _, n := range path {
		ancestorIDs = append(ancestorIDs, n.ID)
	}

	inherited, err := svc.repo.QueryCourseAssignments(ctx, ancestorIDs, AssignmentActive)
	if err != nil {
		return nil, errors.Wrap(err, "querying inherited course assignments")
	}
	for i := range inherited {
		inherited[i].Inherited = true
	}
	return append(own, inherited...), nil
}

func (svc *Service) CancelCourseAssignment(ctx context.Context, node Node, id string) (CourseAssignment, error) {
	ca, err := svc.repo.GetCourseAssignment(ctx, id)
	if err != nil {
		return CourseAssignment{}, err
	}
	if ca.NodeID != node.ID {
		return CourseAssignment{}, ErrAssignmentNotFound
	}
	if ca.Status == AssignmentCancelled {
		return ca, nil
	}
	ca.Status = AssignmentCancelled
	ca.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateCourseAssignment(ctx, ca)
}
