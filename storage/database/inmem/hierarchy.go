package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/orgpanel/core"
	"github.com/trezcool/orgpanel/core/hierarchy"
)

type hierarchyRepository struct {
	db *hierarchyTables
}

var _ hierarchy.Repository = (*hierarchyRepository)(nil) // interface compliance check

func NewHierarchyRepository(db *DB) *hierarchyRepository {
	return &hierarchyRepository{db: db.hierarchy}
}

func copyNode(n hierarchy.Node) hierarchy.Node {
	if n.ParentID != nil {
		n.ParentID = core.StringPtr(*n.ParentID)
	}
	if n.ManagerID != nil {
		n.ManagerID = core.StringPtr(*n.ManagerID)
	}
	n.Manager = nil // resolved by the service
	if n.Properties != nil {
		props := make(map[string]interface{}, len(n.Properties))
		for k, v := range n.Properties {
			props[k] = v
		}
		n.Properties = props
	}
	return n
}

// Structures

func (repo *hierarchyRepository) CreateStructure(_ context.Context, st hierarchy.Structure) (hierarchy.Structure, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	st.ID = uuid.New().String()
	repo.db.structures[st.ID] = &structureRow{seq: repo.db.nextSeq(), st: st}
	return st, nil
}

func (repo *hierarchyRepository) QueryStructures(_ context.Context, orgID string) ([]hierarchy.Structure, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := make([]*structureRow, 0)
	for _, row := range repo.db.structures {
		if row.st.OrganizationID == orgID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	structures := make([]hierarchy.Structure, 0, len(rows))
	for _, row := range rows {
		structures = append(structures, row.st)
	}
	return structures, nil
}

func (repo *hierarchyRepository) GetStructure(_ context.Context, id string) (hierarchy.Structure, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if row, ok := repo.db.structures[id]; ok {
		return row.st, nil
	}
	return hierarchy.Structure{}, hierarchy.ErrStructureNotFound
}

func (repo *hierarchyRepository) UpdateStructure(_ context.Context, st hierarchy.Structure) (hierarchy.Structure, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	row, ok := repo.db.structures[st.ID]
	if !ok {
		return hierarchy.Structure{}, hierarchy.ErrStructureNotFound
	}
	row.st.Name = st.Name
	row.st.Description = st.Description
	row.st.UpdatedAt = st.UpdatedAt
	return row.st, nil
}

func (repo *hierarchyRepository) SetDefaultStructure(_ context.Context, st hierarchy.Structure) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.structures[st.ID]; !ok {
		return hierarchy.ErrStructureNotFound
	}
	for _, row := range repo.db.structures {
		if row.st.OrganizationID == st.OrganizationID {
			row.st.IsDefault = row.st.ID == st.ID
		}
	}
	return nil
}

func (repo *hierarchyRepository) DeleteStructure(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.structures[id]; !ok {
		return hierarchy.ErrStructureNotFound
	}
	delete(repo.db.structures, id)

	ids := make([]string, 0)
	for _, row := range repo.db.nodes {
		if row.node.StructureID == id {
			ids = append(ids, row.node.ID)
		}
	}
	repo.deleteNodes(ids)
	return nil
}

// Nodes

func (repo *hierarchyRepository) CreateNode(_ context.Context, node hierarchy.Node) (hierarchy.Node, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	node.ID = uuid.New().String()
	node.MembersCount = 0
	repo.db.nodes[node.ID] = &nodeRow{seq: repo.db.nextSeq(), node: copyNode(node)}
	return copyNode(node), nil
}

func (repo *hierarchyRepository) QueryNodes(_ context.Context, structureID string) ([]hierarchy.Node, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := make([]*nodeRow, 0)
	for _, row := range repo.db.nodes {
		if row.node.StructureID == structureID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].node, rows[j].node
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})

	nodes := make([]hierarchy.Node, 0, len(rows))
	for _, row := range rows {
		n := copyNode(row.node)
		n.MembersCount = len(repo.db.members[n.ID])
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (repo *hierarchyRepository) GetNode(_ context.Context, id string) (hierarchy.Node, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	row, ok := repo.db.nodes[id]
	if !ok {
		return hierarchy.Node{}, hierarchy.ErrNodeNotFound
	}
	n := copyNode(row.node)
	n.MembersCount = len(repo.db.members[n.ID])
	return n, nil
}

func (repo *hierarchyRepository) UpdateNode(_ context.Context, node hierarchy.Node) (hierarchy.Node, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	row, ok := repo.db.nodes[node.ID]
	if !ok {
		return hierarchy.Node{}, hierarchy.ErrNodeNotFound
	}
	// structure, organization and creation date are immutable
	node.StructureID = row.node.StructureID
	node.OrganizationID = row.node.OrganizationID
	node.CreatedAt = row.node.CreatedAt
	row.node = copyNode(node)

	n := copyNode(node)
	n.MembersCount = len(repo.db.members[n.ID])
	return n, nil
}

// MoveNode checks and writes the new parent under the write lock.
func (repo *hierarchyRepository) MoveNode(_ context.Context, node hierarchy.Node) (hierarchy.Node, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	row, ok := repo.db.nodes[node.ID]
	if !ok {
		return hierarchy.Node{}, hierarchy.ErrNodeNotFound
	}
	if !node.IsRoot() && repo.isDescendantOrSelf(*node.ParentID, node.ID) {
		return hierarchy.Node{}, hierarchy.ErrMoveUnderSelf
	}
	row.node.ParentID = node.ParentID
	row.node.Position = node.Position
	row.node.UpdatedAt = node.UpdatedAt
	row.node = copyNode(row.node)

	n := copyNode(row.node)
	n.MembersCount = len(repo.db.members[n.ID])
	return n, nil
}

// isDescendantOrSelf walks up the ancestors of `id`. It must be called with the lock held.
func (repo *hierarchyRepository) isDescendantOrSelf(id, ancestorID string) bool {
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		if id == ancestorID {
			return true
		}
		seen[id] = true
		row, ok := repo.db.nodes[id]
		if !ok || row.node.IsRoot() {
			return false
		}
		id = *row.node.ParentID
	}
	return false
}

func (repo *hierarchyRepository) DeleteNodes(_ context.Context, ids ...string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	return repo.deleteNodes(ids), nil
}

// deleteNodes must be called with the lock held.
func (repo *hierarchyRepository) deleteNodes(ids []string) int {
	var count int
	for _, id := range ids {
		if _, ok := repo.db.nodes[id]; !ok {
			continue
		}
		delete(repo.db.nodes, id)
		delete(repo.db.members, id)
		for aid, row := range repo.db.assignments {
			if row.ca.NodeID == id {
				delete(repo.db.assignments, aid)
			}
		}
		count++
	}
	return count
}

// Members

func (repo *hierarchyRepository) CreateMember(_ context.Context, m hierarchy.Member) (hierarchy.Member, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.nodes[m.NodeID]; !ok {
		return hierarchy.Member{}, hierarchy.ErrNodeNotFound
	}
	m.User = nil
	repo.db.members[m.NodeID] = append(repo.db.members[m.NodeID], m)
	return m, nil
}

func (repo *hierarchyRepository) QueryMembers(_ context.Context, nodeID string) ([]hierarchy.Member, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	members := make([]hierarchy.Member, 0, len(repo.db.members[nodeID]))
	members = append(members, repo.db.members[nodeID]...)
	return members, nil
}

func (repo *hierarchyRepository) GetMember(_ context.Context, nodeID, userID string) (hierarchy.Member, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, m := range repo.db.members[nodeID] {
		if m.UserID == userID {
			return m, nil
		}
	}
	return hierarchy.Member{}, hierarchy.ErrMemberNotFound
}

func (repo *hierarchyRepository) DeleteMember(_ context.Context, nodeID, userID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	members := repo.db.members[nodeID]
	for i, m := range members {
		if m.UserID == userID {
			repo.db.members[nodeID] = append(members[:i:i], members[i+1:]...)
			return nil
		}
	}
	return hierarchy.ErrMemberNotFound
}

// Course assignments

func (repo *hierarchyRepository) CreateCourseAssignments(_ context.Context, assignments []hierarchy.CourseAssignment) ([]hierarchy.CourseAssignment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	created := make([]hierarchy.CourseAssignment, 0, len(assignments))
	for _, ca := range assignments {
		if _, ok := repo.db.nodes[ca.NodeID]; !ok {
			return nil, hierarchy.ErrNodeNotFound
		}
		ca.ID = uuid.New().String()
		ca.Inherited = false
		repo.db.assignments[ca.ID] = &assignmentRow{seq: repo.db.nextSeq(), ca: ca}
		created = append(created, ca)
	}
	return created, nil
}

func (repo *hierarchyRepository) QueryCourseAssignments(_ context.Context, nodeIDs []string, status string) ([]hierarchy.CourseAssignment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := make([]*assignmentRow, 0)
	for _, row := range repo.db.assignments {
		if !core.ContainsString(nodeIDs, row.ca.NodeID) {
			continue
		}
		if status != "" && row.ca.Status != status {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	assignments := make([]hierarchy.CourseAssignment, 0, len(rows))
	for _, row := range rows {
		assignments = append(assignments, row.ca)
	}
	return assignments, nil
}

func (repo *hierarchyRepository) GetCourseAssignment(_ context.Context, id string) (hierarchy.CourseAssignment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if row, ok := repo.db.assignments[id]; ok {
		return row.ca, nil
	}
	return hierarchy.CourseAssignment{}, hierarchy.ErrAssignmentNotFound
}

func (repo *hierarchyRepository) UpdateCourseAssignment(_ context.Context, ca hierarchy.CourseAssignment) (hierarchy.CourseAssignment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	row, ok := repo.db.assignments[ca.ID]
	if !ok {
		return hierarchy.CourseAssignment{}, hierarchy.ErrAssignmentNotFound
	}
	row.ca.Status = ca.Status
	row.ca.DueDate = ca.DueDate
	row.ca.UpdatedAt = ca.UpdatedAt
	return row.ca, nil
}
