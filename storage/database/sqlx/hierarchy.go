package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/orgpanel/core"
	"github.com/trezcool/orgpanel/core/hierarchy"
)

const (
	structureColumns  = `id, organization_id, name, description, is_default, created_at, updated_at`
	nodeColumns       = `id, structure_id, organization_id, parent_id, name, type, manager_id, properties, position, created_at, updated_at`
	memberColumns     = `node_id, user_id, role, assigned_at`
	assignmentColumns = `id, node_id, course_id, assigned_by, due_date, status, created_at, updated_at`

	// nodeSelect also counts the node members.
	nodeSelect = `SELECT n.id, n.structure_id, n.organization_id, n.parent_id, n.name, n.type, n.manager_id,
		n.properties, n.position, n.created_at, n.updated_at,
		(SELECT COUNT(*) FROM hierarchy_member m WHERE m.node_id = n.id) AS members_count
		FROM hierarchy_node n`
)

type (
	structureRow struct {
		ID             string    `db:"id"`
		OrganizationID string    `db:"organization_id"`
		Name           string    `db:"name"`
		Description    string    `db:"description"`
		IsDefault      bool      `db:"is_default"`
		CreatedAt      time.Time `db:"created_at"`
		UpdatedAt      time.Time `db:"updated_at"`
	}

	// Properties are written as text: lib/pq encodes []byte params as bytea.
	nodeRow struct {
		ID             string      `db:"id"`
		StructureID    string      `db:"structure_id"`
		OrganizationID string      `db:"organization_id"`
		ParentID       null.String `db:"parent_id"`
		Name           string      `db:"name"`
		Type           string      `db:"type"`
		ManagerID      null.String `db:"manager_id"`
		Properties     null.JSON   `db:"properties"`
		Position       int         `db:"position"`
		MembersCount   int         `db:"members_count"`
		CreatedAt      time.Time   `db:"created_at"`
		UpdatedAt      time.Time   `db:"updated_at"`
	}

	memberRow struct {
		NodeID     string    `db:"node_id"`
		UserID     string    `db:"user_id"`
		Role       string    `db:"role"`
		AssignedAt time.Time `db:"assigned_at"`
	}

	assignmentRow struct {
		ID         string      `db:"id"`
		NodeID     string      `db:"node_id"`
		CourseID   string      `db:"course_id"`
		AssignedBy null.String `db:"assigned_by"`
		DueDate    null.Time   `db:"due_date"`
		Status     string      `db:"status"`
		CreatedAt  time.Time   `db:"created_at"`
		UpdatedAt  time.Time   `db:"updated_at"`
	}
)

func (row structureRow) toStructure() hierarchy.Structure {
	return hierarchy.Structure{
		ID:             row.ID,
		OrganizationID: row.OrganizationID,
		Name:           row.Name,
		Description:    row.Description,
		IsDefault:      row.IsDefault,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
}

func toNodeRow(node hierarchy.Node) (nodeRow, error) {
	props := node.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nodeRow{}, errors.Wrap(err, "encoding node properties")
	}
	return nodeRow{
		ID:             node.ID,
		StructureID:    node.StructureID,
		OrganizationID: node.OrganizationID,
		ParentID:       null.StringFromPtr(node.ParentID),
		Name:           node.Name,
		Type:           node.Type,
		ManagerID:      null.StringFromPtr(node.ManagerID),
		Properties:     null.JSONFrom(data),
		Position:       node.Position,
		MembersCount:   node.MembersCount,
		CreatedAt:      node.CreatedAt.UTC(),
		UpdatedAt:      node.UpdatedAt.UTC(),
	}, nil
}

func (row nodeRow) toNode() (hierarchy.Node, error) {
	props := make(map[string]interface{})
	if row.Properties.Valid && len(row.Properties.JSON) > 0 {
		if err := json.Unmarshal(row.Properties.JSON, &props); err != nil {
			return hierarchy.Node{}, errors.Wrap(err, "decoding node properties")
		}
	}
	return hierarchy.Node{
		ID:             row.ID,
		StructureID:    row.StructureID,
		OrganizationID: row.OrganizationID,
		ParentID:       row.ParentID.Ptr(),
		Name:           row.Name,
		Type:           row.Type,
		ManagerID:      row.ManagerID.Ptr(),
		Properties:     props,
		Position:       row.Position,
		MembersCount:   row.MembersCount,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}, nil
}

func (row memberRow) toMember() hierarchy.Member {
	return hierarchy.Member{NodeID: row.NodeID, UserID: row.UserID, Role: row.Role, AssignedAt: row.AssignedAt.UTC()}
}

func toAssignmentRow(ca hierarchy.CourseAssignment) assignmentRow {
	row := assignmentRow{
		ID:         ca.ID,
		NodeID:     ca.NodeID,
		CourseID:   ca.CourseID,
		AssignedBy: null.NewString(ca.AssignedBy, ca.AssignedBy != ""),
		Status:     ca.Status,
		CreatedAt:  ca.CreatedAt.UTC(),
		UpdatedAt:  ca.UpdatedAt.UTC(),
	}
	if ca.DueDate != nil {
		row.DueDate = null.TimeFrom(ca.DueDate.UTC())
	}
	return row
}

func (row assignmentRow) toAssignment() hierarchy.CourseAssignment {
	ca := hierarchy.CourseAssignment{
		ID:         row.ID,
		NodeID:     row.NodeID,
		CourseID:   row.CourseID,
		AssignedBy: row.AssignedBy.String,
		Status:     row.Status,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if row.DueDate.Valid {
		d := row.DueDate.Time.UTC()
		ca.DueDate = &d
	}
	return ca
}

type hierarchyRepository struct {
	db core.DB
}

var _ hierarchy.Repository = (*hierarchyRepository)(nil) // interface compliance check

func NewHierarchyRepository(db core.DB) *hierarchyRepository {
	return &hierarchyRepository{db: db}
}

// withTx runs fn in a transaction, rolled back if fn fails.
func (repo hierarchyRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// invalidTextRepresentation is raised by postgres when a malformed uuid is compared to a uuid column.
const invalidTextRepresentation = "22P02"

func isInvalidID(err error) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && pqErr.Code == invalidTextRepresentation
}

// trapNoRows maps "no rows" and malformed id errors to `notFound`.
func trapNoRows(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows || isInvalidID(err) {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func affected(res sql.Result, notFound error, msg string) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, msg)
	}
	if n == 0 && notFound != nil {
		return 0, notFound
	}
	return int(n), nil
}

// Structures

func (repo hierarchyRepository) CreateStructure(ctx context.Context, st hierarchy.Structure) (hierarchy.Structure, error) {
	st.ID = uuid.New().String()
	q := `INSERT INTO hierarchy_structure (` + structureColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := repo.db.ExecContext(ctx, q,
		st.ID, st.OrganizationID, st.Name, st.Description, st.IsDefault, st.CreatedAt.UTC(), st.UpdatedAt.UTC())
	if err != nil {
		return hierarchy.Structure{}, errors.Wrap(err, "inserting structure")
	}
	return st, nil
}

func (repo hierarchyRepository) QueryStructures(ctx context.Context, orgID string) ([]hierarchy.Structure, error) {
	var rows []structureRow
	q := `SELECT ` + structureColumns + ` FROM hierarchy_structure WHERE organization_id = $1 ORDER BY created_at, id`
	if err := repo.db.SelectContext(ctx, &rows, q, orgID); err != nil {
		return nil, errors.Wrap(err, "selecting structures")
	}
	structures := make([]hierarchy.Structure, 0, len(rows))
	for _, row := range rows {
		structures = append(structures, row.toStructure())
	}
	return structures, nil
}

func (repo hierarchyRepository) GetStructure(ctx context.Context, id string) (hierarchy.Structure, error) {
	var row structureRow
	q := `SELECT ` + structureColumns + ` FROM hierarchy_structure WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		return hierarchy.Structure{}, trapNoRows(err, hierarchy.ErrStructureNotFound, "selecting structure")
	}
	return row.toStructure(), nil
}

func (repo hierarchyRepository) UpdateStructure(ctx context.Context, st hierarchy.Structure) (hierarchy.Structure, error) {
	var row structureRow
	q := `UPDATE hierarchy_structure SET name = $2, description = $3, updated_at = $4 WHERE id = $1 RETURNING ` + structureColumns
	if err := repo.db.GetContext(ctx, &row, q, st.ID, st.Name, st.Description, st.UpdatedAt.UTC()); err != nil {
		return hierarchy.Structure{}, trapNoRows(err, hierarchy.ErrStructureNotFound, "updating structure")
	}
	return row.toStructure(), nil
}

func (repo hierarchyRepository) SetDefaultStructure(ctx context.Context, st hierarchy.Structure) error {
	return repo.withTx(ctx, func(tx *sqlx.Tx) error {
		// unset first: only one default per organization
		q := `UPDATE hierarchy_structure SET is_default = false WHERE organization_id = $1 AND is_default`
		if _, err := tx.ExecContext(ctx, q, st.OrganizationID); err != nil {
			return errors.Wrap(err, "unsetting default structure")
		}
		res, err := tx.ExecContext(ctx, `UPDATE hierarchy_structure SET is_default = true WHERE id = $1`, st.ID)
		if err != nil {
			return trapNoRows(err, hierarchy.ErrStructureNotFound, "setting default structure")
		}
		_, err = affected(res, hierarchy.ErrStructureNotFound, "setting default structure")
		return err
	})
}

// DeleteStructure relies on ON DELETE CASCADE for the structure nodes.
func (repo hierarchyRepository) DeleteStructure(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM hierarchy_structure WHERE id = $1`, id)
	if err != nil {
		return trapNoRows(err, hierarchy.ErrStructureNotFound, "deleting structure")
	}
	_, err = affected(res, hierarchy.ErrStructureNotFound, "deleting structure")
	return err
}

// Nodes

func (repo hierarchyRepository) CreateNode(ctx context.Context, node hierarchy.Node) (hierarchy.Node, error) {
	node.ID = uuid.New().String()
	row, err := toNodeRow(node)
	if err != nil {
		return hierarchy.Node{}, err
	}
	q := `INSERT INTO hierarchy_node (` + nodeColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = repo.db.ExecContext(ctx, q,
		row.ID, row.StructureID, row.OrganizationID, row.ParentID, row.Name, row.Type, row.ManagerID,
		string(row.Properties.JSON), row.Position, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return hierarchy.Node{}, errors.Wrap(err, "inserting node")
	}
	row.MembersCount = 0
	return row.toNode()
}

func (repo hierarchyRepository) QueryNodes(ctx context.Context, structureID string) ([]hierarchy.Node, error) {
	var rows []nodeRow
	q := nodeSelect + ` WHERE n.structure_id = $1 ORDER BY n.position, n.created_at, n.id`
	if err := repo.db.SelectContext(ctx, &rows, q, structureID); err != nil {
		return nil, errors.Wrap(err, "selecting nodes")
	}
	nodes := make([]hierarchy.Node, 0, len(rows))
	for _, row := range rows {
		node, err := row.toNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (repo hierarchyRepository) GetNode(ctx context.Context, id string) (hierarchy.Node, error) {
	var row nodeRow
	if err := repo.db.GetContext(ctx, &row, nodeSelect+` WHERE n.id = $1`, id); err != nil {
		return hierarchy.Node{}, trapNoRows(err, hierarchy.ErrNodeNotFound, "selecting node")
	}
	return row.toNode()
}

func (repo hierarchyRepository) UpdateNode(ctx context.Context, node hierarchy.Node) (hierarchy.Node, error) {
	row, err := toNodeRow(node)
	if err != nil {
		return hierarchy.Node{}, err
	}
	q := `UPDATE hierarchy_node SET parent_id = $2, name = $3, type = $4, manager_id = $5, properties = $6,
		position = $7, updated_at = $8 WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, q,
		row.ID, row.ParentID, row.Name, row.Type, row.ManagerID, string(row.Properties.JSON), row.Position, row.UpdatedAt)
	if err != nil {
		return hierarchy.Node{}, trapNoRows(err, hierarchy.ErrNodeNotFound, "updating node")
	}
	if _, err = affected(res, hierarchy.ErrNodeNotFound, "updating node"); err != nil {
		return hierarchy.Node{}, err
	}
	return repo.GetNode(ctx, node.ID)
}

// moveNodeCycleQuery reports whether $2 is $1 or one of its descendants.
// UNION (not UNION ALL) keeps the recursion finite on a corrupted parent cycle.
const moveNodeCycleQuery = `WITH RECURSIVE subtree AS (
		SELECT id FROM hierarchy_node WHERE id = $1
		UNION
		SELECT n.id FROM hierarchy_node n JOIN subtree s ON n.parent_id = s.id
	) SELECT EXISTS (SELECT 1 FROM subtree WHERE id = $2)`

// MoveNode checks and writes the new parent in one transaction. Moves within a structure are
// serialized by locking the structure row.
func (repo hierarchyRepository) MoveNode(ctx context.Context, node hierarchy.Node) (hierarchy.Node, error) {
	err := repo.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT id FROM hierarchy_structure WHERE id = $1 FOR UPDATE`, node.StructureID); err != nil {
			return trapNoRows(err, hierarchy.ErrStructureNotFound, "locking structure")
		}
		if !node.IsRoot() {
			var underSelf bool
			if err := tx.GetContext(ctx, &underSelf, moveNodeCycleQuery, node.ID, *node.ParentID); err != nil {
				return trapNoRows(err, hierarchy.ErrNodeNotFound, "checking node subtree")
			}
			if underSelf {
				return hierarchy.ErrMoveUnderSelf
			}
		}

		q := `UPDATE hierarchy_node SET parent_id = $2, position = $3, updated_at = $4 WHERE id = $1`
		res, err := tx.ExecContext(ctx, q, node.ID, null.StringFromPtr(node.ParentID), node.Position, node.UpdatedAt.UTC())
		if err != nil {
			return trapNoRows(err, hierarchy.ErrNodeNotFound, "moving node")
		}
		_, err = affected(res, hierarchy.ErrNodeNotFound, "moving node")
		return err
	})
	if err != nil {
		return hierarchy.Node{}, err
	}
	return repo.GetNode(ctx, node.ID)
}

// DeleteNodes relies on ON DELETE CASCADE for members and course assignments.
func (repo hierarchyRepository) DeleteNodes(ctx context.Context, ids ...string) (int, error) {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM hierarchy_node WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting nodes")
	}
	return affected(res, nil, "deleting nodes")
}

// Members

func (repo hierarchyRepository) CreateMember(ctx context.Context, m hierarchy.Member) (hierarchy.Member, error) {
	q := `INSERT INTO hierarchy_member (` + memberColumns + `) VALUES ($1, $2, $3, $4)`
	if _, err := repo.db.ExecContext(ctx, q, m.NodeID, m.UserID, m.Role, m.AssignedAt.UTC()); err != nil {
		return hierarchy.Member{}, errors.Wrap(err, "inserting member")
	}
	m.User = nil
	return m, nil
}

func (repo hierarchyRepository) QueryMembers(ctx context.Context, nodeID string) ([]hierarchy.Member, error) {
	var rows []memberRow
	q := `SELECT ` + memberColumns + ` FROM hierarchy_member WHERE node_id = $1 ORDER BY assigned_at, user_id`
	if err := repo.db.SelectContext(ctx, &rows, q, nodeID); err != nil {
		return nil, errors.Wrap(err, "selecting members")
	}
	members := make([]hierarchy.Member, 0, len(rows))
	for _, row := range rows {
		members = append(members, row.toMember())
	}
	return members, nil
}

func (repo hierarchyRepository) GetMember(ctx context.Context, nodeID, userID string) (hierarchy.Member, error) {
	var row memberRow
	q := `SELECT ` + memberColumns + ` FROM hierarchy_member WHERE node_id = $1 AND user_id = $2`
	if err := repo.db.GetContext(ctx, &row, q, nodeID, userID); err != nil {
		return hierarchy.Member{}, trapNoRows(err, hierarchy.ErrMemberNotFound, "selecting member")
	}
	return row.toMember(), nil
}

func (repo hierarchyRepository) DeleteMember(ctx context.Context, nodeID, userID string) error {
	q := `DELETE FROM hierarchy_member WHERE node_id = $1 AND user_id = $2`
	res, err := repo.db.ExecContext(ctx, q, nodeID, userID)
	if err != nil {
		return trapNoRows(err, hierarchy.ErrMemberNotFound, "deleting member")
	}
	_, err = affected(res, hierarchy.ErrMemberNotFound, "deleting member")
	return err
}

// Course assignments

func (repo hierarchyRepository) CreateCourseAssignments(ctx context.Context, assignments []hierarchy.CourseAssignment) ([]hierarchy.CourseAssignment, error) {
	created := make([]hierarchy.CourseAssignment, 0, len(assignments))
	err := repo.withTx(ctx, func(tx *sqlx.Tx) error {
		q := `INSERT INTO hierarchy_course_assignment (` + assignmentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		for _, ca := range assignments {
			ca.ID = uuid.New().String()
			row := toAssignmentRow(ca)
			_, err := tx.ExecContext(ctx, q,
				row.ID, row.NodeID, row.CourseID, row.AssignedBy, row.DueDate, row.Status, row.CreatedAt, row.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, "inserting course assignment")
			}
			created = append(created, row.toAssignment())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (repo hierarchyRepository) QueryCourseAssignments(ctx context.Context, nodeIDs []string, status string) ([]hierarchy.CourseAssignment, error) {
	q := `SELECT ` + assignmentColumns + ` FROM hierarchy_course_assignment WHERE node_id = ANY($1)`
	args := []interface{}{pq.Array(nodeIDs)}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at, id`

	var rows []assignmentRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting course assignments")
	}
	assignments := make([]hierarchy.CourseAssignment, 0, len(rows))
	for _, row := range rows {
		assignments = append(assignments, row.toAssignment())
	}
	return assignments, nil
}

func (repo hierarchyRepository) GetCourseAssignment(ctx context.Context, id string) (hierarchy.CourseAssignment, error) {
	var row assignmentRow
	q := `SELECT ` + assignmentColumns + ` FROM hierarchy_course_assignment WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		return hierarchy.CourseAssignment{}, trapNoRows(err, hierarchy.ErrAssignmentNotFound, "selecting course assignment")
	}
	return row.toAssignment(), nil
}

func (repo hierarchyRepository) UpdateCourseAssignment(ctx context.Context, ca hierarchy.CourseAssignment) (hierarchy.CourseAssignment, error) {
	row := toAssignmentRow(ca)
	var updated assignmentRow
	q := `UPDATE hierarchy_course_assignment SET status = $2, due_date = $3, updated_at = $4 WHERE id = $1 RETURNING ` + assignmentColumns
	if err := repo.db.GetContext(ctx, &updated, q, row.ID, row.Status, row.DueDate, row.UpdatedAt); err != nil {
		return hierarchy.CourseAssignment{}, trapNoRows(err, hierarchy.ErrAssignmentNotFound, "updating course assignment")
	}
	return updated.toAssignment(), nil
}
