package sqlxrepos

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/orgpanel/core"
	"github.com/trezcool/orgpanel/core/hierarchy"
	"github.com/trezcool/orgpanel/core/user"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

var (
	now       = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	userCols  = []string{"id", "organization_id", "name", "username", "email", "is_active", "roles", "password_hash", "created_at", "updated_at", "last_login"}
	nodeCols  = []string{"id", "structure_id", "organization_id", "parent_id", "name", "type", "manager_id", "properties", "position", "created_at", "updated_at", "members_count"}
	assignCol = []string{"id", "node_id", "course_id", "assigned_by", "due_date", "status", "created_at", "updated_at"}
)

func TestUserRepository_GetUser(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT (.+) FROM "user" WHERE id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "org1", "Joseph", "joseph", nil, true, "{admin,member}", []byte("hash"), now, now, nil))

	usr, err := repo.GetUser(ctx, user.GetFilter{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "joseph", usr.Username)
	assert.Equal(t, "", usr.Email)
	assert.Equal(t, []string{user.RoleAdmin, user.RoleMember}, usr.Roles)
	assert.True(t, usr.Active())
	assert.True(t, usr.LastLogin.IsZero())

	mock.ExpectQuery(`SELECT (.+) FROM "user" WHERE username = \$1 OR email = \$1`).
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetUser(ctx, user.GetFilter{UsernameOrEmail: "nobody"})
	assert.Equal(t, user.ErrNotFound, err)

	mock.ExpectQuery(`SELECT (.+) FROM "user" WHERE id = \$1`).
		WithArgs("not-a-uuid").
		WillReturnError(&pq.Error{Code: "22P02"})
	_, err = repo.GetUser(ctx, user.GetFilter{ID: "not-a-uuid"})
	assert.Equal(t, user.ErrNotFound, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CheckUniqueness(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM "user" WHERE \(username = \$1 OR email = \$2\) AND NOT \(id = ANY\(\$3\)\)`).
		WithArgs("joseph", "joseph@test.cd", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u2", "org1", "Other", "other", "joseph@test.cd", nil, "{}", nil, now, now, nil))

	err := repo.CheckUniqueness(context.Background(), "joseph", "joseph@test.cd", "u1")
	assert.Equal(t, user.ErrEmailExists, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_QueryUsers(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)

	filter := user.QueryFilter{OrganizationID: "org1", Search: "jo", Roles: []string{user.RoleAdmin}, IsActive: core.BoolPtr(true)}
	ordering := []core.DBOrdering{{Field: "name", Ascending: true}, {Field: "password_hash"}}

	mock.ExpectQuery(`SELECT (.+) FROM "user" WHERE organization_id = \$1 ` +
		`AND \(name ILIKE \$2 OR username ILIKE \$2 OR email ILIKE \$2\) ` +
		`AND roles && \$3 AND \(is_active IS NULL OR is_active = \$4\) ORDER BY name ASC$`).
		WithArgs("org1", "%jo%", sqlmock.AnyArg(), true).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "org1", "Joseph", "joseph", "joseph@test.cd", nil, "{admin}", nil, now, now, now))

	users, err := repo.QueryUsers(context.Background(), filter, ordering)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, now, users[0].LastLogin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateAndDelete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO "user"`).
		WithArgs(sqlmock.AnyArg(), "org1", "Joseph", "joseph", nil, true, sqlmock.AnyArg(), nil, now, now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	usr := user.User{OrganizationID: "org1", Name: "Joseph", Username: "joseph", CreatedAt: now, UpdatedAt: now}
	usr.SetActive(true)
	created, err := repo.CreateUser(ctx, usr)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	mock.ExpectExec(`DELETE FROM "user" WHERE id = ANY\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := repo.DeleteUsersByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHierarchyRepository_QueryNodes(t *testing.T) {
	db, mock := newMock(t)
	repo := NewHierarchyRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM hierarchy_node n WHERE n.structure_id = \$1 ORDER BY n.position, n.created_at, n.id`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(nodeCols).
			AddRow("n1", "s1", "org1", nil, "HQ", "root", "u1", []byte(`{"city":"Kinshasa"}`), 0, now, now, 3).
			AddRow("n2", "s1", "org1", "n1", "North", "region", nil, []byte(`{}`), 0, now, now, 0))

	nodes, err := repo.QueryNodes(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Nil(t, nodes[0].ParentID)
	assert.Equal(t, "u1", *nodes[0].ManagerID)
	assert.Equal(t, map[string]interface{}{"city": "Kinshasa"}, nodes[0].Properties)
	assert.Equal(t, 3, nodes[0].MembersCount)
	assert.Equal(t, "n1", *nodes[1].ParentID)

	forest := hierarchy.BuildForest(nodes)
	require.Len(t, forest, 1)
	assert.Len(t, forest[0].Children, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHierarchyRepository_GetNodeNotFound(t *testing.T) {
	tests := []struct {
		name  string
		dbErr error
	}{
		{name: "no rows", dbErr: sql.ErrNoRows},
		{name: "malformed id", dbErr: &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "nope"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewHierarchyRepository(db)

			mock.ExpectQuery(`FROM hierarchy_node n WHERE n.id = \$1`).WithArgs("nope").WillReturnError(tt.dbErr)
			_, err := repo.GetNode(context.Background(), "nope")
			assert.Equal(t, hierarchy.ErrNodeNotFound, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("other errors are kept", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`FROM hierarchy_node n WHERE n.id = \$1`).WillReturnError(&pq.Error{Code: "57014"})
		_, err := NewHierarchyRepository(db).GetNode(context.Background(), "n1")
		assert.Error(t, err)
		assert.NotEqual(t, hierarchy.ErrNodeNotFound, err)
	})
}

func TestHierarchyRepository_MoveNode(t *testing.T) {
	node := hierarchy.Node{ID: "n2", StructureID: "s1", ParentID: core.StringPtr("n0"), Position: 1, UpdatedAt: now}

	t.Run("ok", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`SELECT id FROM hierarchy_structure WHERE id = \$1 FOR UPDATE`).
			WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`WITH RECURSIVE subtree`).
			WithArgs("n2", "n0").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(`UPDATE hierarchy_node SET parent_id = \$2, position = \$3, updated_at = \$4 WHERE id = \$1`).
			WithArgs("n2", "n0", 1, now).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery(`FROM hierarchy_node n WHERE n.id = \$1`).
			WithArgs("n2").
			WillReturnRows(sqlmock.NewRows(nodeCols).
				AddRow("n2", "s1", "org1", "n0", "North", "region", nil, []byte(`{}`), 1, now, now, 0))

		moved, err := NewHierarchyRepository(db).MoveNode(context.Background(), node)
		require.NoError(t, err)
		assert.Equal(t, "n0", *moved.ParentID)
		assert.Equal(t, 1, moved.Position)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("to the roots skips the subtree check", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`FOR UPDATE`).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE hierarchy_node SET parent_id`).
			WithArgs("n2", nil, 0, now).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery(`FROM hierarchy_node n WHERE n.id = \$1`).
			WithArgs("n2").
			WillReturnRows(sqlmock.NewRows(nodeCols).
				AddRow("n2", "s1", "org1", nil, "North", "region", nil, []byte(`{}`), 0, now, now, 0))

		root := hierarchy.Node{ID: "n2", StructureID: "s1", UpdatedAt: now}
		moved, err := NewHierarchyRepository(db).MoveNode(context.Background(), root)
		require.NoError(t, err)
		assert.Nil(t, moved.ParentID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("under a descendant rolls back", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`FOR UPDATE`).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`WITH RECURSIVE subtree`).
			WithArgs("n2", "n0").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		_, err := NewHierarchyRepository(db).MoveNode(context.Background(), node)
		assert.Equal(t, hierarchy.ErrMoveUnderSelf, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("node gone rolls back", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`FOR UPDATE`).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`WITH RECURSIVE subtree`).
			WithArgs("n2", "n0").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(`UPDATE hierarchy_node SET parent_id`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := NewHierarchyRepository(db).MoveNode(context.Background(), node)
		assert.Equal(t, hierarchy.ErrNodeNotFound, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHierarchyRepository_SetDefaultStructure(t *testing.T) {
	st := hierarchy.Structure{ID: "s2", OrganizationID: "org1"}

	t.Run("ok", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE hierarchy_structure SET is_default = false WHERE organization_id = \$1`).
			WithArgs("org1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE hierarchy_structure SET is_default = true WHERE id = \$1`).
			WithArgs("s2").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, NewHierarchyRepository(db).SetDefaultStructure(context.Background(), st))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found rolls back", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`SET is_default = false`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`SET is_default = true`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := NewHierarchyRepository(db).SetDefaultStructure(context.Background(), st)
		assert.Equal(t, hierarchy.ErrStructureNotFound, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHierarchyRepository_DeleteMember(t *testing.T) {
	db, mock := newMock(t)
	repo := NewHierarchyRepository(db)

	mock.ExpectExec(`DELETE FROM hierarchy_member WHERE node_id = \$1 AND user_id = \$2`).
		WithArgs("n1", "u1").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.Equal(t, hierarchy.ErrMemberNotFound, repo.DeleteMember(context.Background(), "n1", "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHierarchyRepository_courseAssignments(t *testing.T) {
	db, mock := newMock(t)
	repo := NewHierarchyRepository(db)
	ctx := context.Background()
	due := now.Add(30 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO hierarchy_course_assignment`).
		WithArgs(sqlmock.AnyArg(), "n1", "c1", "u1", due, hierarchy.AssignmentActive, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO hierarchy_course_assignment`).
		WithArgs(sqlmock.AnyArg(), "n1", "c2", "u1", due, hierarchy.AssignmentActive, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := repo.CreateCourseAssignments(ctx, []hierarchy.CourseAssignment{
		{NodeID: "n1", CourseID: "c1", AssignedBy: "u1", DueDate: &due, Status: hierarchy.AssignmentActive, CreatedAt: now, UpdatedAt: now},
		{NodeID: "n1", CourseID: "c2", AssignedBy: "u1", DueDate: &due, Status: hierarchy.AssignmentActive, CreatedAt: now, UpdatedAt: now},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.NotEqual(t, created[0].ID, created[1].ID)

	mock.ExpectQuery(`FROM hierarchy_course_assignment WHERE node_id = ANY\(\$1\) AND status = \$2 ORDER BY created_at, id`).
		WithArgs(sqlmock.AnyArg(), hierarchy.AssignmentActive).
		WillReturnRows(sqlmock.NewRows(assignCol).
			AddRow("a1", "n1", "c1", "u1", due, hierarchy.AssignmentActive, now, now).
			AddRow("a2", "n0", "c9", nil, nil, hierarchy.AssignmentActive, now, now))

	assignments, err := repo.QueryCourseAssignments(ctx, []string{"n0", "n1"}, hierarchy.AssignmentActive)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, &due, assignments[0].DueDate)
	assert.Nil(t, assignments[1].DueDate)
	assert.Equal(t, "", assignments[1].AssignedBy)

	assert.NoError(t, mock.ExpectationsWereMet())
}
