package inmemdb

import (
	"sync"

	"github.com/trezcool/orgpanel/core/hierarchy"
	"github.com/trezcool/orgpanel/core/user"
)

type (
	DB struct {
		user      *userTable
		hierarchy *hierarchyTables
	}

	userRow struct {
		seq int
		usr user.User
	}

	userTable struct {
		sync.RWMutex
		seq   int
		table map[string]*userRow
	}

	structureRow struct {
		seq int
		st  hierarchy.Structure
	}

	nodeRow struct {
		seq  int
		node hierarchy.Node
	}

	assignmentRow struct {
		seq int
		ca  hierarchy.CourseAssignment
	}

	// hierarchyTables share one lock: deletes cascade across them.
	hierarchyTables struct {
		sync.RWMutex
		seq         int
		structures  map[string]*structureRow
		nodes       map[string]*nodeRow
		members     map[string][]hierarchy.Member // by node id, in insertion order
		assignments map[string]*assignmentRow
	}
)

func Open() *DB {
	db := &DB{user: &userTable{}, hierarchy: &hierarchyTables{}}
	db.Reset()
	return db
}

// Reset empties all tables.
func (db *DB) Reset() {
	db.user.Lock()
	db.user.table = make(map[string]*userRow)
	db.user.Unlock()

	db.hierarchy.Lock()
	db.hierarchy.structures = make(map[string]*structureRow)
	db.hierarchy.nodes = make(map[string]*nodeRow)
	db.hierarchy.members = make(map[string][]hierarchy.Member)
	db.hierarchy.assignments = make(map[string]*assignmentRow)
	db.hierarchy.Unlock()
}

func (t *hierarchyTables) nextSeq() int {
	t.seq++
	return t.seq
}
