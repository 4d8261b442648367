package hierarchy

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/orgpanel/core"
)

// Node types
const (
	TypeRoot   = "root"
	TypeRegion = "region"
	TypeZone   = "zone"
	TypeTeam   = "team"
	TypeCustom = "custom"
)

// Member roles
const (
	MemberRoleLeader = "leader"
	MemberRoleMember = "member"
)

// Course assignment statuses
const (
	AssignmentActive    = "active"
	AssignmentCancelled = "cancelled"
)

// BuiltinTypes are ordered from the top of a hierarchy down.
var BuiltinTypes = []string{TypeRoot, TypeRegion, TypeZone, TypeTeam}

// SuggestChildType returns the built-in type following `parentType`, TypeCustom past the last one.
func SuggestChildType(parentType string) string {
	for i, typ := range BuiltinTypes[:len(BuiltinTypes)-1] {
		if typ == parentType {
			return BuiltinTypes[i+1]
		}
	}
	return TypeCustom
}

type Structure struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	IsDefault      bool      `json:"is_default"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

// Manager is the user summary attached to a managed node.
type Manager struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Node is the flat form of an organizational node: parentage is only expressed by ParentID.
type Node struct {
	ID             string                 `json:"id"`
	StructureID    string                 `json:"structure_id"`
	OrganizationID string                 `json:"organization_id"`
	ParentID       *string                `json:"parent_id"`
	Name           string                 `json:"name"`
	Type           string                 `json:"type"`
	ManagerID      *string                `json:"manager_id"`
	Manager        *Manager               `json:"manager"`
	Properties     map[string]interface{} `json:"properties"`
	Position       int                    `json:"position"`
	MembersCount   int                    `json:"members_count"`
	CreatedAt      time.Time              `json:"created_at"` // UTC
	UpdatedAt      time.Time              `json:"updated_at"` // UTC
}

// IsRoot reports whether the node has no declared parent.
func (n Node) IsRoot() bool {
	return n.ParentID == nil || *n.ParentID == ""
}

// TreeNode is the tree form of a Node.
type TreeNode struct {
	Node
	Children []*TreeNode `json:"children"`
}

type MemberUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Member struct {
	NodeID     string      `json:"node_id"`
	UserID     string      `json:"user_id"`
	Role       string      `json:"role"`
	AssignedAt time.Time   `json:"assigned_at"` // UTC
	User       *MemberUser `json:"user"`
}

type CourseAssignment struct {
	ID         string     `json:"id"`
	NodeID     string     `json:"node_id"`
	CourseID   string     `json:"course_id"`
	AssignedBy string     `json:"assigned_by"`
	DueDate    *time.Time `json:"due_date"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"` // UTC
	UpdatedAt  time.Time  `json:"updated_at"` // UTC
	Inherited  bool       `json:"inherited"`
}

type NodeStats struct {
	ChildrenCount    int `json:"children_count"`
	DescendantsCount int `json:"descendants_count"`
	MembersCount     int `json:"members_count"`
	CoursesAssigned  int `json:"courses_assigned"`
}

type NodeDetails struct {
	Node  Node      `json:"node"`
	Path  []Node    `json:"path"` // root -> parent
	Stats NodeStats `json:"stats"`
}

// Inputs

type NewStructure struct {
	OrganizationID string `json:"-"`
	Name           string `json:"name" validate:"required,max=100"`
	Description    string `json:"description" validate:"max=500"`
}

func (ns *NewStructure) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Description = core.CleanString(ns.Description)
	return validate.Struct(ns)
}

type UpdateStructure struct {
	Name        *string `json:"name" validate:"omitempty,notblank,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

func (us *UpdateStructure) Validate(validate *validator.Validate) error {
	cleanPtr(us.Name)
	cleanPtr(us.Description)
	return validate.Struct(us)
}

type NewNode struct {
	StructureID string                 `json:"-"`
	ParentID    *string                `json:"parent_id"`
	Name        string                 `json:"name" validate:"required,max=120"`
	Type        string                 `json:"type" validate:"omitempty,nodetype"`
	ManagerID   *string                `json:"manager_id"`
	Properties  map[string]interface{} `json:"properties"`
	Position    int                    `json:"position" validate:"min=0"`
}

func (nn *NewNode) Validate(validate *validator.Validate) error {
	nn.Name = core.CleanString(nn.Name)
	nn.Type = core.CleanString(nn.Type, true /* lower */)
	nn.ParentID = trimPtr(nn.ParentID)
	nn.ManagerID = trimPtr(nn.ManagerID)
	return validate.Struct(nn)
}

// UpdateNode only changes the provided fields. An empty ManagerID unsets the manager.
type UpdateNode struct {
	Name       *string                `json:"name" validate:"omitempty,notblank,max=120"`
	Type       *string                `json:"type" validate:"omitempty,nodetype"`
	ManagerID  *string                `json:"manager_id"`
	Properties map[string]interface{} `json:"properties"`
	Position   *int                   `json:"position" validate:"omitempty,min=0"`
}

func (un *UpdateNode) Validate(validate *validator.Validate) error {
	cleanPtr(un.Name)
	if un.Type != nil {
		*un.Type = core.CleanString(*un.Type, true /* lower */)
	}
	cleanPtr(un.ManagerID)
	return validate.Struct(un)
}

// MoveNode moves a node under ParentID, or to the roots if ParentID is nil.
type MoveNode struct {
	ParentID *string `json:"parent_id"`
	Position *int    `json:"position" validate:"omitempty,min=0"`
}

func (mn *MoveNode) Validate(validate *validator.Validate) error {
	mn.ParentID = trimPtr(mn.ParentID)
	return validate.Struct(mn)
}

type NewMember struct {
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"omitempty,oneof=leader member"`
}

func (nm *NewMember) Validate(validate *validator.Validate) error {
	nm.UserID = core.CleanString(nm.UserID)
	nm.Role = core.CleanString(nm.Role, true /* lower */)
	return validate.Struct(nm)
}

type NewCourseAssignment struct {
	CourseIDs []string   `json:"course_ids" validate:"required,min=1,dive,required"`
	DueDate   *time.Time `json:"due_date"`
}

func (nca *NewCourseAssignment) Validate(validate *validator.Validate) error {
	for i, id := range nca.CourseIDs {
		nca.CourseIDs[i] = core.CleanString(id)
	}
	return validate.Struct(nca)
}

func cleanPtr(s *string) {
	if s != nil {
		*s = core.CleanString(*s)
	}
}

// trimPtr cleans `s` and returns nil if it is blank.
func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	return core.StringPtr(core.CleanString(*s))
}
