package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/orgpanel/core"
)

// Roles
const (
	RoleOwner           = "owner"
	RoleAdmin           = "admin"
	RoleRegionalManager = "regional_manager"
	RoleZoneManager     = "zone_manager"
	RoleTeamLeader      = "team_leader"
	RoleMember          = "member"
)

var (
	AdminRoles   = []string{RoleOwner, RoleAdmin}
	ManagerRoles = []string{RoleRegionalManager, RoleZoneManager, RoleTeamLeader}
	AllRoles     = getAllRoles()

	rolePriorities = map[string]int{
		RoleOwner:           60,
		RoleAdmin:           50,
		RoleRegionalManager: 40,
		RoleZoneManager:     30,
		RoleTeamLeader:      20,
		RoleMember:          10,
	}

	Roles = []Role{
		{Name: "Member", Value: RoleMember},
		{Name: "Team Leader", Value: RoleTeamLeader},
		{Name: "Zone Manager", Value: RoleZoneManager},
		{Name: "Regional Manager", Value: RoleRegionalManager},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Owner", Value: RoleOwner},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, len(rolePriorities))
	all = append(all, AdminRoles...)
	all = append(all, ManagerRoles...)
	all = append(all, RoleMember)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	IsActive       *bool     `json:"is_active"`
	Roles          []string  `json:"roles"`
	PasswordHash   []byte    `json:"-"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
	LastLogin      time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) SetActive(active bool) {
	u.IsActive = &active
}

// Active reports whether the account is usable; nil means active.
func (u User) Active() bool {
	return u.IsActive == nil || *u.IsActive
}

func (u *User) HasRole(roles ...string) bool {
	for _, role := range u.Roles {
		if core.ContainsString(roles, role) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool {
	return u.HasRole(AdminRoles...)
}

func (u *User) IsManager() bool {
	return u.HasRole(ManagerRoles...)
}

// DisplayName falls back to username then email.
func (u User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return u.Username
	}
	return u.Email
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	OrganizationID  string   `json:"-"`
	Name            string   `json:"name" validate:"required"`
	Username        string   `json:"username" validate:"omitempty,min=4,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

type QueryFilter struct {
	OrganizationID string   `query:"-"`
	Search         string   `query:"search"`
	Roles          []string `query:"role"`
	IsActive       *bool    `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// Matches applies the filter in memory: AND over set fields, Search is a case-insensitive
// match on one of Name, Username or Email.
func (qf QueryFilter) Matches(usr User) bool {
	if qf.OrganizationID != "" && usr.OrganizationID != qf.OrganizationID {
		return false
	}
	if qf.Search != "" {
		s := strings.ToLower(qf.Search)
		if !(strings.Contains(strings.ToLower(usr.Name), s) ||
			strings.Contains(strings.ToLower(usr.Username), s) ||
			strings.Contains(strings.ToLower(usr.Email), s)) {
			return false
		}
	}
	if len(qf.Roles) > 0 && !usr.HasRole(qf.Roles...) {
		return false
	}
	if qf.IsActive != nil && usr.Active() != *qf.IsActive {
		return false
	}
	return true
}

type GetFilter struct {
	ID              string
	UsernameOrEmail string
}
