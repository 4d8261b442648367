package user

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/orgpanel/core"
)

func newValidator() *validator.Validate {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)
	return validate
}

func TestPasswordPolicyViolation(t *testing.T) {
	SetCommonPasswords([]string{"p@ssw0rd!x"})
	defer SetCommonPasswords(nil)

	tests := []struct {
		name string
		pwd  string
		want string
	}{
		{name: "too short", pwd: "Ab1!", want: pwdMinLenTag},
		{name: "whitespace", pwd: "Abcd 123!", want: pwdNoSpaceTag},
		{name: "all numeric", pwd: "1234567890", want: pwdNotAllNumTag},
		{name: "no upper", pwd: "abcdef12!", want: pwdComplexityTag},
		{name: "no special", pwd: "Abcdef123", want: pwdComplexityTag},
		{name: "similar to username", pwd: "Kabila01!", want: pwdAttrSimTag},
		{name: "common", pwd: "P@ssw0rd!X", want: pwdNoCommonTag},
		{name: "ok", pwd: "Gr8-Forest-Walk", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PasswordPolicyViolation(tt.pwd, "Joseph", "kabila01", "jk@test.cd"))
		})
	}
}

func TestNewUser_validation(t *testing.T) {
	validate := newValidator()

	tests := []struct {
		name       string
		nu         NewUser
		wantFields []string
	}{
		{
			name: "valid",
			nu:   NewUser{Name: "Joseph", Username: "joseph", Password: "Gr8-Forest-Walk", PasswordConfirm: "Gr8-Forest-Walk", Roles: []string{RoleTeamLeader}},
		},
		{
			name:       "username or email required",
			nu:         NewUser{Name: "Joseph", Password: "Gr8-Forest-Walk", PasswordConfirm: "Gr8-Forest-Walk"},
			wantFields: []string{"username", "email"},
		},
		{
			name:       "unknown role",
			nu:         NewUser{Name: "Joseph", Email: "j@test.cd", Password: "Gr8-Forest-Walk", PasswordConfirm: "Gr8-Forest-Walk", Roles: []string{"king"}},
			wantFields: []string{"roles"},
		},
		{
			name:       "passwords mismatch",
			nu:         NewUser{Name: "Joseph", Email: "j@test.cd", Password: "Gr8-Forest-Walk", PasswordConfirm: "Gr8-Forest-Run"},
			wantFields: []string{"password_confirm"},
		},
		{
			name:       "weak password",
			nu:         NewUser{Name: "Joseph", Email: "j@test.cd", Password: "weak", PasswordConfirm: "weak"},
			wantFields: []string{"password"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.nu)
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			verrs, ok := err.(validator.ValidationErrors)
			require.True(t, ok)
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			assert.ElementsMatch(t, tt.wantFields, fields)
		})
	}
}

func TestMaxRolePriority(t *testing.T) {
	assert.Equal(t, 0, MaxRolePriority(nil))
	assert.Equal(t, RolePriority(RoleZoneManager), MaxRolePriority([]string{RoleMember, RoleZoneManager}))
	assert.Equal(t, RolePriority(RoleOwner), MaxRolePriority([]string{RoleOwner, RoleAdmin}))
}
