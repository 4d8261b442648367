package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/orgpanel/apps/api/echo"
	"github.com/trezcool/orgpanel/core"
	"github.com/trezcool/orgpanel/core/hierarchy"
	"github.com/trezcool/orgpanel/core/user"
	"github.com/trezcool/orgpanel/services/email"
	"github.com/trezcool/orgpanel/services/logger"
	"github.com/trezcool/orgpanel/storage/database/inmem"
)

const testPassword = "Gr8-Forest-Walk"

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type testEnv struct {
	ctx     context.Context
	conf    *core.Config
	app     *Server
	usrSvc  *user.Service
	hSvc    *hierarchy.Service
	mailSvc *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	conf := &core.Config{
		AppName:         "OrgPanel",
		TestMode:        true,
		SecretKey:       "test-secret",
		FrontendBaseURL: "http://localhost:3000",
		Server: core.ServerConfig{
			DisableReqLogs:            true,
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 24 * time.Hour,
		},
	}
	out, _ := logtest.NewNullLogger()
	logger := logsvc.NewRollbarLogger(out, conf)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	hierarchy.InitValidators(validate, translator)

	db := inmemdb.Open()
	env := &testEnv{
		ctx:     context.Background(),
		conf:    conf,
		usrSvc:  user.NewService(inmemdb.NewUserRepository(db)),
		mailSvc: emailsvc.NewConsoleServiceMock(conf, logger),
	}
	env.hSvc = hierarchy.NewService(inmemdb.NewHierarchyRepository(db), env.usrSvc, env.mailSvc)
	env.app = NewServer(ServerDeps{
		Conf:         conf,
		Logger:       logger,
		UserSvc:      env.usrSvc,
		HierarchySvc: env.hSvc,
		Validate:     validate,
		Translator:   translator,
	})
	return env
}

func (env *testEnv) createUser(t *testing.T, orgID, uname string, roles []string, active bool) user.User {
	t.Helper()
	usr, err := env.usrSvc.Create(env.ctx, user.NewUser{
		OrganizationID: orgID,
		Name:           uname,
		Username:       uname,
		Email:          uname + "@test.cd",
		Password:       testPassword,
		Roles:          roles,
	})
	require.NoError(t, err)
	if !active {
		usr.SetActive(false)
		usr, err = env.usrSvc.Save(env.ctx, usr)
		require.NoError(t, err)
	}
	return usr
}

func (env *testEnv) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(env.conf, GetUserClaims(env.conf, usr))
	require.NoError(t, err)
	return token
}

// do sends a JSON request to the app; body may be nil.
func (env *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.app.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func checkCode(t *testing.T, rec *httptest.ResponseRecorder, wantCode int) {
	t.Helper()
	require.Equal(t, wantCode, rec.Code, rec.Body.String())
}

func TestHome(t *testing.T) {
	env := setup(t)
	rec := env.do(t, http.MethodGet, "/", "", nil)
	checkCode(t, rec, http.StatusOK)
	require.Equal(t, "Welcome to OrgPanel API!", rec.Body.String())
}
