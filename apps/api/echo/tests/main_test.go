package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	. "github.com/edupay/feeledger/apps/api/echo"
	"github.com/edupay/feeledger/core"
	"github.com/edupay/feeledger/core/fee"
	"github.com/edupay/feeledger/core/operation"
	"github.com/edupay/feeledger/core/reconcile"
	"github.com/edupay/feeledger/services/email"
	"github.com/edupay/feeledger/services/locker"
	"github.com/edupay/feeledger/tests"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

type app struct {
	conf   *core.Config
	store  *testutil.Store
	locker *lockersvc.KeyedMutex
	server *Server
	token  string
}

func setup(t *testing.T) *app {
	conf := core.NewTestConfig()
	logger := testutil.NewLogger(conf)
	store := testutil.NewStore(t)
	locker := lockersvc.NewKeyedMutex()
	metrics := core.NopMetrics{}

	tracker := operation.NewTracker(store.Operations, logger, metrics, emailsvc.NewConsoleServiceMock(conf), conf)
	runner := operation.NewRunner(tracker, conf)
	runner.Start()
	t.Cleanup(func() { _ = runner.Shutdown(context.Background()) })

	engine := reconcile.NewEngine(reconcile.EngineDeps{
		Conf:    conf,
		Dir:     store.Dir,
		Fees:    store.Fees,
		Tracker: tracker,
		Runner:  runner,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
	})

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)

	server := NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		DisableReqLogs: true,
		StructureSvc:   fee.NewStructureService(store.Fees, store.Dir, locker, metrics, conf),
		LedgerSvc:      fee.NewLedgerService(store.Fees, store.Dir, locker, metrics, conf),
		Engine:         engine,
		Tracker:        tracker,
		Reporter:       reconcile.NewReporter(store.Dir, store.Fees, metrics, conf),
		Validate:       validate,
		Translator:     translator,
	})

	return &app{
		conf:   conf,
		store:  store,
		locker: locker,
		server: server,
		token:  getToken(t, conf, RoleAdmin),
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func (a *app) do(method, path string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, a.token, data...)
	a.server.ServeHTTP(rec, req)
	return rec
}

func getToken(t *testing.T, conf *core.Config, roles ...string) string {
	actor := core.Actor{ID: "adm-1", Username: "bursar", Email: "bursar@school.test"}
	token, err := GenerateToken(NewClaims(actor, roles, conf), conf)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, a *app, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			a.server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
