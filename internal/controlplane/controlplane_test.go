package controlplane

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/internal/config"
	"github.com/relaymesh/relaymesh/internal/endpoint"
	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/internal/rerrors"
	"github.com/relaymesh/relaymesh/internal/ruleregistry"
)

func newTestServer(t *testing.T, token string, activate RuleActivator) *Server {
	t.Helper()
	if activate == nil {
		activate = func(config.EndpointConf) error { return nil }
	}
	s := &Server{
		Metrics:   metrics.NewRegistry(),
		Rules:     ruleregistry.New(),
		AuthToken: token,
		Activate:  activate,
	}
	return NewServer(s)
}

func doRequest(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAuthOpenWhenNoTokenConfigured(t *testing.T) {
	s := newTestServer(t, "", nil)
	rec := doRequest(s, "GET", "/rules/tcp", "", "")
	assert.Equal(t, 200, rec.Code)
}

func TestAuthRejectsMissingOrWrongToken(t *testing.T) {
	s := newTestServer(t, "secret", nil)

	rec := doRequest(s, "GET", "/rules/tcp", "", "")
	assert.Equal(t, 401, rec.Code)
	assert.Equal(t, `Bearer realm="Realm API"`, rec.Header().Get("WWW-Authenticate"))

	rec = doRequest(s, "GET", "/rules/tcp", "wrong", "")
	assert.Equal(t, 401, rec.Code)
}

func TestAuthAcceptsMatchingToken(t *testing.T) {
	s := newTestServer(t, "secret", nil)
	rec := doRequest(s, "GET", "/rules/tcp", "secret", "")
	assert.Equal(t, 200, rec.Code)
}

func TestTCPStatsNotFound(t *testing.T) {
	s := newTestServer(t, "", nil)
	rec := doRequest(s, "GET", "/rules/tcp/missing/stats", "", "")
	assert.Equal(t, 404, rec.Code)
}

func TestTCPStatsReturnsSnapshot(t *testing.T) {
	s := newTestServer(t, "", nil)
	cm := metrics.NewConnectionMetrics()
	cm.AddTx(100)
	s.Metrics.RegisterTCP("conn-1", cm)

	rec := doRequest(s, "GET", "/rules/tcp/conn-1/stats", "", "")
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tx_bytes":100`)
}

func TestUDPStatsMalformedAddress(t *testing.T) {
	s := newTestServer(t, "", nil)
	rec := doRequest(s, "GET", "/rules/udp/not-an-address/stats", "", "")
	assert.Equal(t, 400, rec.Code)
}

func TestUDPStatsNotFound(t *testing.T) {
	s := newTestServer(t, "", nil)
	rec := doRequest(s, "GET", "/rules/udp/10.0.0.1:1234/stats", "", "")
	assert.Equal(t, 404, rec.Code)
}

func TestCreateRuleSuccess(t *testing.T) {
	activated := false
	s := newTestServer(t, "", func(ec config.EndpointConf) error {
		activated = true
		return nil
	})

	body := `{"endpoint":{"listen":"127.0.0.1:8000","remote":"127.0.0.1:9000"}}`
	rec := doRequest(s, "POST", "/rules", "", body)
	assert.Equal(t, 201, rec.Code)
	assert.True(t, activated)
}

func TestCreateRuleDuplicate(t *testing.T) {
	s := newTestServer(t, "", nil)
	require.NoError(t, s.Rules.Add(&endpoint.Info{Endpoint: &endpoint.Endpoint{LocalAddr: "127.0.0.1:8000"}}, func() {}))

	body := `{"endpoint":{"listen":"127.0.0.1:8000","remote":"127.0.0.1:9000"}}`
	rec := doRequest(s, "POST", "/rules", "", body)
	assert.Equal(t, 409, rec.Code)
}

func TestCreateRuleActivationFailureMapsKind(t *testing.T) {
	s := newTestServer(t, "", func(config.EndpointConf) error {
		return rerrors.New("bad config").WithKind(rerrors.KindInvalidConfig)
	})

	body := `{"endpoint":{"listen":"127.0.0.1:8000","remote":"127.0.0.1:9000"}}`
	rec := doRequest(s, "POST", "/rules", "", body)
	assert.Equal(t, 400, rec.Code)
}

func TestDeleteRule(t *testing.T) {
	s := newTestServer(t, "", nil)
	cancelled := false
	require.NoError(t, s.Rules.Add(&endpoint.Info{Endpoint: &endpoint.Endpoint{LocalAddr: "127.0.0.1:8000"}}, func() { cancelled = true }))

	rec := doRequest(s, "DELETE", "/rules/127.0.0.1:8000", "", "")
	assert.Equal(t, 200, rec.Code)
	assert.True(t, cancelled)

	rec = doRequest(s, "DELETE", "/rules/127.0.0.1:8000", "", "")
	assert.Equal(t, 404, rec.Code)
}
