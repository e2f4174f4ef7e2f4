package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brbxai/recommand-peppol-sub001/internal/config"
	"github.com/brbxai/recommand-peppol-sub001/internal/metrics"
	"github.com/brbxai/recommand-peppol-sub001/internal/registration"
	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
	"github.com/brbxai/recommand-peppol-sub001/internal/storage/sqlite"
	"github.com/brbxai/recommand-peppol-sub001/internal/team"
	"github.com/brbxai/recommand-peppol-sub001/pkg/discovery"
	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
	"github.com/brbxai/recommand-peppol-sub001/pkg/smp"
)

const adminKey = "test-admin-key"

// memorySMP serves what was PUT to it back on GET, like a real registry
type memorySMP struct {
	mu      sync.Mutex
	records map[string][]byte
}

func (m *memorySMP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		m.records[r.URL.Path] = body
	case http.MethodGet:
		record, ok := m.records[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(record)
	case http.MethodDelete:
		if _, ok := m.records[r.URL.Path]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(m.records, r.URL.Path)
	}
}

// smpLookup points every participant at the same registry
type smpLookup struct {
	target string
}

func (l smpLookup) LookupNAPTR(context.Context, string) ([]*dns.NAPTR, error) {
	return []*dns.NAPTR{{
		Order:       1,
		Preference:  1,
		Flags:       "U",
		Service:     discovery.ServiceTypeSMP,
		Regexp:      "!^.*$!" + l.target + "!",
		Replacement: ".",
	}}, nil
}

func testCertificate(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "POP000007", Organization: []string{"Example AP"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

type testEnv struct {
	handler http.Handler
	store   *sqlite.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	registry := httptest.NewServer(&memorySMP{records: map[string][]byte{}})
	t.Cleanup(registry.Close)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	endpoint := smp.Endpoint{
		URL:                 "https://ap.example.com/as4",
		Certificate:         testCertificate(t),
		ServiceDescription:  "Example access point",
		TechnicalContactURL: "mailto:peppol@example.com",
	}
	writer := smp.NewWriter(smp.WriterConfig{BaseURL: registry.URL, Token: "token", Observer: m})
	publisher := smp.NewPublisher(writer, endpoint)
	teams := team.NewService(store, publisher, publisher, &team.Config{})

	cfg := &config.Config{}
	cfg.Server.AdminKey = adminKey
	cfg.Metrics.Metrics.Enabled = true
	cfg.Metrics.Metrics.Path = "/metrics"

	srv := New(cfg, Services{
		Store:        store,
		Teams:        teams,
		Registration: registration.NewService(store, teams, &registration.Config{Observer: m}),
		Discovery: discovery.NewClient(discovery.ClientConfig{
			Resolver: discovery.NewSMLResolver(discovery.SMLResolverConfig{Lookup: smpLookup{target: registry.URL}}),
			Reader:   discovery.NewReader(discovery.ReaderConfig{HTTPClient: registry.Client()}),
			Observer: m,
		}),
		Gatherer: reg,
	}, nil)

	return &testEnv{handler: srv.Handler(), store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Admin-Key", adminKey)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminKeyRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/peppol/0208:0659689080/smp-url", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublishThenDiscover(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/teams", CreateTeamRequest{Name: "production"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tm := decode[storage.Team](t, rec)

	rec = env.do(t, http.MethodPost, "/api/companies", registration.CompanyInput{
		TeamID:           tm.ID,
		Name:             "Acme NV",
		City:             "Gent",
		Country:          "BE",
		EnterpriseNumber: "0659689080",
		IsSMPRecipient:   true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	company := decode[storage.Company](t, rec)

	rec = env.do(t, http.MethodGet, "/api/peppol/0208:0659689080", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	recipient := decode[discovery.Recipient](t, rec)
	assert.Equal(t, "0208:0659689080", recipient.Address)

	rec = env.do(t, http.MethodGet, "/api/peppol/0208:0659689080/documents/"+url.PathEscape(identifier.DocTypeInvoice), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	support := decode[discovery.DocumentSupport](t, rec)
	assert.Equal(t, "https://ap.example.com/as4", support.Endpoint)
	assert.Equal(t, []string{identifier.ProcessBilling}, support.Processes)
	require.NotNil(t, support.ServiceProvider)
	assert.Equal(t, "Example AP", *support.ServiceProvider)

	rec = env.do(t, http.MethodGet, "/api/peppol/0208:0659689080/business-card", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	card := decode[discovery.BusinessCard](t, rec)
	require.Len(t, card.Entities, 1)
	assert.Equal(t, "Acme NV", card.Entities[0].Name)

	rec = env.do(t, http.MethodDelete, "/api/companies/"+company.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/peppol/0208:0659689080", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/peppol/0208:0659689080/business-card", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	metricsRec := httptest.NewRecorder()
	env.handler.ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "peppol_registration_operations_total")
	assert.Contains(t, metricsRec.Body.String(), "peppol_smp_registry_calls_total")
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/teams", CreateTeamRequest{Name: "production"})
	require.Equal(t, http.StatusCreated, rec.Code)
	tm := decode[storage.Team](t, rec)

	input := registration.CompanyInput{TeamID: tm.ID, Name: "Acme NV", Country: "BE", EnterpriseNumber: "0659689080"}
	rec = env.do(t, http.MethodPost, "/api/companies", input)
	require.Equal(t, http.StatusCreated, rec.Code)
	company := decode[storage.Company](t, rec)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{name: "conflict", method: http.MethodPost, path: "/api/companies", body: input, status: http.StatusConflict},
		{name: "invalid identifier", method: http.MethodPost, path: "/api/companies/" + company.ID + "/identifiers",
			body: IdentifierRequest{Scheme: "x", Value: "1"}, status: http.StatusBadRequest},
		{name: "missing company", method: http.MethodGet, path: "/api/companies/missing", status: http.StatusNotFound},
		{name: "invalid body", method: http.MethodPost, path: "/api/companies", body: "not an object", status: http.StatusBadRequest},
		{name: "invalid address", method: http.MethodGet, path: "/api/peppol/nonsense/smp-url", status: http.StatusBadRequest},
		{name: "foreign identifier", method: http.MethodDelete, path: "/api/companies/other/identifiers/missing", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec = env.do(t, http.MethodPost, "/api/companies/"+company.ID+"/document-types",
		DocumentTypeRequest{DocTypeID: identifier.DocTypeInvoice, ProcessID: identifier.ProcessBilling})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/api/companies/"+company.ID+"/document-types",
		DocumentTypeRequest{DocTypeID: identifier.DocTypeInvoice, ProcessID: identifier.ProcessBilling})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/companies/"+company.ID+"/document-types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]storage.DocumentType](t, rec)
	assert.Len(t, list["documentTypes"], 1)
}

func TestResolveSMPURL(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/peppol/0208:0659689080/smp-url?testNetwork=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]string](t, rec)
	assert.Contains(t, body["smpUrl"], "/iso6523-actorid-upis::0208%3A0659689080")
}
