package registration

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brbxai/recommand-peppol-sub001/internal/alert"
	"github.com/brbxai/recommand-peppol-sub001/internal/storage"
	"github.com/brbxai/recommand-peppol-sub001/internal/storage/sqlite"
	"github.com/brbxai/recommand-peppol-sub001/internal/team"
	"github.com/brbxai/recommand-peppol-sub001/pkg/identifier"
	"github.com/brbxai/recommand-peppol-sub001/pkg/smp"
)

type registryCall struct {
	Method string
	Path   string
}

// fakeRegistry keeps the set of published paths
type fakeRegistry struct {
	mu      sync.Mutex
	calls   []registryCall
	records map[string]bool
	fail    map[string]int
}

func newFakeRegistry(t *testing.T) (*fakeRegistry, string) {
	t.Helper()
	reg := &fakeRegistry{records: map[string]bool{}, fail: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(reg.serve))
	t.Cleanup(srv.Close)
	return reg, srv.URL
}

func (f *fakeRegistry) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, registryCall{Method: r.Method, Path: path})

	if status, ok := f.fail[r.Method+" "+path]; ok {
		http.Error(w, "rejected by registry", status)
		return
	}
	switch r.Method {
	case http.MethodPut:
		f.records[path] = true
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if !f.records[path] {
			http.NotFound(w, r)
			return
		}
		delete(f.records, path)
		// a service group takes its metadata records with it
		for record := range f.records {
			if strings.HasPrefix(record, path+"/services/") {
				delete(f.records, record)
			}
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeRegistry) failOn(method, path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method+" "+path] = status
}

func (f *fakeRegistry) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeRegistry) recorded() []registryCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]registryCall(nil), f.calls...)
}

func (f *fakeRegistry) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[path]
}

func (f *fakeRegistry) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (s *recordingSink) Alert(_ context.Context, a alert.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *recordingSink) all() []alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alert.Alert(nil), s.alerts...)
}

type recordingObserver struct {
	mu                   sync.Mutex
	operations           map[string]int
	compensations        int
	compensationFailures int
}

func (o *recordingObserver) ObserveOperation(operation string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.operations == nil {
		o.operations = map[string]int{}
	}
	o.operations[operation]++
}

func (o *recordingObserver) ObserveCompensation(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.compensations++
	if err != nil {
		o.compensationFailures++
	}
}

type harness struct {
	store    *sqlite.Store
	prod     *fakeRegistry
	test     *fakeRegistry
	teams    *team.Service
	svc      *Service
	alerts   *recordingSink
	observer *recordingObserver
}

func testCertificate(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "POP000001"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	endpoint := smp.Endpoint{URL: "https://ap.example.com/as4", Certificate: testCertificate(t)}
	prod, prodURL := newFakeRegistry(t)
	test, testURL := newFakeRegistry(t)
	teams := team.NewService(store,
		smp.NewPublisher(smp.NewWriter(smp.WriterConfig{BaseURL: prodURL, Token: "prod"}), endpoint),
		smp.NewPublisher(smp.NewWriter(smp.WriterConfig{BaseURL: testURL, Token: "test"}), endpoint),
		&team.Config{},
	)

	h := &harness{
		store:    store,
		prod:     prod,
		test:     test,
		teams:    teams,
		alerts:   &recordingSink{},
		observer: &recordingObserver{},
	}
	h.svc = NewService(store, teams, &Config{Alerts: h.alerts, Observer: h.observer})
	return h
}

func (h *harness) newTeam(t *testing.T, team storage.Team) *storage.Team {
	t.Helper()
	require.NoError(t, h.store.CreateTeam(context.Background(), &team))
	return &team
}

func (h *harness) identifiers(t *testing.T, companyID string) map[string]*storage.Identifier {
	t.Helper()
	rows, err := h.store.ListIdentifiers(context.Background(), companyID)
	require.NoError(t, err)
	out := map[string]*storage.Identifier{}
	for _, row := range rows {
		out[row.Scheme+":"+row.Value] = row
	}
	return out
}

func participant(t *testing.T, address string) identifier.ParticipantID {
	t.Helper()
	p, err := identifier.ParseAddress(address)
	require.NoError(t, err)
	return p
}

func acme(teamID string) CompanyInput {
	return CompanyInput{
		TeamID:           teamID,
		Name:             "Acme NV",
		Address:          "Kerkstraat 1",
		PostalCode:       "9000",
		City:             "Gent",
		Country:          "be",
		EnterpriseNumber: "0659.689.080",
		VATNumber:        "BE0659689080",
		IsSMPRecipient:   true,
	}
}

func TestPublishOneCapabilityWritesSixRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	in := acme(tm.ID)
	in.IsSMPRecipient = false
	company, err := h.svc.CreateCompany(ctx, in)
	require.NoError(t, err)
	_, err = h.svc.AddDocumentType(ctx, company.ID, identifier.DocTypeInvoice, identifier.ProcessBilling)
	require.NoError(t, err)
	assert.Empty(t, h.prod.recorded())

	in.IsSMPRecipient = true
	_, err = h.svc.UpdateCompany(ctx, company.ID, in)
	require.NoError(t, err)

	calls := h.prod.recorded()
	require.Len(t, calls, 6)
	for _, address := range []string{"0208:0659689080", "9925:be0659689080"} {
		p := participant(t, address)
		var got []registryCall
		for _, c := range calls {
			if strings.Contains(c.Path, p.URN()) {
				got = append(got, c)
			}
		}
		assert.Equal(t, []registryCall{
			{Method: http.MethodPut, Path: smp.ParticipantPath(p)},
			{Method: http.MethodPut, Path: smp.MetadataPath(p, identifier.DocTypeInvoice)},
			{Method: http.MethodPut, Path: smp.BusinessCardPath(p)},
		}, got, address)
	}
	assert.Empty(t, h.test.recorded())

	for _, row := range h.identifiers(t, company.ID) {
		assert.Equal(t, "production", row.RegisteredNetwork)
	}
}

func TestCreateCompanyPublishesDefaultCapabilities(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	company, err := h.svc.CreateCompany(ctx, acme(tm.ID))
	require.NoError(t, err)

	defaults := groupCapabilities(identifier.DefaultCapabilities())
	perIdentifier := 2 + len(defaults)
	assert.Len(t, h.prod.recorded(), 2*perIdentifier)
	assert.Equal(t, 2*perIdentifier, h.prod.size())

	rows := h.identifiers(t, company.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, storage.SourceEnterpriseNumber, rows["0208:0659689080"].Source)
	assert.Equal(t, storage.SourceVATNumber, rows["9925:be0659689080"].Source)
	assert.Equal(t, "production", rows["0208:0659689080"].ScopeKey)
	assert.Equal(t, 1, h.observer.operations["create_company"])
}

func TestCreateCompanyRollsBackOnRegistryFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	vat := participant(t, "9925:be0659689080")
	h.prod.failOn(http.MethodPut, smp.BusinessCardPath(vat), http.StatusInternalServerError)

	_, err := h.svc.CreateCompany(ctx, acme(tm.ID))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistrationFailed)
	var regErr *smp.RegistryError
	require.True(t, errors.As(err, &regErr))
	assert.Equal(t, http.StatusInternalServerError, regErr.StatusCode)
	assert.Contains(t, regErr.Body, "rejected by registry")

	companies, err := h.store.ListCompanies(ctx, tm.ID)
	require.NoError(t, err)
	assert.Empty(t, companies)
	owners, err := h.store.FindIdentifierOwners(ctx, "0208", "0659689080")
	require.NoError(t, err)
	assert.Empty(t, owners)

	assert.Zero(t, h.prod.size(), "published records are removed again")
	assert.Empty(t, h.alerts.all())
	assert.Zero(t, h.observer.compensationFailures)
}

func TestCompensationFailureIsAlerted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	enterprise := participant(t, "0208:0659689080")
	h.prod.failOn(http.MethodPut, smp.BusinessCardPath(enterprise), http.StatusBadGateway)
	h.prod.failOn(http.MethodDelete, smp.ParticipantPath(enterprise), http.StatusInternalServerError)

	_, err := h.svc.CreateCompany(ctx, acme(tm.ID))
	require.ErrorIs(t, err, ErrRegistrationFailed)

	alerts := h.alerts.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "create_company", alerts[0].Fields["operation"])
	assert.False(t, alerts[0].Time.IsZero())
	assert.Equal(t, 1, h.observer.compensationFailures)

	// the company row is still removed
	companies, err := h.store.ListCompanies(ctx, tm.ID)
	require.NoError(t, err)
	assert.Empty(t, companies)
}

func TestConflictRejectedBeforeRemoteCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.newTeam(t, storage.Team{Name: "first"})
	second := h.newTeam(t, storage.Team{Name: "second"})

	_, err := h.svc.CreateCompany(ctx, acme(first.ID))
	require.NoError(t, err)
	h.prod.reset()

	in := acme(second.ID)
	in.VATNumber = ""
	_, err = h.svc.CreateCompany(ctx, in)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, h.prod.recorded())

	companies, err := h.store.ListCompanies(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, companies)
}

func TestPlaygroundConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sandboxA := h.newTeam(t, storage.Team{Name: "sandbox a", IsPlayground: true})
	sandboxB := h.newTeam(t, storage.Team{Name: "sandbox b", IsPlayground: true})
	testnetA := h.newTeam(t, storage.Team{Name: "testnet a", IsPlayground: true, UseTestNetwork: true})
	testnetB := h.newTeam(t, storage.Team{Name: "testnet b", IsPlayground: true, UseTestNetwork: true})

	_, err := h.svc.CreateCompany(ctx, acme(sandboxA.ID))
	require.NoError(t, err)
	_, err = h.svc.CreateCompany(ctx, acme(sandboxB.ID))
	require.NoError(t, err, "playgrounds without the test network reuse identifiers freely")
	_, err = h.svc.CreateCompany(ctx, acme(sandboxA.ID))
	assert.ErrorIs(t, err, ErrConflict, "identifiers are unique within a playground")

	assert.Empty(t, h.prod.recorded(), "playgrounds without the test network are not published")
	assert.Empty(t, h.test.recorded())

	_, err = h.svc.CreateCompany(ctx, acme(testnetA.ID))
	require.NoError(t, err)
	assert.NotEmpty(t, h.test.recorded())
	h.test.reset()

	_, err = h.svc.CreateCompany(ctx, acme(testnetB.ID))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, h.test.recorded())

	production := h.newTeam(t, storage.Team{Name: "production"})
	_, err = h.svc.CreateCompany(ctx, acme(production.ID))
	require.NoError(t, err, "playground identifiers never block production")
}

func TestTestNetworkCompanyIsPublishedOnTestRegistry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "testnet", IsPlayground: true, UseTestNetwork: true})

	company, err := h.svc.CreateCompany(ctx, acme(tm.ID))
	require.NoError(t, err)
	assert.Empty(t, h.prod.recorded())
	assert.True(t, h.test.has(smp.ParticipantPath(participant(t, "0208:0659689080"))))

	for _, row := range h.identifiers(t, company.ID) {
		assert.Equal(t, "test", row.RegisteredNetwork)
		assert.Equal(t, "testnet", row.ScopeKey)
	}
}

func TestSkipSMPRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "skipped", SkipSMPRegistration: true})

	company, err := h.svc.CreateCompany(ctx, acme(tm.ID))
	require.NoError(t, err)
	_, err = h.svc.AddDocumentType(ctx, company.ID, identifier.DocTypeOrder, identifier.ProcessOrdering)
	require.NoError(t, err)
	require.NoError(t, h.svc.SyncCompany(ctx, company.ID))

	assert.Empty(t, h.prod.recorded())
	assert.Empty(t, h.test.recorded())
	for _, row := range h.identifiers(t, company.ID) {
		assert.Empty(t, row.RegisteredNetwork)
	}
}

func TestUpdateVATUnregistersOldBeforeRegisteringNew(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	in := acme(tm.ID)
	in.EnterpriseNumber = ""
	in.VATNumber = "BE0111222333"
	company, err := h.svc.CreateCompany(ctx, in)
	require.NoError(t, err)
	h.prod.reset()

	in.VATNumber = "BE0444555666"
	_, err = h.svc.UpdateCompany(ctx, company.ID, in)
	require.NoError(t, err)

	oldVAT := participant(t, "9925:be0111222333")
	newVAT := participant(t, "9925:be0444555666")
	calls := h.prod.recorded()
	lastOldDelete, firstNewPut := -1, -1
	for i, c := range calls {
		if c.Method == http.MethodDelete && strings.Contains(c.Path, oldVAT.URN()) {
			lastOldDelete = i
		}
		if c.Method == http.MethodPut && strings.Contains(c.Path, newVAT.URN()) && firstNewPut < 0 {
			firstNewPut = i
		}
	}
	require.GreaterOrEqual(t, lastOldDelete, 0, "old identifier is unregistered")
	require.GreaterOrEqual(t, firstNewPut, 0, "new identifier is registered")
	assert.Less(t, lastOldDelete, firstNewPut)

	assert.False(t, h.prod.has(smp.ParticipantPath(oldVAT)))
	assert.False(t, h.prod.has(smp.BusinessCardPath(oldVAT)))
	assert.True(t, h.prod.has(smp.ParticipantPath(newVAT)))

	rows := h.identifiers(t, company.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, "production", rows[newVAT.Address()].RegisteredNetwork)
}

func TestUpdateCompanyNotRecipientUnpublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	in := acme(tm.ID)
	company, err := h.svc.CreateCompany(ctx, in)
	require.NoError(t, err)
	h.prod.reset()

	in.IsSMPRecipient = false
	_, err = h.svc.UpdateCompany(ctx, company.ID, in)
	require.NoError(t, err)

	for _, address := range []string{"0208:0659689080", "9925:be0659689080"} {
		p := participant(t, address)
		assert.False(t, h.prod.has(smp.ParticipantPath(p)))
		assert.False(t, h.prod.has(smp.BusinessCardPath(p)))
	}
	for _, c := range h.prod.recorded() {
		assert.Equal(t, http.MethodDelete, c.Method)
	}
	for _, row := range h.identifiers(t, company.ID) {
		assert.Empty(t, row.RegisteredNetwork)
	}
}

func TestDeleteCompanyToleratesMissingRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	company, err := h.svc.CreateCompany(ctx, acme(tm.ID))
	require.NoError(t, err)

	// the registry lost one business card
	enterprise := participant(t, "0208:0659689080")
	h.prod.failOn(http.MethodDelete, smp.BusinessCardPath(enterprise), http.StatusNotFound)

	require.NoError(t, h.svc.DeleteCompany(ctx, company.ID))
	_, err = h.store.GetCompany(ctx, company.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, h.prod.has(smp.ParticipantPath(enterprise)))
}

func TestNetworkMismatchIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	company, err := h.svc.CreateCompany(ctx, acme(tm.ID))
	require.NoError(t, err)

	tm.IsPlayground = true
	tm.UseTestNetwork = true
	require.NoError(t, h.teams.UpdateTeam(ctx, tm))
	h.prod.reset()

	assert.ErrorIs(t, h.svc.SyncCompany(ctx, company.ID), ErrNetworkMismatch)
	_, err = h.svc.AddDocumentType(ctx, company.ID, identifier.DocTypeOrder, identifier.ProcessOrdering)
	assert.ErrorIs(t, err, ErrNetworkMismatch)
	assert.Empty(t, h.test.recorded())

	// cleanup follows the network the records are on
	require.NoError(t, h.svc.DeleteCompany(ctx, company.ID))
	assert.Zero(t, h.prod.size())
	assert.Empty(t, h.test.recorded())
}

func TestIdentifierLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	in := acme(tm.ID)
	in.VATNumber = ""
	company, err := h.svc.CreateCompany(ctx, in)
	require.NoError(t, err)

	row, err := h.svc.AddIdentifier(ctx, company.ID, "0088", "5790000435975")
	require.NoError(t, err)
	assert.Equal(t, storage.SourceCustom, row.Source)
	gln := participant(t, "0088:5790000435975")
	assert.True(t, h.prod.has(smp.ParticipantPath(gln)))

	h.prod.reset()
	same, err := h.svc.UpdateIdentifier(ctx, row.ID, " 0088 ", "5790-0004-35975")
	require.NoError(t, err)
	assert.Equal(t, row.ID, same.ID)
	assert.Empty(t, h.prod.recorded(), "unchanged identifier makes no remote calls")

	updated, err := h.svc.UpdateIdentifier(ctx, row.ID, "0088", "5790000435982")
	require.NoError(t, err)
	assert.Equal(t, "5790000435982", updated.Value)
	assert.False(t, h.prod.has(smp.ParticipantPath(gln)))
	assert.True(t, h.prod.has(smp.ParticipantPath(participant(t, "0088:5790000435982"))))

	require.NoError(t, h.svc.RemoveIdentifier(ctx, row.ID))
	assert.False(t, h.prod.has(smp.ParticipantPath(participant(t, "0088:5790000435982"))))
	_, err = h.store.GetIdentifier(ctx, row.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	derived := h.identifiers(t, company.ID)["0208:0659689080"]
	require.NotNil(t, derived)
	assert.ErrorIs(t, h.svc.RemoveIdentifier(ctx, derived.ID), ErrInvalidInput)

	_, err = h.svc.AddIdentifier(ctx, company.ID, "0088", "...")
	assert.ErrorIs(t, err, identifier.ErrInvalidIdentifier)
}

func TestDuplicateCapabilityRejectedBeforeRemoteCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	company, err := h.svc.CreateCompany(ctx, acme(tm.ID))
	require.NoError(t, err)
	_, err = h.svc.AddDocumentType(ctx, company.ID, identifier.DocTypeInvoice, identifier.ProcessBilling)
	require.NoError(t, err)
	h.prod.reset()

	_, err = h.svc.AddDocumentType(ctx, company.ID, " "+identifier.DocTypeInvoice, identifier.ProcessBilling+" ")
	assert.ErrorIs(t, err, ErrDuplicateCapability)
	assert.Empty(t, h.prod.recorded())
}

func TestDocumentTypeChangesRepublishMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	in := acme(tm.ID)
	in.VATNumber = ""
	company, err := h.svc.CreateCompany(ctx, in)
	require.NoError(t, err)
	p := participant(t, "0208:0659689080")
	require.True(t, h.prod.has(smp.MetadataPath(p, identifier.DocTypeMLR)))

	// the first declared capability replaces the defaults
	invoice, err := h.svc.AddDocumentType(ctx, company.ID, identifier.DocTypeInvoice, identifier.ProcessBilling)
	require.NoError(t, err)
	assert.True(t, h.prod.has(smp.MetadataPath(p, identifier.DocTypeInvoice)))
	assert.False(t, h.prod.has(smp.MetadataPath(p, identifier.DocTypeMLR)))

	h.prod.reset()
	_, err = h.svc.UpdateDocumentType(ctx, invoice.ID, identifier.DocTypeOrder, identifier.ProcessOrdering)
	require.NoError(t, err)
	calls := h.prod.recorded()
	require.NotEmpty(t, calls)
	assert.Equal(t, registryCall{Method: http.MethodDelete, Path: smp.MetadataPath(p, identifier.DocTypeInvoice)}, calls[0])
	assert.False(t, h.prod.has(smp.MetadataPath(p, identifier.DocTypeInvoice)))
	assert.True(t, h.prod.has(smp.MetadataPath(p, identifier.DocTypeOrder)))
}

func TestRemoveNeverRegisteredDocumentTypeSurfacesNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	in := acme(tm.ID)
	in.VATNumber = ""
	company, err := h.svc.CreateCompany(ctx, in)
	require.NoError(t, err)
	_, err = h.svc.AddDocumentType(ctx, company.ID, identifier.DocTypeInvoice, identifier.ProcessBilling)
	require.NoError(t, err)

	// stored without ever reaching the registry
	order := &storage.DocumentType{CompanyID: company.ID, DocTypeID: identifier.DocTypeOrder, ProcessID: identifier.ProcessOrdering}
	require.NoError(t, h.store.CreateDocumentType(ctx, order))

	err = h.svc.RemoveDocumentType(ctx, order.ID)
	require.ErrorIs(t, err, ErrRegistrationFailed)
	assert.True(t, smp.IsNotFound(err))

	restored, err := h.store.GetDocumentType(ctx, order.ID)
	require.NoError(t, err, "the document type row is restored")
	assert.Equal(t, identifier.DocTypeOrder, restored.DocTypeID)
}

// waitForHolders blocks until n callers hold or wait for key.
func waitForHolders(t *testing.T, k *keyedMutex, key string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		k.mu.Lock()
		defer k.mu.Unlock()
		l, ok := k.locks[key]
		return ok && l.refs == n
	}, 5*time.Second, time.Millisecond)
}

func TestDeleteCompanyWaitsForIdentifierBeingAdded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	in := acme(tm.ID)
	in.VATNumber = ""
	company, err := h.svc.CreateCompany(ctx, in)
	require.NoError(t, err)

	key := "company:" + company.ID
	unlock := h.svc.locks.Lock(key)

	added := make(chan error, 1)
	go func() {
		_, err := h.svc.AddIdentifier(ctx, company.ID, "0088", "5790000435975")
		added <- err
	}()
	waitForHolders(t, h.svc.locks, key, 2)

	deleted := make(chan error, 1)
	go func() {
		deleted <- h.svc.DeleteCompany(ctx, company.ID)
	}()
	waitForHolders(t, h.svc.locks, key, 3)
	unlock()

	require.NoError(t, <-deleted)
	if err := <-added; err != nil {
		// the delete went first
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}

	assert.Zero(t, h.prod.size(), "no registry record outlives the company")
	rows, err := h.store.ListIdentifiers(ctx, company.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	owners, err := h.store.FindIdentifierOwners(ctx, "0088", "5790000435975")
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestUpdateDocumentTypeRevertsRowOnRegistryFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	in := acme(tm.ID)
	in.VATNumber = ""
	company, err := h.svc.CreateCompany(ctx, in)
	require.NoError(t, err)
	invoice, err := h.svc.AddDocumentType(ctx, company.ID, identifier.DocTypeInvoice, identifier.ProcessBilling)
	require.NoError(t, err)

	p := participant(t, "0208:0659689080")
	h.prod.failOn(http.MethodPut, smp.MetadataPath(p, identifier.DocTypeOrder), http.StatusInternalServerError)

	_, err = h.svc.UpdateDocumentType(ctx, invoice.ID, identifier.DocTypeOrder, identifier.ProcessOrdering)
	require.ErrorIs(t, err, ErrRegistrationFailed)

	row, err := h.store.GetDocumentType(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, identifier.DocTypeInvoice, row.DocTypeID)
	assert.Equal(t, identifier.ProcessBilling, row.ProcessID)
	assert.False(t, h.prod.has(smp.MetadataPath(p, identifier.DocTypeOrder)))
	assert.Empty(t, h.alerts.all())
}

func TestAddDocumentTypeRemovesRowOnRegistryFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	in := acme(tm.ID)
	in.VATNumber = ""
	company, err := h.svc.CreateCompany(ctx, in)
	require.NoError(t, err)
	invoice, err := h.svc.AddDocumentType(ctx, company.ID, identifier.DocTypeInvoice, identifier.ProcessBilling)
	require.NoError(t, err)

	p := participant(t, "0208:0659689080")
	h.prod.failOn(http.MethodPut, smp.MetadataPath(p, identifier.DocTypeOrder), http.StatusBadGateway)

	_, err = h.svc.AddDocumentType(ctx, company.ID, identifier.DocTypeOrder, identifier.ProcessOrdering)
	require.ErrorIs(t, err, ErrRegistrationFailed)

	rows, err := h.store.ListDocumentTypes(ctx, company.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1, "the new capability is not kept")
	assert.Equal(t, invoice.ID, rows[0].ID)
	assert.True(t, h.prod.has(smp.MetadataPath(p, identifier.DocTypeInvoice)))
	assert.False(t, h.prod.has(smp.MetadataPath(p, identifier.DocTypeOrder)))
}

func TestUpdateCompanyRestoresOldVATWhenNewFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tm := h.newTeam(t, storage.Team{Name: "production"})

	in := acme(tm.ID)
	in.EnterpriseNumber = ""
	in.VATNumber = "BE0111222333"
	company, err := h.svc.CreateCompany(ctx, in)
	require.NoError(t, err)

	oldVAT := participant(t, "9925:be0111222333")
	newVAT := participant(t, "9925:be0444555666")
	h.prod.failOn(http.MethodPut, smp.ParticipantPath(newVAT), http.StatusInternalServerError)

	in.Name = "Acme Holding"
	in.VATNumber = "BE0444555666"
	_, err = h.svc.UpdateCompany(ctx, company.ID, in)
	require.ErrorIs(t, err, ErrRegistrationFailed)

	stored, err := h.store.GetCompany(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme NV", stored.Name)
	assert.Equal(t, "BE0111222333", stored.VATNumber)

	rows := h.identifiers(t, company.ID)
	require.Len(t, rows, 1)
	restored := rows[oldVAT.Address()]
	require.NotNil(t, restored, "the old identifier row is restored")
	assert.Equal(t, storage.SourceVATNumber, restored.Source)
	assert.Equal(t, "production", restored.RegisteredNetwork)

	// the old identifier is published again
	assert.True(t, h.prod.has(smp.ParticipantPath(oldVAT)))
	assert.True(t, h.prod.has(smp.BusinessCardPath(oldVAT)))
	assert.True(t, h.prod.has(smp.MetadataPath(oldVAT, identifier.DocTypeMLR)))
	assert.False(t, h.prod.has(smp.ParticipantPath(newVAT)))
	assert.Empty(t, h.alerts.all())
}
