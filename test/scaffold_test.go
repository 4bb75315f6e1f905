package test

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consentHandler "privileges/internal/consent/handler"
	consentModel "privileges/internal/consent/models"
	consentService "privileges/internal/consent/service"
	consentStore "privileges/internal/consent/store"
	jwttoken "privileges/internal/jwt_token"
	"privileges/internal/platform/metrics"
	"privileges/internal/privilege"
	httptransport "privileges/internal/transport/http"
	id "privileges/pkg/domain"
	"privileges/pkg/platform/audit/publishers/compliance"
	auditmemory "privileges/pkg/platform/audit/store/memory"
	"privileges/pkg/testutil"
)

type app struct {
	router http.Handler
	audit  *auditmemory.InMemoryStore
	jwt    *jwttoken.JWTService
}

func newApp(t *testing.T) app {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	catalog := privilege.NewCatalog()
	catalog.MustRegister(
		privilege.Definition{Key: "newsletter", Label: "Newsletter", DefaultGranted: true},
		privilege.Definition{Key: "social_post", Label: "Post on my behalf", DefaultGranted: false},
	)

	store := consentStore.NewInMemory()
	auditStore := auditmemory.NewInMemoryStore()
	svc, err := consentService.New(catalog, store,
		consentService.WithTx(store),
		consentService.WithLogger(logger),
		consentService.WithAuditPublisher(compliance.New(auditStore, compliance.WithLogger(logger))),
	)
	require.NoError(t, err)

	jwt := jwttoken.NewJWTService("test-signing-key", "privileges", "privileges")
	handler := consentHandler.New(svc, catalog, logger, metrics.New(reg), jwttoken.NewJWTServiceAdapter(jwt))

	return app{
		router: httptransport.NewRouter(httptransport.Deps{
			Logger:   logger,
			Gatherer: reg,
			Modules:  []httptransport.RouteRegistrar{handler},
		}),
		audit: auditStore,
		jwt:   jwt,
	}
}

func (a app) token(t *testing.T, userID id.UserID) string {
	t.Helper()
	token, err := a.jwt.GenerateAccessToken(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func grantedByKey(t *testing.T, resp *consentModel.ViewResponse) map[string]bool {
	t.Helper()
	out := make(map[string]bool, len(resp.Privileges))
	for _, p := range resp.Privileges {
		out[p.Key] = p.Granted
	}
	return out
}

func TestPrivilegesScenario(t *testing.T) {
	testutil.Given(t, "a fresh user and the default catalog", func(t *testing.T) {
		a := newApp(t)
		userID := id.UserID(uuid.New())
		token := a.token(t, userID)

		testutil.When(t, "the user opens their settings", func(t *testing.T) {
			rr := testutil.DoRequest(a.router, testutil.WithBearer(testutil.NewRequest(t, http.MethodGet, "/privileges"), token))

			testutil.Then(t, "every privilege shows its default", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				resp := testutil.UnmarshalResponse[consentModel.ViewResponse](t, rr)
				assert.Equal(t, map[string]bool{"newsletter": true, "social_post": false}, grantedByKey(t, resp))
				for _, p := range resp.Privileges {
					assert.False(t, p.Explicit)
				}
			})
		})

		testutil.When(t, "the user submits the form with only social_post checked", func(t *testing.T) {
			req := testutil.NewFormRequest(t, http.MethodPost, "/privileges", url.Values{"social_post": {"on"}})
			rr := testutil.DoRequest(a.router, testutil.WithBearer(req, token))

			testutil.Then(t, "newsletter is revoked and social_post granted, both explicit", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				resp := testutil.UnmarshalResponse[consentModel.ViewResponse](t, rr)
				assert.Equal(t, map[string]bool{"newsletter": false, "social_post": true}, grantedByKey(t, resp))
				for _, p := range resp.Privileges {
					assert.True(t, p.Explicit)
				}
			})

			testutil.Then(t, "one compliance event is recorded per change", func(t *testing.T) {
				events, err := a.audit.ListAll(t.Context())
				require.NoError(t, err)
				assert.Len(t, events, 2)
			})
		})

		testutil.When(t, "the user submits an unknown privilege as JSON", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/privileges", map[string]any{
				"changes": map[string]bool{"telemetry": true, "newsletter": true},
			})
			rr := testutil.DoRequest(a.router, testutil.WithBearer(req, token))

			testutil.Then(t, "the whole batch is rejected", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "unknown_privilege")

				view := testutil.DoRequest(a.router, testutil.WithBearer(testutil.NewRequest(t, http.MethodGet, "/privileges"), token))
				resp := testutil.UnmarshalResponse[consentModel.ViewResponse](t, view)
				assert.False(t, grantedByKey(t, resp)["newsletter"])
			})
		})
	})
}

func TestRouterOperationalEndpoints(t *testing.T) {
	testutil.Given(t, "the wired router", func(t *testing.T) {
		a := newApp(t)

		testutil.When(t, "calling GET /privileges without a token", func(t *testing.T) {
			rr := testutil.DoRequest(a.router, testutil.NewRequest(t, http.MethodGet, "/privileges"))

			testutil.Then(t, "it responds unauthorized", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
			})
		})

		testutil.When(t, "calling GET /healthz", func(t *testing.T) {
			rr := testutil.DoRequest(a.router, testutil.NewRequest(t, http.MethodGet, "/healthz"))

			testutil.Then(t, "it reports ok", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				testutil.AssertJSONContains(t, rr, "status", "ok")
			})
		})

		testutil.When(t, "calling GET /metrics after a request", func(t *testing.T) {
			testutil.DoRequest(a.router, testutil.WithBearer(testutil.NewRequest(t, http.MethodGet, "/privileges/-/catalog"), a.token(t, id.UserID(uuid.New()))))
			rr := testutil.DoRequest(a.router, testutil.NewRequest(t, http.MethodGet, "/metrics"))

			testutil.Then(t, "it exposes request latency", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				assert.True(t, strings.Contains(rr.Body.String(), "/privileges/-/catalog"))
			})
		})
	})
}
