package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/dualauth/internal/domain"
)

func newTestApp(f *fixture) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			kind, _ := domain.KindOf(err)
			status := http.StatusUnauthorized
			if kind == domain.KindInsufficientPermission || kind == domain.KindCrossDomainAccess {
				status = http.StatusForbidden
			}
			return c.Status(status).SendString(string(kind))
		},
	})
	mw := NewAuthMiddleware(f.verifier)

	customer := app.Group("/customer", mw.RequireDomain(domain.DomainCustomer))
	customer.Get("/listings/import", RequirePermission(domain.DomainCustomer, domain.PermListingBulkImport), func(c *fiber.Ctx) error {
		p, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.ErrInternalServerError
		}
		return c.SendString(p.Username)
	})

	staff := app.Group("/staff", mw.RequireDomain(domain.DomainStaff))
	staff.Get("/settings", RequireRole(domain.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, path, token string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestAuthMiddleware_Routes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	app := newTestApp(f)

	dealer := issue(t, f.customer, IssueRequest{Subject: "c-1", Username: "dana", Tier: "dealer"})
	individual := issue(t, f.customer, IssueRequest{Subject: "c-2", Username: "ivan", Tier: "individual"})
	admin := issue(t, f.staff, IssueRequest{Subject: "s-1", Username: "ada", Groups: []string{"admin"}})
	manager := issue(t, f.staff, IssueRequest{Subject: "s-2", Username: "max", Groups: []string{"manager"}})

	tests := []struct {
		name   string
		path   string
		token  string
		status int
		body   string
	}{
		{"dealer imports", "/customer/listings/import", dealer, http.StatusOK, "dana"},
		{"individual lacks permission", "/customer/listings/import", individual, http.StatusForbidden, string(domain.KindInsufficientPermission)},
		{"staff token on customer route", "/customer/listings/import", admin, http.StatusUnauthorized, string(domain.KindWrongIssuer)},
		{"customer token on staff route", "/staff/settings", dealer, http.StatusUnauthorized, string(domain.KindWrongIssuer)},
		{"admin reaches settings", "/staff/settings", admin, http.StatusNoContent, ""},
		{"manager below admin", "/staff/settings", manager, http.StatusForbidden, string(domain.KindInsufficientPermission)},
		{"no token", "/staff/settings", "", http.StatusUnauthorized, string(domain.KindTokenMalformed)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := doRequest(t, app, tc.path, tc.token)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.body, body)
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	tok, err := BearerToken("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, header := range []string{"", "Basic abc", "Bearer", "Bearer   "} {
		_, err := BearerToken(header)
		requireKind(t, err, domain.KindTokenMalformed)
	}
}
