package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func tenantContext(t *testing.T, target string, setup func(c echo.Context, req *http.Request)) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if setup != nil {
		setup(c, req)
	}
	return c
}

func TestExtractTenantID_Sources(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c echo.Context, req *http.Request)
		want  string
	}{
		{
			"token claim",
			func(c echo.Context, _ *http.Request) { c.Set("jwt_tenant_id", "billing_office_1") },
			"billing_office_1",
		},
		{
			"header",
			func(_ echo.Context, req *http.Request) { req.Header.Set("X-Tenant-ID", "clinic_group_a") },
			"clinic_group_a",
		},
		{
			"nothing set falls back to default",
			nil,
			"default",
		},
		{
			"empty token claim falls through to header",
			func(c echo.Context, req *http.Request) {
				c.Set("jwt_tenant_id", "")
				req.Header.Set("X-Tenant-ID", "clinic_group_a")
			},
			"clinic_group_a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tenantContext(t, "/api/v1/claims", tt.setup)
			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("extractTenantID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTenantID_QueryParam(t *testing.T) {
	c := tenantContext(t, "/api/v1/claims?tenant_id=billing_office_2", nil)
	if got := extractTenantID(c, "default"); got != "billing_office_2" {
		t.Errorf("extractTenantID = %q, want billing_office_2", got)
	}
}

func TestExtractTenantID_TokenOutranksHeaderAndQuery(t *testing.T) {
	c := tenantContext(t, "/api/v1/claims?tenant_id=from_query", func(c echo.Context, req *http.Request) {
		c.Set("jwt_tenant_id", "from_token")
		req.Header.Set("X-Tenant-ID", "from_header")
	})
	if got := extractTenantID(c, "default"); got != "from_token" {
		t.Errorf("extractTenantID = %q, want from_token (token claim wins)", got)
	}
}

func TestExtractTenantID_HeaderOutranksQuery(t *testing.T) {
	c := tenantContext(t, "/api/v1/claims?tenant_id=from_query", func(_ echo.Context, req *http.Request) {
		req.Header.Set("X-Tenant-ID", "from_header")
	})
	if got := extractTenantID(c, "default"); got != "from_header" {
		t.Errorf("extractTenantID = %q, want from_header", got)
	}
}

func TestTenantIDPattern(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"billing_office_1", true},
		{"ClinicGroupA", true},
		{"a", true},
		{"42", true},
		{"", false},
		{"office-1", false},
		{"office.1", false},
		{"office 1", false},
		{"office/1", false},
		{"'; DROP TABLE claim", false},
		{"office@north", false},
	}

	for _, tt := range tests {
		if got := tenantIDPattern.MatchString(tt.input); got != tt.valid {
			t.Errorf("tenantIDPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("billing_office_1"); got != "tenant_billing_office_1" {
		t.Errorf("SchemaName = %q, want tenant_billing_office_1", got)
	}
}

func TestCreateTenantSchema_RejectsInvalidIDs(t *testing.T) {
	invalid := []string{"office-with-dash", "office.dot", "off ice", "drop;table", ""}
	for _, id := range invalid {
		if err := CreateTenantSchema(context.Background(), nil, id, ""); err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}

func TestConnFromContext(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn from empty context")
	}

	// A wrong-typed value must not panic the accessor.
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	if conn := ConnFromContext(ctx); conn != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestTenantFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TenantIDKey, "billing_office_1")
	if got := TenantFromContext(ctx); got != "billing_office_1" {
		t.Errorf("TenantFromContext = %q, want billing_office_1", got)
	}

	if got := TenantFromContext(context.Background()); got != "" {
		t.Errorf("expected empty tenant from empty context, got %q", got)
	}

	ctx = context.WithValue(context.Background(), TenantIDKey, 12345)
	if got := TenantFromContext(ctx); got != "" {
		t.Errorf("expected empty tenant for wrong-typed value, got %q", got)
	}
}

func TestTxFromContext(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}

	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_RequiresTenantConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error when no connection in context")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}
