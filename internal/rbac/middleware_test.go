package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"outbound-dialer/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(role string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireAnyRole(RoleMember), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole(t *testing.T) {
	cases := map[string]int{
		RoleMember: 200,
		RoleAdmin:  200,
		"viewer":   403,
		"":         401,
	}
	for role, want := range cases {
		if got := serveAs(role); got != want {
			t.Fatalf("role %q: expected %d, got %d", role, want, got)
		}
	}
}

func TestCanAccess(t *testing.T) {
	owner := auth.WithIdentity(context.Background(), "u1", RoleMember)
	if !CanAccess(owner, "u1") {
		t.Fatalf("owner must access own resource")
	}
	if CanAccess(owner, "u2") {
		t.Fatalf("member must not access another user's resource")
	}
	admin := auth.WithIdentity(context.Background(), "root", RoleAdmin)
	if !CanAccess(admin, "u2") {
		t.Fatalf("admin must access any resource")
	}
	if CanAccess(context.Background(), "u1") {
		t.Fatalf("anonymous caller must be denied")
	}
}
