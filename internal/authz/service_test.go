package authz

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupAuthzServiceTest(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	svc, err := NewService(db)
	if err != nil {
		t.Fatalf("new authz service failed: %v", err)
	}
	return svc
}

func TestEnforceAdminWithRolePolicy(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.GrantRolePolicy("refund_operator", "/admin/payments/:id/refunds", "POST"); err != nil {
		t.Fatalf("grant role policy failed: %v", err)
	}
	if err := svc.SetAdminRoles(1, []string{"refund_operator"}); err != nil {
		t.Fatalf("set admin roles failed: %v", err)
	}

	allow, err := svc.EnforceAdmin(1, "/api/v1/admin/payments/42/refunds", "post")
	if err != nil {
		t.Fatalf("enforce allow failed: %v", err)
	}
	if !allow {
		t.Fatalf("expected allow=true")
	}

	allow, err = svc.EnforceAdmin(1, "/api/v1/admin/payments/42/refunds", "GET")
	if err != nil {
		t.Fatalf("enforce deny failed: %v", err)
	}
	if allow {
		t.Fatalf("expected allow=false")
	}
}

func TestSetAdminRolesOverride(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.GrantRolePolicy("notify_auditor", "/admin/notify-tasks", "GET"); err != nil {
		t.Fatalf("grant notify_auditor policy failed: %v", err)
	}
	if err := svc.GrantRolePolicy("refund_operator", "/admin/payments", "GET"); err != nil {
		t.Fatalf("grant refund_operator policy failed: %v", err)
	}

	if err := svc.SetAdminRoles(2, []string{"notify_auditor"}); err != nil {
		t.Fatalf("set first role failed: %v", err)
	}
	roles, err := svc.GetAdminRoles(2)
	if err != nil {
		t.Fatalf("get roles failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != "role:notify_auditor" {
		t.Fatalf("roles want [role:notify_auditor], got=%v", roles)
	}

	if err := svc.SetAdminRoles(2, []string{"refund_operator"}); err != nil {
		t.Fatalf("set second role failed: %v", err)
	}
	roles, err = svc.GetAdminRoles(2)
	if err != nil {
		t.Fatalf("get roles failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != "role:refund_operator" {
		t.Fatalf("roles want [role:refund_operator], got=%v", roles)
	}

	allow, err := svc.EnforceAdmin(2, "/admin/notify-tasks", "GET")
	if err != nil {
		t.Fatalf("enforce old role failed: %v", err)
	}
	if allow {
		t.Fatalf("expected old role permission removed")
	}

	allow, err = svc.EnforceAdmin(2, "/admin/payments", "GET")
	if err != nil {
		t.Fatalf("enforce new role failed: %v", err)
	}
	if !allow {
		t.Fatalf("expected new role permission granted")
	}
}

func TestRoleLifecycle(t *testing.T) {
	svc := setupAuthzServiceTest(t)

	role, err := svc.EnsureRole("refund_operator")
	if err != nil {
		t.Fatalf("ensure role failed: %v", err)
	}
	if role != "role:refund_operator" {
		t.Fatalf("role want role:refund_operator, got=%s", role)
	}
	if err := svc.GrantRolePolicy(role, "/admin/payments/:id/refunds", "POST"); err != nil {
		t.Fatalf("grant policy failed: %v", err)
	}

	policies, err := svc.GetRolePolicies(role)
	if err != nil {
		t.Fatalf("get role policies failed: %v", err)
	}
	if len(policies) != 1 || policies[0].Object != "/admin/payments/:id/refunds" || policies[0].Action != "POST" {
		t.Fatalf("unexpected policies: %+v", policies)
	}

	if err := svc.RevokeRolePolicy(role, "/admin/payments/:id/refunds", "POST"); err != nil {
		t.Fatalf("revoke policy failed: %v", err)
	}
	policies, err = svc.GetRolePolicies(role)
	if err != nil {
		t.Fatalf("get role policies failed: %v", err)
	}
	if len(policies) != 0 {
		t.Fatalf("expected empty policies after revoke, got=%+v", policies)
	}

	if err := svc.DeleteRole(role); err != nil {
		t.Fatalf("delete role failed: %v", err)
	}
	roles, err := svc.ListRoles()
	if err != nil {
		t.Fatalf("list roles failed: %v", err)
	}
	for _, item := range roles {
		if item == role {
			t.Fatalf("role should be deleted, still listed: %v", roles)
		}
	}
}

func TestBuiltinRoleProtected(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("bootstrap builtin roles failed: %v", err)
	}

	if err := svc.DeleteRole("finance"); !errors.Is(err, ErrRoleProtected) {
		t.Fatalf("delete builtin role want ErrRoleProtected, got=%v", err)
	}
	if err := svc.GrantRolePolicy("finance", "/admin/payments", "DELETE"); !errors.Is(err, ErrRoleProtected) {
		t.Fatalf("grant builtin role want ErrRoleProtected, got=%v", err)
	}
	if err := svc.RevokeRolePolicy("support", "/admin/payments", "GET"); !errors.Is(err, ErrRoleProtected) {
		t.Fatalf("revoke builtin role want ErrRoleProtected, got=%v", err)
	}

	// 内建角色仍可被分配
	if err := svc.SetAdminRoles(9, []string{"finance"}); err != nil {
		t.Fatalf("assign builtin role failed: %v", err)
	}
	allow, err := svc.EnforceAdmin(9, "/admin/payments/reconciliation", "GET")
	if err != nil {
		t.Fatalf("enforce builtin role failed: %v", err)
	}
	if !allow {
		t.Fatalf("expected finance role allowed on reconciliation")
	}
}

func TestGetAdminPoliciesMergesRoles(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.GrantRolePolicy("notify_auditor", "/admin/notify-tasks", "GET"); err != nil {
		t.Fatalf("grant policy failed: %v", err)
	}
	if err := svc.GrantRolePolicy("refund_operator", "/admin/payments/:id/refunds", "POST"); err != nil {
		t.Fatalf("grant policy failed: %v", err)
	}
	if err := svc.SetAdminRoles(4, []string{"notify_auditor", "refund_operator"}); err != nil {
		t.Fatalf("set admin roles failed: %v", err)
	}

	policies, err := svc.GetAdminPolicies(4)
	if err != nil {
		t.Fatalf("get admin policies failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 effective policies, got=%+v", policies)
	}
}

func TestNormalizeObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "/api/v1/admin/payments/:id", want: "/admin/payments/:id"},
		{in: "/admin/payments/:id", want: "/admin/payments/:id"},
		{in: "admin/payments", want: "/admin/payments"},
		{in: "/api/v1", want: "/"},
		{in: "", want: "/"},
	}
	for _, item := range cases {
		got := NormalizeObject(item.in)
		if got != item.want {
			t.Fatalf("normalize object failed, in=%q want=%q got=%q", item.in, item.want, got)
		}
	}
}

func TestBootstrapBuiltinRoles(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("bootstrap builtin roles failed: %v", err)
	}

	roles, err := svc.ListRoles()
	if err != nil {
		t.Fatalf("list roles failed: %v", err)
	}
	wantRoles := map[string]bool{
		"role:readonly_auditor": true,
		"role:support":          true,
		"role:finance":          true,
	}
	for _, role := range roles {
		delete(wantRoles, role)
	}
	if len(wantRoles) != 0 {
		t.Fatalf("builtin roles missing: %v", wantRoles)
	}

	if err := svc.SetAdminRoles(3, []string{"support"}); err != nil {
		t.Fatalf("set admin roles failed: %v", err)
	}

	allow, err := svc.EnforceAdmin(3, "/admin/payments", "GET")
	if err != nil {
		t.Fatalf("enforce inherited readonly failed: %v", err)
	}
	if !allow {
		t.Fatalf("expected inherited readonly permission")
	}

	allow, err = svc.EnforceAdmin(3, "/admin/payment-methods", "PUT")
	if err != nil {
		t.Fatalf("enforce readonly write failed: %v", err)
	}
	if allow {
		t.Fatalf("expected support role deny write")
	}

	// 重复引导幂等
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("re-bootstrap failed: %v", err)
	}
}
