package access_test

import (
	"context"
	"testing"

	"taskdesk/internal/access"
	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/filestore"
	"taskdesk/internal/migrate"
)

type fixture struct {
	Engine engine.Engine
	Ctx    context.Context
	Alice  domain.User
	OrgA   domain.Organization
	OrgB   domain.Organization
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(dir), filestore.Store{Root: dir})
	ctx := context.Background()

	alice, err := eng.CreateUser(ctx, domain.User{Username: "alice"}, "test")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	orgA, err := eng.CreateOrganization(ctx, "Org A", "", "test")
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	orgB, err := eng.CreateOrganization(ctx, "Org B", "", "test")
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	viewer, err := eng.CreateRole(ctx, domain.Role{Name: "viewer", Permissions: []string{"task.view", "organization.view"}}, "test")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if _, err := eng.AssignRole(ctx, domain.Assignment{UserID: alice.ID, OrganizationID: orgA.ID, RoleID: viewer.ID}, "test"); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	return fixture{Engine: eng, Ctx: ctx, Alice: alice, OrgA: orgA, OrgB: orgB}
}

func TestAuthorize(t *testing.T) {
	fx := newFixture(t)
	r := fx.Engine.Access
	p := access.Principal{UserID: fx.Alice.ID}

	ok, err := r.Authorize(fx.Ctx, p, "task.view")
	if err != nil || !ok {
		t.Fatalf("granted permission denied: ok=%v err=%v", ok, err)
	}
	ok, err = r.Authorize(fx.Ctx, p, "task.delete")
	if err != nil || ok {
		t.Fatalf("ungranted permission allowed: ok=%v err=%v", ok, err)
	}

	if err := r.Require(fx.Ctx, p, "task.delete"); err == nil {
		t.Fatal("Require passed without the permission")
	} else if _, isDenied := err.(access.DeniedError); !isDenied {
		t.Fatalf("Require error = %T", err)
	}
}

func TestSuperuserBypass(t *testing.T) {
	fx := newFixture(t)
	r := fx.Engine.Access
	p := access.Principal{UserID: "nobody", Superuser: true}

	ok, err := r.Authorize(fx.Ctx, p, "task.delete")
	if err != nil || !ok {
		t.Fatalf("superuser denied: ok=%v err=%v", ok, err)
	}
	scope, err := r.ScopeFor(fx.Ctx, p)
	if err != nil || !scope.All {
		t.Fatalf("superuser scope = %+v, %v", scope, err)
	}
	if !scope.Contains("anything") {
		t.Fatal("All scope rejected an org")
	}
}

func TestScopeFor(t *testing.T) {
	fx := newFixture(t)
	scope, err := fx.Engine.Access.ScopeFor(fx.Ctx, access.Principal{UserID: fx.Alice.ID})
	if err != nil {
		t.Fatalf("ScopeFor: %v", err)
	}
	if scope.All {
		t.Fatal("regular user got the All scope")
	}
	if !scope.Contains(fx.OrgA.ID) {
		t.Fatal("assigned org missing from scope")
	}
	if scope.Contains(fx.OrgB.ID) {
		t.Fatal("unassigned org in scope")
	}

	// No assignments at all: the scope is empty, not All.
	empty, err := fx.Engine.Access.ScopeFor(fx.Ctx, access.Principal{UserID: "stranger"})
	if err != nil {
		t.Fatalf("ScopeFor: %v", err)
	}
	if empty.All || len(empty.OrgIDs) != 0 {
		t.Fatalf("stranger scope = %+v", empty)
	}
}

func TestRevokeNarrowsPermissions(t *testing.T) {
	fx := newFixture(t)
	roles, err := fx.Engine.Repo.ListRoles(fx.Ctx)
	if err != nil || len(roles) != 1 {
		t.Fatalf("list roles: %v (%d)", err, len(roles))
	}
	if err := fx.Engine.RevokePermission(fx.Ctx, roles[0].ID, "task.view", "test"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	ok, err := fx.Engine.Access.Authorize(fx.Ctx, access.Principal{UserID: fx.Alice.ID}, "task.view")
	if err != nil || ok {
		t.Fatalf("revoked permission still granted: ok=%v err=%v", ok, err)
	}
}
