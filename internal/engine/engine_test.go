package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/filestore"
	"taskdesk/internal/migrate"
	"taskdesk/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
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
	cfg := config.Default(dir)
	eng := engine.New(conn, cfg, filestore.Store{Root: cfg.Storage.Root})
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) user(t *testing.T, username string) domain.User {
	t.Helper()
	u, err := env.Engine.CreateUser(env.Ctx, domain.User{Username: username}, "test")
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func (env testEnv) org(t *testing.T, name string) domain.Organization {
	t.Helper()
	o, err := env.Engine.CreateOrganization(env.Ctx, name, "", "test")
	if err != nil {
		t.Fatalf("create org %s: %v", name, err)
	}
	return o
}

func TestOrganizationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "Acme")
	if o.ID == "" || o.CreatedAt != "2025-06-01T12:00:00Z" {
		t.Fatalf("created org = %+v", o)
	}

	o.Description = "widgets"
	updated, err := env.Engine.UpdateOrganization(env.Ctx, o, "test")
	if err != nil || updated.Description != "widgets" {
		t.Fatalf("update: %+v, %v", updated, err)
	}

	if _, err := env.Engine.CreateOrganization(env.Ctx, "Acme", "", "test"); err == nil {
		t.Fatal("duplicate org name accepted")
	}

	if err := env.Engine.DeleteOrganization(env.Ctx, o.ID, "test"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.Engine.DeleteOrganization(env.Ctx, o.ID, "test"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}

func TestDepartmentRequiresOrganization(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateDepartment(env.Ctx, domain.Department{OrganizationID: "missing", Name: "Ops"}, "test"); err == nil {
		t.Fatal("department created under missing org")
	}
	o := env.org(t, "Acme")
	d, err := env.Engine.CreateDepartment(env.Ctx, domain.Department{OrganizationID: o.ID, Name: "Ops"}, "test")
	if err != nil {
		t.Fatalf("create department: %v", err)
	}

	// Update cannot move a department to another organization.
	d.OrganizationID = "other"
	d.Name = "Operations"
	updated, err := env.Engine.UpdateDepartment(env.Ctx, d, "test")
	if err != nil {
		t.Fatalf("update department: %v", err)
	}
	if updated.OrganizationID != o.ID || updated.Name != "Operations" {
		t.Fatalf("updated = %+v", updated)
	}
}

func TestSeedRoles(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Roles = map[string]config.RoleSeed{
		"manager": {Description: "runs tasks", Permissions: []string{"task.add", "task.view"}},
	}
	if err := env.Engine.SeedRoles(env.Ctx, "system"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Seeding twice is idempotent.
	if err := env.Engine.SeedRoles(env.Ctx, "system"); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	role, err := env.Engine.Repo.GetRoleByName(env.Ctx, "manager")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if len(role.Permissions) != 2 {
		t.Fatalf("permissions = %v", role.Permissions)
	}
}

func TestAssignRoleValidatesReferences(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "alice")
	o := env.org(t, "Acme")
	other := env.org(t, "Rivals")
	role, err := env.Engine.CreateRole(env.Ctx, domain.Role{Name: "member"}, "test")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	d, err := env.Engine.CreateDepartment(env.Ctx, domain.Department{OrganizationID: other.ID, Name: "Ops"}, "test")
	if err != nil {
		t.Fatalf("create department: %v", err)
	}

	// Department from a different organization is rejected.
	if _, err := env.Engine.AssignRole(env.Ctx, domain.Assignment{
		UserID: u.ID, OrganizationID: o.ID, DepartmentID: &d.ID, RoleID: role.ID,
	}, "test"); err == nil {
		t.Fatal("cross-org department accepted")
	}

	a, err := env.Engine.AssignRole(env.Ctx, domain.Assignment{UserID: u.ID, OrganizationID: o.ID, RoleID: role.ID}, "test")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := env.Engine.UnassignRole(env.Ctx, a.ID, "test"); err != nil {
		t.Fatalf("unassign: %v", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	env := newTestEnv(t)
	u, created, err := env.Engine.EnsureAdmin(env.Ctx, "admin")
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}
	if !u.Superuser || u.Username != "admin" {
		t.Fatalf("admin = %+v", u)
	}
	_, created, err = env.Engine.EnsureAdmin(env.Ctx, "admin")
	if err != nil || created {
		t.Fatalf("second ensure: created=%v err=%v", created, err)
	}
}

func TestTaskReferenceChecks(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "Acme")
	u := env.user(t, "alice")

	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{
		OrganizationID: o.ID, Name: "Audit", AssignedUsers: []string{"ghost"}, ActorID: "test",
	}); err == nil {
		t.Fatal("unknown assignee accepted")
	}

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{
		OrganizationID: o.ID, Name: "Audit", AssignedUsers: []string{u.ID}, ActorID: "test",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if len(got.AssignedUsers) != 1 || got.AssignedUsers[0] != u.ID {
		t.Fatalf("assignees = %v", got.AssignedUsers)
	}
}

func TestOutputFieldTypeCheck(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "Acme")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{OrganizationID: o.ID, Name: "Audit", ActorID: "test"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.CreateOutputField(env.Ctx, domain.OutputField{
		TaskID: task.ID, Name: "Notes", FieldType: "hologram",
	}, "test"); err == nil {
		t.Fatal("unknown field type accepted")
	}
	f, err := env.Engine.CreateOutputField(env.Ctx, domain.OutputField{
		TaskID: task.ID, Name: "Notes", FieldType: domain.FieldText,
	}, "test")
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	if err := env.Engine.DeleteOutputField(env.Ctx, f.ID, "test"); err != nil {
		t.Fatalf("delete field: %v", err)
	}
}

func TestChatThread(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "Acme")
	u := env.user(t, "alice")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{OrganizationID: o.ID, Name: "Audit", ActorID: "test"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	first, err := env.Engine.PostChatMessage(env.Ctx, task.ID, u.ID, "started")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if first.Username != "alice" {
		t.Fatalf("username = %q", first.Username)
	}
	if _, err := env.Engine.PostChatMessage(env.Ctx, task.ID, u.ID, "done"); err != nil {
		t.Fatalf("post: %v", err)
	}
	msgs, err := env.Engine.Repo.ListChatMessages(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Message != "started" || msgs[1].Message != "done" {
		t.Fatalf("thread = %+v", msgs)
	}
}

func TestCreateAPIKeyStoresHashOnly(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "alice")
	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, u.ID, "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if secret == "" {
		t.Fatal("no secret returned")
	}
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if stored.ID != key.ID || stored.UserID != u.ID {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	o := env.org(t, "Acme")
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "org.created", "", "")
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(events) != 1 || events[0].EntityID != o.ID || events[0].ActorID != "test" {
		t.Fatalf("events = %+v", events)
	}
}
