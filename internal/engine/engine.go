// Package engine owns all mutations. Every write runs in one transaction
// together with its audit event; reads go through the scoped repo queries.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/access"
	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/events"
	"taskdesk/internal/filestore"
	"taskdesk/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Access access.Resolver
	Events events.Writer
	Files  filestore.Store
	Config *config.Config
	Logger *log.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, files filestore.Store) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Access: access.Resolver{DB: db},
		Events: events.Writer{DB: db},
		Files:  files,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func newID() string { return uuid.NewString() }

// --- organizations ---

func (e Engine) CreateOrganization(ctx context.Context, name, description, actorID string) (domain.Organization, error) {
	if name == "" {
		return domain.Organization{}, errors.New("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()

	o := domain.Organization{
		ID:          newID(),
		Name:        name,
		Description: description,
		CreatedAt:   e.nowString(),
	}
	if err := e.Repo.InsertOrganization(ctx, tx, o); err != nil {
		return domain.Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "org.created", o.ID, "organization", o.ID, actorID, events.EventPayload{"name": o.Name}); err != nil {
		return domain.Organization{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Organization{}, err
	}
	return o, nil
}

func (e Engine) UpdateOrganization(ctx context.Context, o domain.Organization, actorID string) (domain.Organization, error) {
	if o.Name == "" {
		return domain.Organization{}, errors.New("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateOrganization(ctx, tx, o); err != nil {
		return domain.Organization{}, err
	}
	if err := e.Events.Append(ctx, tx, "org.updated", o.ID, "organization", o.ID, actorID, events.EventPayload{"name": o.Name}); err != nil {
		return domain.Organization{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Organization{}, err
	}
	return e.Repo.GetOrganization(ctx, access.Scope{All: true}, o.ID)
}

func (e Engine) DeleteOrganization(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteOrganization(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "org.deleted", id, "organization", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// --- departments ---

func (e Engine) CreateDepartment(ctx context.Context, d domain.Department, actorID string) (domain.Department, error) {
	if d.Name == "" {
		return domain.Department{}, errors.New("name is required")
	}
	if d.OrganizationID == "" {
		return domain.Department{}, errors.New("organization_id is required")
	}
	if _, err := e.Repo.GetOrganization(ctx, access.Scope{All: true}, d.OrganizationID); err != nil {
		return domain.Department{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Department{}, err
	}
	defer tx.Rollback()
	d.ID = newID()
	if err := e.Repo.InsertDepartment(ctx, tx, d); err != nil {
		return domain.Department{}, fmt.Errorf("insert department: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "department.created", d.OrganizationID, "department", d.ID, actorID, events.EventPayload{"name": d.Name}); err != nil {
		return domain.Department{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Department{}, err
	}
	return d, nil
}

func (e Engine) UpdateDepartment(ctx context.Context, d domain.Department, actorID string) (domain.Department, error) {
	if d.Name == "" {
		return domain.Department{}, errors.New("name is required")
	}
	current, err := e.Repo.GetDepartment(ctx, access.Scope{All: true}, d.ID)
	if err != nil {
		return domain.Department{}, err
	}
	d.OrganizationID = current.OrganizationID
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Department{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateDepartment(ctx, tx, d); err != nil {
		return domain.Department{}, err
	}
	if err := e.Events.Append(ctx, tx, "department.updated", d.OrganizationID, "department", d.ID, actorID, events.EventPayload{"name": d.Name}); err != nil {
		return domain.Department{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Department{}, err
	}
	return d, nil
}

func (e Engine) DeleteDepartment(ctx context.Context, id, actorID string) error {
	d, err := e.Repo.GetDepartment(ctx, access.Scope{All: true}, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDepartment(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "department.deleted", d.OrganizationID, "department", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// --- roles ---

func (e Engine) CreateRole(ctx context.Context, role domain.Role, actorID string) (domain.Role, error) {
	if role.Name == "" {
		return domain.Role{}, errors.New("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Role{}, err
	}
	defer tx.Rollback()
	role.ID = newID()
	if err := e.Repo.InsertRole(ctx, tx, role); err != nil {
		return domain.Role{}, fmt.Errorf("insert role: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "role.created", "", "role", role.ID, actorID, events.EventPayload{"name": role.Name, "permissions": role.Permissions}); err != nil {
		return domain.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

func (e Engine) UpdateRole(ctx context.Context, role domain.Role, actorID string) (domain.Role, error) {
	if role.Name == "" {
		return domain.Role{}, errors.New("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Role{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRole(ctx, tx, role); err != nil {
		return domain.Role{}, err
	}
	if err := e.Events.Append(ctx, tx, "role.updated", "", "role", role.ID, actorID, events.EventPayload{"name": role.Name}); err != nil {
		return domain.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Role{}, err
	}
	return e.Repo.GetRole(ctx, role.ID)
}

func (e Engine) DeleteRole(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRole(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "role.deleted", "", "role", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// GrantPermission adds one permission key to a role; RevokePermission takes
// it away. Both are no-ops when the role already matches.
func (e Engine) GrantPermission(ctx context.Context, roleID, permission, actorID string) error {
	if _, err := e.Repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id,permission) VALUES (?,?)`, roleID, permission); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "role.granted", "", "role", roleID, actorID, events.EventPayload{"permission": permission}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RevokePermission(ctx context.Context, roleID, permission, actorID string) error {
	if _, err := e.Repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id=? AND permission=?`, roleID, permission); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "role.revoked", "", "role", roleID, actorID, events.EventPayload{"permission": permission}); err != nil {
		return err
	}
	return tx.Commit()
}

// SeedRoles applies the config role bundles, replacing each named role's
// permission set. Safe to run on every startup.
func (e Engine) SeedRoles(ctx context.Context, actorID string) error {
	if e.Config == nil || len(e.Config.Roles) == 0 {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for name, seed := range e.Config.Roles {
		role := domain.Role{
			ID:          newID(),
			Name:        name,
			Description: seed.Description,
			Permissions: seed.Permissions,
		}
		if err := e.Repo.UpsertRoleByName(ctx, tx, role); err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
	}
	if err := e.Events.Append(ctx, tx, "role.seeded", "", "role", "", actorID, events.EventPayload{"count": len(e.Config.Roles)}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- assignments ---

func (e Engine) AssignRole(ctx context.Context, a domain.Assignment, actorID string) (domain.Assignment, error) {
	if a.UserID == "" || a.OrganizationID == "" || a.RoleID == "" {
		return domain.Assignment{}, errors.New("user_id, organization_id and role_id are required")
	}
	if _, err := e.Repo.GetUser(ctx, a.UserID); err != nil {
		return domain.Assignment{}, err
	}
	if _, err := e.Repo.GetOrganization(ctx, access.Scope{All: true}, a.OrganizationID); err != nil {
		return domain.Assignment{}, err
	}
	if _, err := e.Repo.GetRole(ctx, a.RoleID); err != nil {
		return domain.Assignment{}, err
	}
	if a.DepartmentID != nil {
		d, err := e.Repo.GetDepartment(ctx, access.Scope{All: true}, *a.DepartmentID)
		if err != nil {
			return domain.Assignment{}, err
		}
		if d.OrganizationID != a.OrganizationID {
			return domain.Assignment{}, fmt.Errorf("department %s not in organization %s", d.ID, a.OrganizationID)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()
	a.ID = newID()
	if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
		return domain.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "assignment.created", a.OrganizationID, "assignment", a.ID, actorID, events.EventPayload{"user_id": a.UserID, "role_id": a.RoleID}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

func (e Engine) UnassignRole(ctx context.Context, id, actorID string) error {
	a, err := e.Repo.GetAssignment(ctx, access.Scope{All: true}, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAssignment(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "assignment.deleted", a.OrganizationID, "assignment", id, actorID, events.EventPayload{"user_id": a.UserID}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- users ---

func (e Engine) CreateUser(ctx context.Context, u domain.User, actorID string) (domain.User, error) {
	if u.Username == "" {
		return domain.User{}, errors.New("username is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	u.ID = newID()
	u.CreatedAt = e.nowString()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "user.created", "", "user", u.ID, actorID, events.EventPayload{"username": u.Username}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) UpdateUser(ctx context.Context, u domain.User, actorID string) (domain.User, error) {
	if u.Username == "" {
		return domain.User{}, errors.New("username is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, "user.updated", "", "user", u.ID, actorID, events.EventPayload{"username": u.Username}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, u.ID)
}

func (e Engine) DeleteUser(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteUser(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "user.deleted", "", "user", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// EnsureAdmin creates a superuser when none exists yet and returns it.
// Subsequent calls return the existing user unchanged.
func (e Engine) EnsureAdmin(ctx context.Context, username string) (domain.User, bool, error) {
	if username == "" {
		username = "admin"
	}
	n, err := e.Repo.CountSuperusers(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	if n > 0 {
		u, err := e.Repo.GetUserByUsername(ctx, username)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, false, err
		}
		return u, false, nil
	}
	u, err := e.CreateUser(ctx, domain.User{Username: username, Superuser: true}, "system")
	if err != nil {
		return domain.User{}, false, err
	}
	return u, true, nil
}

// --- tasks ---

// TaskOptions are parameters for creating or updating a task.
type TaskOptions struct {
	ID             string
	OrganizationID string
	Name           string
	Description    string
	DepartmentIDs  []string
	AssignedUsers  []string
	Viewers        []string
	DueDate        *string
	ActorID        string
}

func (e Engine) validateTaskRefs(ctx context.Context, opts TaskOptions) error {
	for _, deptID := range opts.DepartmentIDs {
		d, err := e.Repo.GetDepartment(ctx, access.Scope{All: true}, deptID)
		if err != nil {
			return fmt.Errorf("department %s: %w", deptID, err)
		}
		if d.OrganizationID != opts.OrganizationID {
			return fmt.Errorf("department %s not in organization %s", deptID, opts.OrganizationID)
		}
	}
	for _, userID := range append(append([]string{}, opts.AssignedUsers...), opts.Viewers...) {
		if _, err := e.Repo.GetUser(ctx, userID); err != nil {
			return fmt.Errorf("user %s: %w", userID, err)
		}
	}
	return nil
}

func (e Engine) CreateTask(ctx context.Context, opts TaskOptions) (domain.Task, error) {
	if opts.Name == "" {
		return domain.Task{}, errors.New("name is required")
	}
	if opts.OrganizationID == "" {
		return domain.Task{}, errors.New("organization_id is required")
	}
	if _, err := e.Repo.GetOrganization(ctx, access.Scope{All: true}, opts.OrganizationID); err != nil {
		return domain.Task{}, err
	}
	if err := e.validateTaskRefs(ctx, opts); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t := domain.Task{
		ID:             newID(),
		OrganizationID: opts.OrganizationID,
		Name:           opts.Name,
		Description:    opts.Description,
		DepartmentIDs:  opts.DepartmentIDs,
		AssignedUsers:  opts.AssignedUsers,
		Viewers:        opts.Viewers,
		CreatedAt:      e.nowString(),
		DueDate:        opts.DueDate,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.OrganizationID, "task", t.ID, opts.ActorID, events.EventPayload{"name": t.Name}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskOptions) (domain.Task, error) {
	if opts.Name == "" {
		return domain.Task{}, errors.New("name is required")
	}
	current, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.OrganizationID == "" {
		opts.OrganizationID = current.OrganizationID
	}
	if _, err := e.Repo.GetOrganization(ctx, access.Scope{All: true}, opts.OrganizationID); err != nil {
		return domain.Task{}, err
	}
	if err := e.validateTaskRefs(ctx, opts); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t := domain.Task{
		ID:             opts.ID,
		OrganizationID: opts.OrganizationID,
		Name:           opts.Name,
		Description:    opts.Description,
		DepartmentIDs:  opts.DepartmentIDs,
		AssignedUsers:  opts.AssignedUsers,
		Viewers:        opts.Viewers,
		DueDate:        opts.DueDate,
	}
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", t.OrganizationID, "task", t.ID, opts.ActorID, events.EventPayload{"name": t.Name}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", t.OrganizationID, "task", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// --- output fields ---

func validFieldType(ft string) bool {
	switch ft {
	case domain.FieldText, domain.FieldRadio, domain.FieldCheckbox, domain.FieldYesNo, domain.FieldNumber, domain.FieldFile:
		return true
	}
	return false
}

func (e Engine) CreateOutputField(ctx context.Context, f domain.OutputField, actorID string) (domain.OutputField, error) {
	if f.Name == "" {
		return domain.OutputField{}, errors.New("name is required")
	}
	if !validFieldType(f.FieldType) {
		return domain.OutputField{}, fmt.Errorf("invalid field_type %q", f.FieldType)
	}
	t, err := e.Repo.GetTask(ctx, f.TaskID)
	if err != nil {
		return domain.OutputField{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.OutputField{}, err
	}
	defer tx.Rollback()
	f.ID = newID()
	if err := e.Repo.InsertOutputField(ctx, tx, f); err != nil {
		return domain.OutputField{}, fmt.Errorf("insert output field: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "field.created", t.OrganizationID, "output_field", f.ID, actorID, events.EventPayload{"name": f.Name, "type": f.FieldType}); err != nil {
		return domain.OutputField{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.OutputField{}, err
	}
	return f, nil
}

func (e Engine) UpdateOutputField(ctx context.Context, f domain.OutputField, actorID string) (domain.OutputField, error) {
	if f.Name == "" {
		return domain.OutputField{}, errors.New("name is required")
	}
	if !validFieldType(f.FieldType) {
		return domain.OutputField{}, fmt.Errorf("invalid field_type %q", f.FieldType)
	}
	current, err := e.Repo.GetOutputField(ctx, f.ID)
	if err != nil {
		return domain.OutputField{}, err
	}
	f.TaskID = current.TaskID
	t, err := e.Repo.GetTask(ctx, f.TaskID)
	if err != nil {
		return domain.OutputField{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.OutputField{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateOutputField(ctx, tx, f); err != nil {
		return domain.OutputField{}, err
	}
	if err := e.Events.Append(ctx, tx, "field.updated", t.OrganizationID, "output_field", f.ID, actorID, events.EventPayload{"name": f.Name}); err != nil {
		return domain.OutputField{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.OutputField{}, err
	}
	return f, nil
}

func (e Engine) DeleteOutputField(ctx context.Context, id, actorID string) error {
	f, err := e.Repo.GetOutputField(ctx, id)
	if err != nil {
		return err
	}
	t, err := e.Repo.GetTask(ctx, f.TaskID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteOutputField(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "field.deleted", t.OrganizationID, "output_field", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// --- chat ---

func (e Engine) PostChatMessage(ctx context.Context, taskID, userID, message string) (domain.ChatMessage, error) {
	if message == "" {
		return domain.ChatMessage{}, errors.New("message is required")
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	defer tx.Rollback()
	m := domain.ChatMessage{
		TaskID:    taskID,
		UserID:    userID,
		Message:   message,
		Timestamp: e.nowString(),
	}
	id, err := e.Repo.InsertChatMessage(ctx, tx, m)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	m.ID = id
	if err := e.Events.Append(ctx, tx, "chat.message", t.OrganizationID, "task", taskID, userID, nil); err != nil {
		return domain.ChatMessage{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChatMessage{}, err
	}
	if u, err := e.Repo.GetUser(ctx, userID); err == nil {
		m.Username = u.Username
	}
	return m, nil
}

// --- api keys ---

// CreateAPIKey mints a key for a user and returns the secret once. Only the
// hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := uuid.NewString() + uuid.NewString()
	key := domain.APIKey{
		ID:        newID(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}
