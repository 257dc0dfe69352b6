package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
)

func registerOrganizations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-organization",
		Method:        http.MethodPost,
		Path:          "/organizations",
		Summary:       "Create organization",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body OrganizationRequest `json:"body"`
	}) (*struct {
		Body domain.Organization `json:"body"`
	}, error) {
		p, err := require(ctx, e, "organization.add")
		if err != nil {
			return nil, handleError(err)
		}
		o, err := e.CreateOrganization(ctx, input.Body.Name, input.Body.Description, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Organization `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-organizations",
		Method:      http.MethodGet,
		Path:        "/organizations",
		Summary:     "List organizations",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Organization `json:"body"`
	}, error) {
		p, err := require(ctx, e, "organization.view")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListOrganizations(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Organization `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-organization",
		Method:      http.MethodGet,
		Path:        "/organizations/{id}",
		Summary:     "Get organization",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Organization `json:"body"`
	}, error) {
		p, err := require(ctx, e, "organization.view")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		o, err := e.Repo.GetOrganization(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Organization `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-organization",
		Method:      http.MethodPut,
		Path:        "/organizations/{id}",
		Summary:     "Update organization",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body OrganizationRequest `json:"body"`
	}) (*struct {
		Body domain.Organization `json:"body"`
	}, error) {
		p, err := require(ctx, e, "organization.change")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetOrganization(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		o, err := e.UpdateOrganization(ctx, domain.Organization{
			ID:          input.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Organization `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-organization",
		Method:      http.MethodDelete,
		Path:        "/organizations/{id}",
		Summary:     "Delete organization",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		p, err := require(ctx, e, "organization.delete")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetOrganization(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteOrganization(ctx, input.ID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	// Dependent form data for task editors: the organization's departments
	// and members. Authenticated but not scope narrowed.
	huma.Register(api, huma.Operation{
		OperationID: "organization-form-data",
		Method:      http.MethodGet,
		Path:        "/organizations/{id}/form-data",
		Summary:     "Departments and members of an organization",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body OrgFormDataResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetOrganization(ctx, allScope(), input.ID); err != nil {
			return nil, handleError(err)
		}
		depts, err := e.Repo.ListDepartments(ctx, allScope(), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		members, err := e.Repo.OrgMembers(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrgFormDataResponse `json:"body"`
		}{Body: OrgFormDataResponse{Departments: depts, Users: members}}, nil
	})
}

func registerDepartments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-department",
		Method:        http.MethodPost,
		Path:          "/departments",
		Summary:       "Create department",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body DepartmentRequest `json:"body"`
	}) (*struct {
		Body domain.Department `json:"body"`
	}, error) {
		p, err := require(ctx, e, "department.add")
		if err != nil {
			return nil, handleError(err)
		}
		d, err := e.CreateDepartment(ctx, domain.Department{
			OrganizationID: input.Body.OrganizationID,
			Name:           input.Body.Name,
			Description:    input.Body.Description,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Department `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-departments",
		Method:      http.MethodGet,
		Path:        "/departments",
		Summary:     "List departments",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrganizationID string `query:"organization_id"`
	}) (*struct {
		Body []domain.Department `json:"body"`
	}, error) {
		p, err := require(ctx, e, "department.view")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDepartments(ctx, scope, input.OrganizationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Department `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-department",
		Method:      http.MethodGet,
		Path:        "/departments/{id}",
		Summary:     "Get department",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Department `json:"body"`
	}, error) {
		p, err := require(ctx, e, "department.view")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		d, err := e.Repo.GetDepartment(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Department `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-department",
		Method:      http.MethodPut,
		Path:        "/departments/{id}",
		Summary:     "Update department",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body DepartmentRequest `json:"body"`
	}) (*struct {
		Body domain.Department `json:"body"`
	}, error) {
		p, err := require(ctx, e, "department.change")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetDepartment(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		d, err := e.UpdateDepartment(ctx, domain.Department{
			ID:          input.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Department `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-department",
		Method:      http.MethodDelete,
		Path:        "/departments/{id}",
		Summary:     "Delete department",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		p, err := require(ctx, e, "department.delete")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetDepartment(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteDepartment(ctx, input.ID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerRoles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-role",
		Method:        http.MethodPost,
		Path:          "/roles",
		Summary:       "Create role",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RoleRequest `json:"body"`
	}) (*struct {
		Body domain.Role `json:"body"`
	}, error) {
		p, err := require(ctx, e, "role.add")
		if err != nil {
			return nil, handleError(err)
		}
		role, err := e.CreateRole(ctx, domain.Role{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Permissions: input.Body.Permissions,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Role `json:"body"`
		}{Body: role}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List roles",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Role `json:"body"`
	}, error) {
		if _, err := require(ctx, e, "role.view"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListRoles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Role `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-role",
		Method:      http.MethodGet,
		Path:        "/roles/{id}",
		Summary:     "Get role",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Role `json:"body"`
	}, error) {
		if _, err := require(ctx, e, "role.view"); err != nil {
			return nil, handleError(err)
		}
		role, err := e.Repo.GetRole(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Role `json:"body"`
		}{Body: role}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-role",
		Method:      http.MethodPut,
		Path:        "/roles/{id}",
		Summary:     "Update role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body RoleRequest `json:"body"`
	}) (*struct {
		Body domain.Role `json:"body"`
	}, error) {
		p, err := require(ctx, e, "role.change")
		if err != nil {
			return nil, handleError(err)
		}
		role, err := e.UpdateRole(ctx, domain.Role{
			ID:          input.ID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Permissions: input.Body.Permissions,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Role `json:"body"`
		}{Body: role}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-role",
		Method:      http.MethodDelete,
		Path:        "/roles/{id}",
		Summary:     "Delete role",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		p, err := require(ctx, e, "role.delete")
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteRole(ctx, input.ID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-assignment",
		Method:        http.MethodPost,
		Path:          "/assignments",
		Summary:       "Assign a role to a user in an organization",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body AssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		p, err := require(ctx, e, "assignment.add")
		if err != nil {
			return nil, handleError(err)
		}
		a, err := e.AssignRole(ctx, domain.Assignment{
			UserID:         input.Body.UserID,
			OrganizationID: input.Body.OrganizationID,
			DepartmentID:   input.Body.DepartmentID,
			RoleID:         input.Body.RoleID,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments",
		Summary:     "List role assignments",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body []domain.Assignment `json:"body"`
	}, error) {
		p, err := require(ctx, e, "assignment.view")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAssignments(ctx, scope, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Assignment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assignment",
		Method:      http.MethodGet,
		Path:        "/assignments/{id}",
		Summary:     "Get assignment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		p, err := require(ctx, e, "assignment.view")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetAssignment(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-assignment",
		Method:      http.MethodDelete,
		Path:        "/assignments/{id}",
		Summary:     "Remove a role assignment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		p, err := require(ctx, e, "assignment.delete")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetAssignment(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := e.UnassignRole(ctx, input.ID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body UserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		p, err := require(ctx, e, "user.add")
		if err != nil {
			return nil, handleError(err)
		}
		u, err := e.CreateUser(ctx, domain.User{
			Username:    input.Body.Username,
			FirstName:   input.Body.FirstName,
			LastName:    input.Body.LastName,
			Email:       input.Body.Email,
			PhoneNumber: input.Body.PhoneNumber,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		p, err := require(ctx, e, "user.view")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListUsers(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if _, err := require(ctx, e, "user.view"); err != nil {
			return nil, handleError(err)
		}
		u, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPut,
		Path:        "/users/{id}",
		Summary:     "Update user",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body UserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		p, err := require(ctx, e, "user.change")
		if err != nil {
			return nil, handleError(err)
		}
		current, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		u, err := e.UpdateUser(ctx, domain.User{
			ID:          input.ID,
			Username:    input.Body.Username,
			FirstName:   input.Body.FirstName,
			LastName:    input.Body.LastName,
			Email:       input.Body.Email,
			PhoneNumber: input.Body.PhoneNumber,
			Superuser:   current.Superuser,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-user",
		Method:      http.MethodDelete,
		Path:        "/users/{id}",
		Summary:     "Delete user",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		p, err := require(ctx, e, "user.delete")
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteUser(ctx, input.ID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
