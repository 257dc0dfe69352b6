package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
)

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body TaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		p, err := require(ctx, e, "task.add")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		// Task creators can only place tasks inside their own organizations.
		if !scope.Contains(input.Body.OrganizationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "not found", nil)
		}
		t, err := e.CreateTask(ctx, engine.TaskOptions{
			OrganizationID: input.Body.OrganizationID,
			Name:           input.Body.Name,
			Description:    input.Body.Description,
			DepartmentIDs:  input.Body.DepartmentIDs,
			AssignedUsers:  input.Body.AssignedUsers,
			Viewers:        input.Body.Viewers,
			DueDate:        input.Body.DueDate,
			ActorID:        p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List visible tasks",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		p, err := require(ctx, e, "task.view")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTasks(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-assigned-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/my/assigned",
		Summary:     "Tasks assigned to the caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTasksForUser(ctx, "task_assignees", p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-viewing-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/my/viewing",
		Summary:     "Tasks the caller is a viewer of",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTasksForUser(ctx, "task_viewers", p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		p, err := require(ctx, e, "task.view")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTaskScoped(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body TaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		p, err := require(ctx, e, "task.change")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		current, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !scope.Contains(current.OrganizationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "not found", nil)
		}
		orgID := input.Body.OrganizationID
		if orgID == "" {
			orgID = current.OrganizationID
		}
		if !scope.Contains(orgID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "not found", nil)
		}
		t, err := e.UpdateTask(ctx, engine.TaskOptions{
			ID:             input.ID,
			OrganizationID: orgID,
			Name:           input.Body.Name,
			Description:    input.Body.Description,
			DepartmentIDs:  input.Body.DepartmentIDs,
			AssignedUsers:  input.Body.AssignedUsers,
			Viewers:        input.Body.Viewers,
			DueDate:        input.Body.DueDate,
			ActorID:        p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		p, err := require(ctx, e, "task.delete")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		current, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !scope.Contains(current.OrganizationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "not found", nil)
		}
		if err := e.DeleteTask(ctx, input.ID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerOutputFields(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-output-field",
		Method:        http.MethodPost,
		Path:          "/output-fields",
		Summary:       "Add a field to a task's completion form",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body OutputFieldRequest `json:"body"`
	}) (*struct {
		Body domain.OutputField `json:"body"`
	}, error) {
		p, err := require(ctx, e, "outputfield.add")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTask(ctx, input.Body.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if !scope.Contains(t.OrganizationID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "not found", nil)
		}
		f, err := e.CreateOutputField(ctx, domain.OutputField{
			TaskID:    input.Body.TaskID,
			Name:      input.Body.Name,
			FieldType: input.Body.FieldType,
			Required:  input.Body.Required,
			Options:   input.Body.Options,
			MinValue:  input.Body.MinValue,
			MaxValue:  input.Body.MaxValue,
			Position:  input.Body.Position,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OutputField `json:"body"`
		}{Body: f}, nil
	})

	// List and detail only require a login plus the scope filter.
	huma.Register(api, huma.Operation{
		OperationID: "list-output-fields",
		Method:      http.MethodGet,
		Path:        "/output-fields",
		Summary:     "List output fields",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TaskID string `query:"task_id"`
	}) (*struct {
		Body []domain.OutputField `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		if input.TaskID != "" {
			t, err := e.Repo.GetTask(ctx, input.TaskID)
			if err != nil {
				return nil, handleError(err)
			}
			if !scope.Contains(t.OrganizationID) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "not found", nil)
			}
			fields, err := e.Repo.TaskFields(ctx, input.TaskID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body []domain.OutputField `json:"body"`
			}{Body: fields}, nil
		}
		fields, err := e.Repo.ListOutputFields(ctx, scope)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.OutputField `json:"body"`
		}{Body: fields}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-output-field",
		Method:      http.MethodGet,
		Path:        "/output-fields/{id}",
		Summary:     "Get output field",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.OutputField `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		f, err := e.Repo.GetOutputFieldScoped(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OutputField `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-output-field",
		Method:      http.MethodPut,
		Path:        "/output-fields/{id}",
		Summary:     "Update output field",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body OutputFieldRequest `json:"body"`
	}) (*struct {
		Body domain.OutputField `json:"body"`
	}, error) {
		p, err := require(ctx, e, "outputfield.change")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetOutputFieldScoped(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		f, err := e.UpdateOutputField(ctx, domain.OutputField{
			ID:        input.ID,
			Name:      input.Body.Name,
			FieldType: input.Body.FieldType,
			Required:  input.Body.Required,
			Options:   input.Body.Options,
			MinValue:  input.Body.MinValue,
			MaxValue:  input.Body.MaxValue,
			Position:  input.Body.Position,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OutputField `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-output-field",
		Method:      http.MethodDelete,
		Path:        "/output-fields/{id}",
		Summary:     "Delete output field",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		p, err := require(ctx, e, "outputfield.delete")
		if err != nil {
			return nil, handleError(err)
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetOutputFieldScoped(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteOutputField(ctx, input.ID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerOutputs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-my-outputs",
		Method:      http.MethodGet,
		Path:        "/outputs/my",
		Summary:     "The caller's submitted outputs",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Output `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListUserOutputs(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Output `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-my-output",
		Method:      http.MethodGet,
		Path:        "/outputs/{id}",
		Summary:     "Get one of the caller's outputs",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Output `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.Repo.GetOutput(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if o.UserID != p.UserID && !p.Superuser {
			return nil, newAPIError(http.StatusNotFound, "not_found", "not found", nil)
		}
		return &struct {
			Body domain.Output `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-my-output",
		Method:      http.MethodDelete,
		Path:        "/outputs/{id}",
		Summary:     "Delete one of the caller's outputs",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteOutput(ctx, input.ID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCompletionForm(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-completion-form",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/completion",
		Summary:     "Completion form with the caller's prior answers",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CompletionFormResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTaskScoped(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		ok, err := e.CanComplete(ctx, p, t)
		if err != nil {
			return nil, handleError(err)
		}
		if !ok {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "not assigned to this task", nil)
		}
		fields, err := e.CompletionForm(ctx, t, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletionFormResponse `json:"body"`
		}{Body: completionFormResponse(t, fields)}, nil
	})
}

func registerChat(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-chat-messages",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/chat",
		Summary:     "Task chat history",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.ChatMessage `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListChatMessages(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ChatMessage `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-chat-message",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/chat",
		Summary:       "Append a chat message",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body ChatMessageRequest `json:"body"`
	}) (*struct {
		Body domain.ChatMessage `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.PostChatMessage(ctx, input.ID, p.UserID, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChatMessage `json:"body"`
		}{Body: m}, nil
	})
}
