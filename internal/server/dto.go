package server

import (
	"taskdesk/internal/domain"
	"taskdesk/internal/form"
)

// Request payloads

type OrganizationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type DepartmentRequest struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
}

type RoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type AssignmentRequest struct {
	UserID         string  `json:"user_id"`
	OrganizationID string  `json:"organization_id"`
	DepartmentID   *string `json:"department_id,omitempty"`
	RoleID         string  `json:"role_id"`
}

type UserRequest struct {
	Username    string `json:"username"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type TaskRequest struct {
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	DepartmentIDs  []string `json:"department_ids,omitempty"`
	AssignedUsers  []string `json:"assigned_users,omitempty"`
	Viewers        []string `json:"viewers,omitempty"`
	DueDate        *string  `json:"due_date,omitempty" format:"date-time"`
}

type OutputFieldRequest struct {
	TaskID    string   `json:"task_id,omitempty"`
	Name      string   `json:"name"`
	FieldType string   `json:"field_type" enum:"text,radio,checkbox,yesno,number,file"`
	Required  bool     `json:"required,omitempty"`
	Options   string   `json:"options,omitempty"`
	MinValue  *float64 `json:"min_value,omitempty"`
	MaxValue  *float64 `json:"max_value,omitempty"`
	Position  int      `json:"position,omitempty"`
}

type ChatMessageRequest struct {
	Message string `json:"message"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	Username string `json:"username"`
}

// Response payloads

type WhoAmIResponse struct {
	UserID          string   `json:"user_id"`
	Superuser       bool     `json:"superuser"`
	Permissions     []string `json:"permissions"`
	OrganizationIDs []string `json:"organization_ids,omitempty"`
}

type OrgFormDataResponse struct {
	Departments []domain.Department `json:"departments"`
	Users       []domain.User       `json:"users"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

type APIKeyCreatedResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// CompletionFieldResponse is one input of the rendered completion form.
type CompletionFieldResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Required     bool      `json:"required"`
	Options      []string  `json:"options,omitempty"`
	MinValue     *float64  `json:"min_value,omitempty"`
	MaxValue     *float64  `json:"max_value,omitempty"`
	Initial      []string  `json:"initial,omitempty"`
	ExistingFile *FileInfo `json:"existing_file,omitempty"`
}

type FileInfo struct {
	OriginalFilename string `json:"original_filename"`
	Size             int64  `json:"size"`
}

type CompletionFormResponse struct {
	TaskID   string                    `json:"task_id"`
	TaskName string                    `json:"task_name"`
	Fields   []CompletionFieldResponse `json:"fields"`
}

func completionFormResponse(t domain.Task, fields []form.Field) CompletionFormResponse {
	out := CompletionFormResponse{TaskID: t.ID, TaskName: t.Name}
	for _, f := range fields {
		resp := CompletionFieldResponse{
			ID:       f.ID,
			Name:     f.Name,
			Type:     f.Type,
			Required: f.Required,
			Options:  f.Options,
			MinValue: f.MinValue,
			MaxValue: f.MaxValue,
			Initial:  f.Initial,
		}
		if f.ExistingFile != nil {
			resp.ExistingFile = &FileInfo{
				OriginalFilename: f.ExistingFile.OriginalFilename,
				Size:             f.ExistingFile.Size,
			}
		}
		out.Fields = append(out.Fields, resp)
	}
	return out
}
