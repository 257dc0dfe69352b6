package domain

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Superuser   bool   `json:"is_superuser"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Organization struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Department struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
}

// Role is a named, reusable permission bundle. Roles are global; scoping
// happens through the assignment that binds them to an organization.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Assignment binds a user to an organization with a role and an optional
// department. The (user, organization, department, role) tuple is unique.
type Assignment struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	OrganizationID string  `json:"organization_id"`
	DepartmentID   *string `json:"department_id,omitempty"`
	RoleID         string  `json:"role_id"`
}

type Task struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	DepartmentIDs  []string `json:"department_ids,omitempty"`
	AssignedUsers  []string `json:"assigned_users,omitempty"`
	Viewers        []string `json:"viewers,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	DueDate        *string  `json:"due_date,omitempty" format:"date-time"`
}

// Field types an output field may declare.
const (
	FieldText     = "text"
	FieldRadio    = "radio"
	FieldCheckbox = "checkbox"
	FieldYesNo    = "yesno"
	FieldNumber   = "number"
	FieldFile     = "file"
)

// OutputField defines one input of a task's completion form.
type OutputField struct {
	ID        string   `json:"id"`
	TaskID    string   `json:"task_id"`
	Name      string   `json:"name"`
	FieldType string   `json:"field_type" enum:"text,radio,checkbox,yesno,number,file"`
	Required  bool     `json:"required"`
	Options   string   `json:"options,omitempty"`
	MinValue  *float64 `json:"min_value,omitempty"`
	MaxValue  *float64 `json:"max_value,omitempty"`
	Position  int      `json:"position"`
}

// Output is one user's answer to one output field. At most one row exists
// per (output_field, user); resubmission updates the row in place.
type Output struct {
	ID               string `json:"id"`
	OutputFieldID    string `json:"output_field_id"`
	UserID           string `json:"user_id"`
	ValueText        string `json:"value_text,omitempty"`
	FilePath         string `json:"-"`
	OriginalFilename string `json:"original_filename,omitempty"`
	FileSize         *int64 `json:"file_size,omitempty"`
	SubmittedAt      string `json:"submitted_at" format:"date-time"`
}

type ChatMessage struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
