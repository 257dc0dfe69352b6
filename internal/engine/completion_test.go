package engine_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"taskdesk/internal/access"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
)

type completionEnv struct {
	testEnv
	Org      domain.Organization
	Assignee domain.User
	Viewer   domain.User
	Task     domain.Task
	Fields   map[string]domain.OutputField
}

func newCompletionEnv(t *testing.T) completionEnv {
	t.Helper()
	env := newTestEnv(t)
	o := env.org(t, "Acme")
	assignee := env.user(t, "alice")
	viewer := env.user(t, "bob")
	role, err := env.Engine.CreateRole(env.Ctx, domain.Role{Name: "member", Permissions: []string{"task.view"}}, "test")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	for _, u := range []domain.User{assignee, viewer} {
		if _, err := env.Engine.AssignRole(env.Ctx, domain.Assignment{UserID: u.ID, OrganizationID: o.ID, RoleID: role.ID}, "test"); err != nil {
			t.Fatalf("assign role: %v", err)
		}
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{
		OrganizationID: o.ID,
		Name:           "Quarterly audit",
		AssignedUsers:  []string{assignee.ID},
		Viewers:        []string{viewer.ID},
		ActorID:        "test",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	min, max := 0.0, 100.0
	fields := map[string]domain.OutputField{}
	for _, f := range []domain.OutputField{
		{Name: "Summary", FieldType: domain.FieldText, Required: true, Position: 1},
		{Name: "Severity", FieldType: domain.FieldRadio, Options: "low,medium,high", Position: 2},
		{Name: "Areas", FieldType: domain.FieldCheckbox, Options: "finance,legal,it", Position: 3},
		{Name: "Score", FieldType: domain.FieldNumber, MinValue: &min, MaxValue: &max, Position: 4},
		{Name: "Report", FieldType: domain.FieldFile, Position: 5},
	} {
		f.TaskID = task.ID
		created, err := env.Engine.CreateOutputField(env.Ctx, f, "test")
		if err != nil {
			t.Fatalf("create field %s: %v", f.Name, err)
		}
		fields[f.Name] = created
	}
	return completionEnv{testEnv: env, Org: o, Assignee: assignee, Viewer: viewer, Task: task, Fields: fields}
}

func (env completionEnv) upload(name, content string) *engine.FileUpload {
	return &engine.FileUpload{Filename: name, Size: int64(len(content)), Reader: strings.NewReader(content)}
}

func TestCanComplete(t *testing.T) {
	env := newCompletionEnv(t)
	ok, err := env.Engine.CanComplete(env.Ctx, access.Principal{UserID: env.Assignee.ID}, env.Task)
	if err != nil || !ok {
		t.Fatalf("assignee: ok=%v err=%v", ok, err)
	}
	// A viewer can open the task but never submit.
	ok, err = env.Engine.CanComplete(env.Ctx, access.Principal{UserID: env.Viewer.ID}, env.Task)
	if err != nil || ok {
		t.Fatalf("viewer: ok=%v err=%v", ok, err)
	}
	ok, err = env.Engine.CanComplete(env.Ctx, access.Principal{UserID: "outsider", Superuser: true}, env.Task)
	if err != nil || !ok {
		t.Fatalf("superuser: ok=%v err=%v", ok, err)
	}
}

func TestSubmitCollectsAllErrors(t *testing.T) {
	env := newCompletionEnv(t)
	sub := engine.Submission{Values: map[string][]string{
		env.Fields["Score"].ID:    {"200"},
		env.Fields["Severity"].ID: {"catastrophic"},
	}}
	err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, sub)
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	for _, id := range []string{env.Fields["Summary"].ID, env.Fields["Score"].ID, env.Fields["Severity"].ID} {
		if len(verr.Fields[id]) == 0 {
			t.Fatalf("field %s missing from errors: %+v", id, verr.Fields)
		}
	}
	if got := verr.Values[env.Fields["Score"].ID]; len(got) != 1 || got[0] != "200" {
		t.Fatalf("submitted values not echoed: %+v", verr.Values)
	}
	// Failed validation persists nothing.
	outputs, err := env.Engine.Repo.TaskOutputsForUser(env.Ctx, env.Task.ID, env.Assignee.ID)
	if err != nil || len(outputs) != 0 {
		t.Fatalf("outputs after failure = %v, %v", outputs, err)
	}
}

func TestSubmitAndPrefill(t *testing.T) {
	env := newCompletionEnv(t)
	sub := engine.Submission{Values: map[string][]string{
		env.Fields["Summary"].ID: {"all clear"},
		env.Fields["Areas"].ID:   {"finance", "it"},
		env.Fields["Score"].ID:   {"87.5"},
		"not-a-field":            {"ignored"},
	}}
	if err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}

	fields, err := env.Engine.CompletionForm(env.Ctx, env.Task, env.Assignee.ID)
	if err != nil {
		t.Fatalf("form: %v", err)
	}
	byID := map[string][]string{}
	for _, f := range fields {
		byID[f.ID] = f.Initial
	}
	if got := byID[env.Fields["Areas"].ID]; len(got) != 2 || got[0] != "finance" || got[1] != "it" {
		t.Fatalf("checkbox initial = %v", got)
	}
	if got := byID[env.Fields["Score"].ID]; len(got) != 1 || got[0] != "87.5" {
		t.Fatalf("number initial = %v", got)
	}
	// Another user sees a blank form.
	fields, err = env.Engine.CompletionForm(env.Ctx, env.Task, env.Viewer.ID)
	if err != nil {
		t.Fatalf("form: %v", err)
	}
	for _, f := range fields {
		if len(f.Initial) != 0 {
			t.Fatalf("viewer saw initial %v on %s", f.Initial, f.Name)
		}
	}
}

func TestBlankOptionalKeepsPriorAnswer(t *testing.T) {
	env := newCompletionEnv(t)
	scoreID := env.Fields["Score"].ID
	summaryID := env.Fields["Summary"].ID

	first := engine.Submission{Values: map[string][]string{summaryID: {"v1"}, scoreID: {"50"}}}
	if err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, first); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second := engine.Submission{Values: map[string][]string{summaryID: {"v2"}, scoreID: {""}}}
	if err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, second); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	outputs, err := env.Engine.Repo.TaskOutputsForUser(env.Ctx, env.Task.ID, env.Assignee.ID)
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	if outputs[summaryID].ValueText != "v2" {
		t.Fatalf("summary = %q", outputs[summaryID].ValueText)
	}
	if outputs[scoreID].ValueText != "50" {
		t.Fatalf("blank optional clobbered score: %q", outputs[scoreID].ValueText)
	}

	// With the overwrite knob on, blanks clear prior answers.
	env.Engine.Config.Submissions.OverwriteBlank = true
	third := engine.Submission{Values: map[string][]string{summaryID: {"v3"}, scoreID: {""}}}
	if err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, third); err != nil {
		t.Fatalf("third submit: %v", err)
	}
	outputs, err = env.Engine.Repo.TaskOutputsForUser(env.Ctx, env.Task.ID, env.Assignee.ID)
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	if outputs[scoreID].ValueText != "" {
		t.Fatalf("score survived overwrite_blank: %q", outputs[scoreID].ValueText)
	}
}

func TestFileSubmissionLifecycle(t *testing.T) {
	env := newCompletionEnv(t)
	reportID := env.Fields["Report"].ID
	summaryID := env.Fields["Summary"].ID

	sub := engine.Submission{
		Values: map[string][]string{summaryID: {"with file"}},
		Files:  map[string]*engine.FileUpload{reportID: env.upload("Q1 Report.pdf", "first")},
	}
	if err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	outputs, err := env.Engine.Repo.TaskOutputsForUser(env.Ctx, env.Task.ID, env.Assignee.ID)
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	stored := outputs[reportID]
	if stored.OriginalFilename != "Q1_Report.pdf" {
		t.Fatalf("filename = %q", stored.OriginalFilename)
	}
	if stored.FileSize == nil || *stored.FileSize != 5 {
		t.Fatalf("size = %v", stored.FileSize)
	}
	firstPath := stored.FilePath

	f, err := env.Engine.Files.Open(firstPath)
	if err != nil {
		t.Fatalf("open blob: %v", err)
	}
	data, _ := io.ReadAll(f)
	f.Close()
	if string(data) != "first" {
		t.Fatalf("blob = %q", data)
	}

	// Resubmitting replaces the blob and deletes the superseded one.
	sub = engine.Submission{
		Values: map[string][]string{summaryID: {"with file"}},
		Files:  map[string]*engine.FileUpload{reportID: env.upload("Q2 Report.pdf", "second!")},
	}
	if err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, sub); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	outputs, _ = env.Engine.Repo.TaskOutputsForUser(env.Ctx, env.Task.ID, env.Assignee.ID)
	if outputs[reportID].FilePath == firstPath {
		t.Fatal("blob path not replaced")
	}
	if _, err := env.Engine.Files.Open(firstPath); err == nil {
		t.Fatal("superseded blob still present")
	}

	// The form shows stored-file metadata, never the content.
	fields, err := env.Engine.CompletionForm(env.Ctx, env.Task, env.Assignee.ID)
	if err != nil {
		t.Fatalf("form: %v", err)
	}
	for _, fld := range fields {
		if fld.ID != reportID {
			continue
		}
		if fld.ExistingFile == nil || fld.ExistingFile.OriginalFilename != "Q2_Report.pdf" {
			t.Fatalf("existing file = %+v", fld.ExistingFile)
		}
	}
}

func TestFileValidation(t *testing.T) {
	env := newCompletionEnv(t)
	reportID := env.Fields["Report"].ID
	summaryID := env.Fields["Summary"].ID

	sub := engine.Submission{
		Values: map[string][]string{summaryID: {"x"}},
		Files:  map[string]*engine.FileUpload{reportID: env.upload("malware.exe", "boom")},
	}
	err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, sub)
	var verr engine.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields[reportID]) == 0 {
		t.Fatalf("err = %v", err)
	}

	big := &engine.FileUpload{Filename: "huge.pdf", Size: 11 * 1024 * 1024, Reader: strings.NewReader("")}
	sub.Files[reportID] = big
	err = env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, sub)
	if !errors.As(err, &verr) || len(verr.Fields[reportID]) == 0 {
		t.Fatalf("oversize err = %v", err)
	}
}

func TestRequiredFileSatisfiedByPriorUpload(t *testing.T) {
	env := newCompletionEnv(t)
	reportID := env.Fields["Report"].ID
	summaryID := env.Fields["Summary"].ID
	if _, err := env.Engine.UpdateOutputField(env.Ctx, domain.OutputField{
		ID: reportID, TaskID: env.Task.ID, Name: "Report", FieldType: domain.FieldFile, Required: true, Position: 5,
	}, "test"); err != nil {
		t.Fatalf("make required: %v", err)
	}

	// Without any stored file the requirement fails.
	sub := engine.Submission{Values: map[string][]string{summaryID: {"x"}}}
	err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, sub)
	var verr engine.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields[reportID]) == 0 {
		t.Fatalf("err = %v", err)
	}

	sub.Files = map[string]*engine.FileUpload{reportID: env.upload("r.pdf", "data")}
	if err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, sub); err != nil {
		t.Fatalf("submit with file: %v", err)
	}
	// Resubmitting without a new upload keeps the stored one.
	sub.Files = nil
	if err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, sub); err != nil {
		t.Fatalf("resubmit without file: %v", err)
	}
}

func TestFileAccess(t *testing.T) {
	env := newCompletionEnv(t)
	reportID := env.Fields["Report"].ID
	summaryID := env.Fields["Summary"].ID
	sub := engine.Submission{
		Values: map[string][]string{summaryID: {"x"}},
		Files:  map[string]*engine.FileUpload{reportID: env.upload("r.pdf", "data")},
	}
	if err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	outputs, _ := env.Engine.Repo.TaskOutputsForUser(env.Ctx, env.Task.ID, env.Assignee.ID)
	fileOutput := outputs[reportID]
	textOutput := outputs[summaryID]

	// Owner, viewer on the task, and superuser pass.
	for _, p := range []access.Principal{
		{UserID: env.Assignee.ID},
		{UserID: env.Viewer.ID},
		{UserID: "root", Superuser: true},
	} {
		if _, err := env.Engine.FileAccess(env.Ctx, p, fileOutput.ID); err != nil {
			t.Fatalf("principal %+v denied: %v", p, err)
		}
	}

	// A user outside the organization is told the file does not exist.
	outsider := env.user(t, "eve")
	if _, err := env.Engine.FileAccess(env.Ctx, access.Principal{UserID: outsider.ID}, fileOutput.ID); err == nil {
		t.Fatal("outsider allowed")
	}

	// Text outputs have no file to fetch.
	if _, err := env.Engine.FileAccess(env.Ctx, access.Principal{UserID: env.Assignee.ID}, textOutput.ID); err == nil {
		t.Fatal("text output served as file")
	}
}

func TestDeleteOutputReleasesBlob(t *testing.T) {
	env := newCompletionEnv(t)
	reportID := env.Fields["Report"].ID
	summaryID := env.Fields["Summary"].ID
	sub := engine.Submission{
		Values: map[string][]string{summaryID: {"x"}},
		Files:  map[string]*engine.FileUpload{reportID: env.upload("r.pdf", "data")},
	}
	if err := env.Engine.SubmitCompletion(env.Ctx, env.Task, env.Assignee.ID, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}
	outputs, _ := env.Engine.Repo.TaskOutputsForUser(env.Ctx, env.Task.ID, env.Assignee.ID)
	o := outputs[reportID]

	// Only the owner may delete.
	if err := env.Engine.DeleteOutput(env.Ctx, o.ID, env.Viewer.ID); err == nil {
		t.Fatal("non-owner deleted an output")
	}
	if err := env.Engine.DeleteOutput(env.Ctx, o.ID, env.Assignee.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Files.Open(o.FilePath); err == nil {
		t.Fatal("blob survived delete")
	}
}
