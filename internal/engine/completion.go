package engine

import (
	"context"
	"fmt"
	"io"

	"taskdesk/internal/access"
	"taskdesk/internal/domain"
	"taskdesk/internal/events"
	"taskdesk/internal/filestore"
	"taskdesk/internal/form"
	"taskdesk/internal/repo"
)

// FileUpload is one incoming file from a multipart submission.
type FileUpload struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

// Submission carries the raw values of a completion POST, keyed by output
// field id. Keys that match no field in the task's schema are ignored.
type Submission struct {
	Values map[string][]string
	Files  map[string]*FileUpload
}

// ValidationError reports every failed field of a submission at once.
// Values echoes what was submitted so a client can redisplay the form.
type ValidationError struct {
	Fields map[string][]string
	Values map[string][]string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %d field(s)", len(e.Fields))
}

// CanComplete is the submission entry gate: assigned to the task and inside
// its organization, or superuser. Viewers can read the task but not submit.
func (e Engine) CanComplete(ctx context.Context, p access.Principal, task domain.Task) (bool, error) {
	if p.Superuser {
		return true, nil
	}
	scope, err := e.Access.ScopeFor(ctx, p)
	if err != nil {
		return false, err
	}
	if !scope.Contains(task.OrganizationID) {
		return false, nil
	}
	return e.Repo.IsAssignee(ctx, task.ID, p.UserID)
}

// CompletionForm builds the runtime form for a task with the user's prior
// answers filled in. File fields surface stored-file metadata only.
func (e Engine) CompletionForm(ctx context.Context, task domain.Task, userID string) ([]form.Field, error) {
	schema, err := e.Repo.TaskFields(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	fields := form.Compile(schema)
	existing, err := e.Repo.TaskOutputsForUser(ctx, task.ID, userID)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		o, ok := existing[fields[i].ID]
		if !ok {
			continue
		}
		if fields[i].IsFile() {
			if o.FilePath != "" {
				info := form.FileInfo{OriginalFilename: o.OriginalFilename}
				if o.FileSize != nil {
					info.Size = *o.FileSize
				}
				fields[i].ExistingFile = &info
			}
			continue
		}
		fields[i].Initial = fields[i].Kind.Decode(o.ValueText)
	}
	return fields, nil
}

// pendingOutput is one row to upsert once validation has passed.
type pendingOutput struct {
	fieldID          string
	valueText        string
	filePath         string
	originalFilename string
	fileSize         *int64
	supersedes       string
}

// SubmitCompletion validates the whole submission, then persists all of it
// in one transaction or none of it. Validation reports every failed field,
// not just the first. New file blobs are written before the transaction and
// removed again if it fails; superseded blobs are deleted after commit,
// best effort.
func (e Engine) SubmitCompletion(ctx context.Context, task domain.Task, userID string, sub Submission) error {
	schema, err := e.Repo.TaskFields(ctx, task.ID)
	if err != nil {
		return err
	}
	fields := form.Compile(schema)
	existing, err := e.Repo.TaskOutputsForUser(ctx, task.ID, userID)
	if err != nil {
		return err
	}

	fieldErrs := map[string][]string{}
	var pending []pendingOutput

	for _, f := range fields {
		if f.IsFile() {
			upload := sub.Files[f.ID]
			prior, hasPrior := existing[f.ID]
			if upload == nil {
				if f.Required && (!hasPrior || prior.FilePath == "") {
					fieldErrs[f.ID] = append(fieldErrs[f.ID], "this field is required")
				}
				continue
			}
			if err := filestore.ValidateExtension(upload.Filename); err != nil {
				fieldErrs[f.ID] = append(fieldErrs[f.ID], err.Error())
				continue
			}
			if err := filestore.ValidateSize(upload.Size); err != nil {
				fieldErrs[f.ID] = append(fieldErrs[f.ID], err.Error())
				continue
			}
			p := pendingOutput{
				fieldID:          f.ID,
				originalFilename: filestore.SanitizeFilename(upload.Filename),
			}
			if hasPrior {
				p.supersedes = prior.FilePath
			}
			pending = append(pending, p)
			continue
		}

		values := sub.Values[f.ID]
		stored, ok, err := f.Kind.Validate(values)
		if err != nil {
			fieldErrs[f.ID] = append(fieldErrs[f.ID], err.Error())
			continue
		}
		if !ok {
			// Blank optional input. Prior answers survive unless the
			// installation opted into clearing them.
			if e.Config != nil && e.Config.Submissions.OverwriteBlank {
				if _, hasPrior := existing[f.ID]; hasPrior {
					pending = append(pending, pendingOutput{fieldID: f.ID})
				}
			}
			continue
		}
		pending = append(pending, pendingOutput{fieldID: f.ID, valueText: stored})
	}

	if len(fieldErrs) > 0 {
		return ValidationError{Fields: fieldErrs, Values: sub.Values}
	}

	// Write new blobs before touching the database.
	var newBlobs []string
	cleanup := func() {
		for _, rel := range newBlobs {
			if err := e.Files.Remove(rel); err != nil {
				e.logger().Printf("remove orphaned upload %s: %v", rel, err)
			}
		}
	}
	for i := range pending {
		p := &pending[i]
		upload := sub.Files[p.fieldID]
		if upload == nil || p.originalFilename == "" {
			continue
		}
		rel := filestore.OutputPath(task.OrganizationID, task.ID, userID, p.originalFilename)
		size, err := e.Files.Save(rel, upload.Reader)
		if err != nil {
			cleanup()
			return fmt.Errorf("store upload: %w", err)
		}
		newBlobs = append(newBlobs, rel)
		p.filePath = rel
		p.fileSize = &size
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		cleanup()
		return err
	}
	defer tx.Rollback()

	now := e.nowString()
	var superseded []string
	for _, p := range pending {
		o := domain.Output{
			ID:               newID(),
			OutputFieldID:    p.fieldID,
			UserID:           userID,
			ValueText:        p.valueText,
			FilePath:         p.filePath,
			OriginalFilename: p.originalFilename,
			FileSize:         p.fileSize,
			SubmittedAt:      now,
		}
		if err := e.Repo.UpsertOutputTx(ctx, tx, o); err != nil {
			cleanup()
			return fmt.Errorf("save output: %w", err)
		}
		if p.filePath != "" && p.supersedes != "" && p.supersedes != p.filePath {
			superseded = append(superseded, p.supersedes)
		}
	}
	if err := e.Events.Append(ctx, tx, "submission.saved", task.OrganizationID, "task", task.ID, userID, events.EventPayload{"fields": len(pending)}); err != nil {
		cleanup()
		return err
	}
	if err := tx.Commit(); err != nil {
		cleanup()
		return err
	}

	for _, rel := range superseded {
		if err := e.Files.Remove(rel); err != nil {
			e.logger().Printf("remove superseded file %s: %v", rel, err)
		}
	}
	return nil
}

// FileAccess gates retrieval of a stored output file. The owner and
// superusers always pass; anyone else needs the parent task's organization
// in scope plus an assignee or viewer listing. Denial is reported as
// ErrNotFound so callers cannot distinguish hidden from missing.
func (e Engine) FileAccess(ctx context.Context, p access.Principal, outputID string) (domain.Output, error) {
	o, err := e.Repo.GetOutput(ctx, outputID)
	if err != nil {
		return domain.Output{}, err
	}
	if o.FilePath == "" {
		return domain.Output{}, repo.ErrNotFound
	}
	if p.Superuser || o.UserID == p.UserID {
		return o, nil
	}
	f, err := e.Repo.GetOutputField(ctx, o.OutputFieldID)
	if err != nil {
		return domain.Output{}, repo.ErrNotFound
	}
	task, err := e.Repo.GetTask(ctx, f.TaskID)
	if err != nil {
		return domain.Output{}, repo.ErrNotFound
	}
	scope, err := e.Access.ScopeFor(ctx, p)
	if err != nil {
		return domain.Output{}, err
	}
	if !scope.Contains(task.OrganizationID) {
		return domain.Output{}, repo.ErrNotFound
	}
	assignee, err := e.Repo.IsAssignee(ctx, task.ID, p.UserID)
	if err != nil {
		return domain.Output{}, err
	}
	viewer, err := e.Repo.IsViewer(ctx, task.ID, p.UserID)
	if err != nil {
		return domain.Output{}, err
	}
	if !assignee && !viewer {
		return domain.Output{}, repo.ErrNotFound
	}
	return o, nil
}

// DeleteOutput removes one of the user's own answers and releases its blob.
func (e Engine) DeleteOutput(ctx context.Context, outputID, userID string) error {
	o, err := e.Repo.GetOutput(ctx, outputID)
	if err != nil {
		return err
	}
	orgID := ""
	if f, err := e.Repo.GetOutputField(ctx, o.OutputFieldID); err == nil {
		if t, err := e.Repo.GetTask(ctx, f.TaskID); err == nil {
			orgID = t.OrganizationID
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	filePath, err := e.Repo.DeleteOutput(ctx, tx, outputID, userID)
	if err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "output.deleted", orgID, "output", outputID, userID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if filePath != "" {
		if err := e.Files.Remove(filePath); err != nil {
			e.logger().Printf("remove deleted output file %s: %v", filePath, err)
		}
	}
	return nil
}
