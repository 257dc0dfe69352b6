package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"taskdesk/internal/engine"
	"taskdesk/internal/filestore"
	"taskdesk/internal/repo"
)

// maxSubmissionMemory bounds how much of a multipart body stays in memory;
// larger parts spill to temp files.
const maxSubmissionMemory = 4 << 20

// registerCompletionSubmit accepts the dynamic form as multipart/form-data;
// huma's typed bodies do not fit a schema that varies per task, so this is
// a raw route behind the same auth middleware.
func registerCompletionSubmit(r chi.Router, basePath string, e engine.Engine) {
	r.Post(path.Join(basePath, "tasks/{id}/completion"), func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		scope, err := e.Access.ScopeFor(ctx, p)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		task, err := e.Repo.GetTaskScoped(ctx, scope, chi.URLParam(req, "id"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		ok, err := e.CanComplete(ctx, p, task)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		if !ok {
			respondStatusError(w, newAPIError(http.StatusForbidden, "forbidden", "not assigned to this task", nil))
			return
		}

		if err := req.ParseMultipartForm(maxSubmissionMemory); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "multipart form required", nil))
			return
		}
		defer req.MultipartForm.RemoveAll()

		sub := engine.Submission{
			Values: req.MultipartForm.Value,
			Files:  map[string]*engine.FileUpload{},
		}
		var open []io.Closer
		defer func() {
			for _, c := range open {
				c.Close()
			}
		}()
		for fieldID, headers := range req.MultipartForm.File {
			if len(headers) == 0 {
				continue
			}
			h := headers[0]
			f, err := h.Open()
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "unreadable upload", nil))
				return
			}
			open = append(open, f)
			sub.Files[fieldID] = &engine.FileUpload{
				Filename: h.Filename,
				Size:     h.Size,
				Reader:   f,
			}
		}

		if err := e.SubmitCompletion(ctx, task, p.UserID, sub); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"saved"}`))
	})
}

// registerFileDownload streams a stored output file through the retrieval
// gate. Denied and missing are the same 404.
func registerFileDownload(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "outputs/{id}/file"), func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		o, err := e.FileAccess(ctx, p, chi.URLParam(req, "id"))
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "not found", nil))
				return
			}
			respondStatusError(w, handleError(err))
			return
		}
		f, err := e.Files.Open(o.FilePath)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "not found", nil))
			return
		}
		defer f.Close()

		name := o.OriginalFilename
		if name == "" {
			name = filepath.Base(o.FilePath)
		}
		ctype := mime.TypeByExtension(filepath.Ext(name))
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ctype)
		w.Header().Set("Content-Disposition", `attachment; filename="`+filestore.SanitizeFilename(name)+`"`)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		if o.FileSize != nil {
			w.Header().Set("Content-Length", strconv.FormatInt(*o.FileSize, 10))
		}
		io.Copy(w, f)
	})
}
