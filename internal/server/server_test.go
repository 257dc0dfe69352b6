package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"testing"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/filestore"
	"taskdesk/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client

	OrgA    domain.Organization
	OrgB    domain.Organization
	Admin   domain.User
	Alice   domain.User // assignee in OrgA
	Bob     domain.User // viewer in OrgA
	Eve     domain.User // member of OrgB only
	TaskA   domain.Task
	TaskB   domain.Task
	Summary domain.OutputField
	Report  domain.OutputField
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(workspace)
	e := engine.New(conn, cfg, filestore.Store{Root: cfg.Storage.Root})
	ctx := context.Background()

	ts := &testServer{Engine: e, client: &http.Client{}}
	mustUser := func(username string, super bool) domain.User {
		u, err := e.CreateUser(ctx, domain.User{Username: username, Superuser: super}, "seed")
		if err != nil {
			t.Fatalf("create user %s: %v", username, err)
		}
		return u
	}
	ts.Admin = mustUser("admin", true)
	ts.Alice = mustUser("alice", false)
	ts.Bob = mustUser("bob", false)
	ts.Eve = mustUser("eve", false)

	if ts.OrgA, err = e.CreateOrganization(ctx, "Org A", "", "seed"); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if ts.OrgB, err = e.CreateOrganization(ctx, "Org B", "", "seed"); err != nil {
		t.Fatalf("create org: %v", err)
	}

	member, err := e.CreateRole(ctx, domain.Role{Name: "member", Permissions: []string{"task.view"}}, "seed")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	for _, a := range []domain.Assignment{
		{UserID: ts.Alice.ID, OrganizationID: ts.OrgA.ID, RoleID: member.ID},
		{UserID: ts.Bob.ID, OrganizationID: ts.OrgA.ID, RoleID: member.ID},
		{UserID: ts.Eve.ID, OrganizationID: ts.OrgB.ID, RoleID: member.ID},
	} {
		if _, err := e.AssignRole(ctx, a, "seed"); err != nil {
			t.Fatalf("assign role: %v", err)
		}
	}

	if ts.TaskA, err = e.CreateTask(ctx, engine.TaskOptions{
		OrganizationID: ts.OrgA.ID,
		Name:           "Audit",
		AssignedUsers:  []string{ts.Alice.ID},
		Viewers:        []string{ts.Bob.ID},
		ActorID:        "seed",
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if ts.TaskB, err = e.CreateTask(ctx, engine.TaskOptions{
		OrganizationID: ts.OrgB.ID,
		Name:           "Other audit",
		ActorID:        "seed",
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if ts.Summary, err = e.CreateOutputField(ctx, domain.OutputField{
		TaskID: ts.TaskA.ID, Name: "Summary", FieldType: domain.FieldText, Required: true, Position: 1,
	}, "seed"); err != nil {
		t.Fatalf("create field: %v", err)
	}
	if ts.Report, err = e.CreateOutputField(ctx, domain.OutputField{
		TaskID: ts.TaskA.ID, Name: "Report", FieldType: domain.FieldFile, Position: 2,
	}, "seed"); err != nil {
		t.Fatalf("create field: %v", err)
	}

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: "test-secret", DevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts.URL = "http://" + ln.Addr().String()
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/auth/dev/login", "", map[string]string{"username": username})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dev login %s: %d %s", username, resp.StatusCode, body)
	}
	var out DevLoginResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return out.Token
}

func TestRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, body)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}

	// Health stays open.
	resp, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
}

func TestRejectsGarbageToken(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestWhoAmI(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "alice")
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/me/permissions", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.UserID != ts.Alice.ID || me.Superuser {
		t.Fatalf("me = %+v", me)
	}
	if len(me.Permissions) != 1 || me.Permissions[0] != "task.view" {
		t.Fatalf("permissions = %v", me.Permissions)
	}
	if len(me.OrganizationIDs) != 1 || me.OrganizationIDs[0] != ts.OrgA.ID {
		t.Fatalf("orgs = %v", me.OrganizationIDs)
	}
}

func TestPermissionDenied(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "alice")
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/tasks", token, TaskRequest{
		OrganizationID: ts.OrgA.ID,
		Name:           "Forbidden",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "task.add") {
		t.Fatalf("error does not name the permission: %s", body)
	}
}

func TestTaskListIsScoped(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t, "alice")
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var tasks []domain.Task
	if err := json.Unmarshal(body, &tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != ts.TaskA.ID {
		t.Fatalf("tasks = %+v", tasks)
	}

	// A task in another organization reads as missing, not forbidden.
	resp, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks/"+ts.TaskB.ID, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-org get = %d", resp.StatusCode)
	}

	// The superuser sees both.
	admin := ts.login(t, "admin")
	resp, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin list = %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &tasks); err != nil || len(tasks) != 2 {
		t.Fatalf("admin tasks = %+v (%v)", tasks, err)
	}
}

func TestMyTaskLists(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.login(t, "alice")
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks/my/assigned", alice, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var tasks []domain.Task
	if err := json.Unmarshal(body, &tasks); err != nil || len(tasks) != 1 || tasks[0].ID != ts.TaskA.ID {
		t.Fatalf("assigned = %+v (%v)", tasks, err)
	}

	bob := ts.login(t, "bob")
	resp, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks/my/viewing", bob, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &tasks); err != nil || len(tasks) != 1 || tasks[0].ID != ts.TaskA.ID {
		t.Fatalf("viewing = %+v (%v)", tasks, err)
	}
}

func (ts *testServer) submitMultipart(t *testing.T, token string, values map[string]string, fileField, filename, content string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range values {
		w.WriteField(k, v)
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		io.Copy(part, strings.NewReader(content))
	}
	w.Close()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/tasks/"+ts.TaskA.ID+"/completion", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func TestCompletionFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.login(t, "alice")

	// Missing required field: every problem comes back at once.
	resp, body := ts.submitMultipart(t, alice, nil, "", "", "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid submit = %d, body %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), ts.Summary.ID) {
		t.Fatalf("missing field not reported: %s", body)
	}

	resp, body = ts.submitMultipart(t, alice, map[string]string{ts.Summary.ID: "done"}, ts.Report.ID, "findings.pdf", "pdf-bytes")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit = %d, body %s", resp.StatusCode, body)
	}

	// The form comes back prefilled.
	resp, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks/"+ts.TaskA.ID+"/completion", alice, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("form = %d, body %s", resp.StatusCode, body)
	}
	var form CompletionFormResponse
	if err := json.Unmarshal(body, &form); err != nil {
		t.Fatalf("decode form: %v", err)
	}
	if form.TaskID != ts.TaskA.ID || len(form.Fields) != 2 {
		t.Fatalf("form = %+v", form)
	}
	for _, f := range form.Fields {
		switch f.ID {
		case ts.Summary.ID:
			if len(f.Initial) != 1 || f.Initial[0] != "done" {
				t.Fatalf("summary initial = %v", f.Initial)
			}
		case ts.Report.ID:
			if f.ExistingFile == nil || f.ExistingFile.OriginalFilename != "findings.pdf" {
				t.Fatalf("report existing file = %+v", f.ExistingFile)
			}
		}
	}

	// A viewer can open the form but not submit.
	bob := ts.login(t, "bob")
	resp, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks/"+ts.TaskA.ID+"/completion", bob, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer form = %d", resp.StatusCode)
	}
	resp, _ = ts.submitMultipart(t, bob, map[string]string{ts.Summary.ID: "hijack"}, "", "", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer submit = %d", resp.StatusCode)
	}
}

func TestFileDownloadGate(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.login(t, "alice")
	resp, body := ts.submitMultipart(t, alice, map[string]string{ts.Summary.ID: "done"}, ts.Report.ID, "findings.pdf", "pdf-bytes")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit = %d, body %s", resp.StatusCode, body)
	}
	outputs, err := ts.Engine.Repo.TaskOutputsForUser(context.Background(), ts.TaskA.ID, ts.Alice.ID)
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	fileID := outputs[ts.Report.ID].ID

	// Owner and task viewer download; the org-B member gets a 404.
	for user, want := range map[string]int{
		"alice": http.StatusOK,
		"bob":   http.StatusOK,
		"eve":   http.StatusNotFound,
	} {
		token := ts.login(t, user)
		resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/outputs/"+fileID+"/file", token, nil)
		if resp.StatusCode != want {
			t.Fatalf("%s download = %d, want %d", user, resp.StatusCode, want)
		}
		if want != http.StatusOK {
			continue
		}
		if string(body) != "pdf-bytes" {
			t.Fatalf("content = %q", body)
		}
		if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "findings.pdf") {
			t.Fatalf("disposition = %q", cd)
		}
	}
}

func TestChatThreadOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.login(t, "alice")
	bob := ts.login(t, "bob")

	for _, m := range []struct {
		token, text string
	}{
		{alice, "starting now"},
		{bob, "watching"},
	} {
		resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/tasks/"+ts.TaskA.ID+"/chat", m.token, ChatMessageRequest{Message: m.text})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("post = %d, body %s", resp.StatusCode, body)
		}
	}

	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks/"+ts.TaskA.ID+"/chat", alice, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get = %d", resp.StatusCode)
	}
	var msgs []domain.ChatMessage
	if err := json.Unmarshal(body, &msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Message != "starting now" || msgs[1].Username != "bob" {
		t.Fatalf("thread = %+v", msgs)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ts := newTestServer(t)
	_, secret, err := ts.Engine.CreateAPIKey(context.Background(), ts.Alice.ID, "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/me/permissions", nil)
	req.Header.Set("X-Api-Key", secret)
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var me WhoAmIResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.UserID != ts.Alice.ID {
		t.Fatalf("me = %+v", me)
	}
}
