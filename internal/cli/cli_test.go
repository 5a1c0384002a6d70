package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRootCmdHasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "run", "start", "pause", "stop", "status", "score", "import", "reset", "settings", "agent"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
	if root.PersistentFlags().Lookup("server") == nil {
		t.Fatalf("expected --server persistent flag")
	}
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CAMPAIGN_STATE_BACKEND", "sqlite")
	t.Setenv("CAMPAIGN_SQLITE_PATH", filepath.Join(dir, "state.db"))
	t.Setenv("CAMPAIGN_MAILBOX_PROBE", "false")
	t.Setenv("CAMPAIGN_RULES_FILE", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	base := []string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-level", "error", "--log-format", "json"}
	root.SetArgs(append(base, args...))
	err := root.Execute()
	return buf.String(), err
}

func TestImportStatusAndScore(t *testing.T) {
	dir := setupEnv(t)
	file := filepath.Join(dir, "leads.csv")
	csv := "name,email,company\nJan Jansen,jan.jansen@marriott.com,Marriott\nInfo,info@hotel-amsterdam.com,Hotel\n"
	if err := os.WriteFile(file, []byte(csv), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	out, err := execute(t, "import", file, "--subject", "Hello {{firstName}}", "--content", "Hi")
	if err != nil {
		t.Fatalf("import failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "leads") || !strings.Contains(out, "[draft]") {
		t.Fatalf("unexpected import output:\n%s", out)
	}
	id := strings.Fields(strings.SplitN(out, "\n", 3)[2])[0]

	out, err = execute(t, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "1 campaigns, 2 recipients") {
		t.Fatalf("unexpected status output:\n%s", out)
	}

	out, err = execute(t, "score", id)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if !strings.Contains(out, "info@hotel-amsterdam.com") {
		t.Fatalf("score output misses recipient:\n%s", out)
	}

	out, err = execute(t, "pause", id)
	if err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if !strings.Contains(out, "[paused]") {
		t.Fatalf("expected paused status:\n%s", out)
	}
}

func TestSettingsCommand(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "settings", "--sender", "sales@example.com", "--name", "Sales", "--delay", "3")
	if err != nil {
		t.Fatalf("settings failed: %v", err)
	}
	if !strings.Contains(out, "Sales <sales@example.com>") || !strings.Contains(out, "3s") {
		t.Fatalf("unexpected settings output:\n%s", out)
	}
	out, err = execute(t, "settings")
	if err != nil {
		t.Fatalf("settings read failed: %v", err)
	}
	if !strings.Contains(out, "Sales <sales@example.com>") {
		t.Fatalf("settings were not persisted:\n%s", out)
	}
	if _, err := execute(t, "settings", "--delay", "0"); err == nil {
		t.Fatalf("expected error for non-positive delay")
	}
}

func TestStartWithoutServerFails(t *testing.T) {
	setupEnv(t)
	if _, err := execute(t, "start", "abc"); err == nil {
		t.Fatalf("start without --server should fail")
	}
}

func TestRemoteControl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == "/campaigns/done/start" {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "campaign already completed"})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"campaignId": "c1", "generation": 2})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "start", "c1")
	if err != nil {
		t.Fatalf("remote start failed: %v", err)
	}
	if !strings.Contains(out, `"generation":2`) {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := execute(t, "--server", srv.URL, "start", "done"); err == nil || !strings.Contains(err.Error(), "already completed") {
		t.Fatalf("expected conflict error, got %v", err)
	}
}
