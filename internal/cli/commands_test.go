package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// modq runs the CLI against db and returns stdout and the error.
func modq(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", db}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is an object: %s", out)
	return data
}

func TestSubmitApproveShow(t *testing.T) {
	db := filepath.Join(t.TempDir(), "modq.db")

	out, err := modq(t, db, "submit", "--title", "Main Page", "--user", "192.0.2.7",
		"--ip", "192.0.2.7", "--text", "hello\n", "--tag", "mobile edit")
	require.NoError(t, err)
	assert.Equal(t, "queued edit of Main Page as #1\n", out)

	out, err = modq(t, db, "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 edit of Main_Page by 192.0.2.7")
	assert.Contains(t, out, "+hello")

	out, err = modq(t, db, "--format", "json", "approve", "1")
	require.NoError(t, err)
	data := decode(t, out)
	assert.Equal(t, float64(1), data["succeeded"])
	results := data["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, true, first["approved"])
	assert.Equal(t, true, first["created"])

	_, err = modq(t, db, "approve", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestApprove_DryRunListsConsequences(t *testing.T) {
	db := filepath.Join(t.TempDir(), "modq.db")
	_, err := modq(t, db, "submit", "--title", "Draft", "--user", "Alice", "--user-id", "3", "--text", "x\n")
	require.NoError(t, err)

	out, err := modq(t, db, "approve", "1", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run batch")
	assert.Contains(t, out, "would run install-approve-hook")
	assert.Contains(t, out, "would run approve-edit")
	assert.Contains(t, out, "would run mark-as-merged")

	out, err = modq(t, db, "--format", "json", "show", "1")
	require.NoError(t, err)
	data := decode(t, out)
	assert.Equal(t, float64(0), data["latest_rev_id"], "dry run did not create the page")
}

func TestApproveAll(t *testing.T) {
	db := filepath.Join(t.TempDir(), "modq.db")
	for _, title := range []string{"One", "Two"} {
		_, err := modq(t, db, "submit", "--title", title, "--user", "Bob", "--user-id", "4", "--text", title+"\n")
		require.NoError(t, err)
	}
	_, err := modq(t, db, "submit", "--title", "Three", "--user", "Carol", "--user-id", "5", "--text", "3\n")
	require.NoError(t, err)

	out, err := modq(t, db, "approveall", "Bob")
	require.NoError(t, err)
	assert.Contains(t, out, "2 of 2 approved")
}

func TestReject(t *testing.T) {
	db := filepath.Join(t.TempDir(), "modq.db")
	_, err := modq(t, db, "submit", "--title", "Spam", "--user", "198.51.100.1", "--text", "buy\n")
	require.NoError(t, err)

	out, err := modq(t, db, "reject", "1", "9")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "rejected #1")
	assert.Contains(t, out, "no queued change #9")

	out, err = modq(t, db, "approve", "1")
	require.Error(t, err)
	assert.Contains(t, out, "ALREADY_MERGED")
}

func TestOverride_WritesWithGivenMetadata(t *testing.T) {
	db := filepath.Join(t.TempDir(), "modq.db")

	out, err := modq(t, db, "--format", "json", "override", "--title", "Imported", "--user", "192.0.2.9",
		"--ip", "192.0.2.9", "--at", "20240101120000", "--tag", "imported", "--text", "body\n")
	require.NoError(t, err)
	data := decode(t, out)
	assert.Equal(t, true, data["created"])
	assert.Equal(t, float64(1), data["revision_id"])
}

func TestSubmit_ReadsTextFromStdin(t *testing.T) {
	db := filepath.Join(t.TempDir(), "modq.db")
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("from stdin\n"))
	cmd.SetArgs([]string{"--db", db, "submit", "--title", "Piped", "--user", "Alice", "--text-file", "-"})
	require.NoError(t, cmd.Execute())

	shown, err := modq(t, db, "show", "1")
	require.NoError(t, err)
	assert.Contains(t, shown, "+from stdin")
}

func TestCommandErrors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "modq.db")

	_, err := modq(t, db, "approve", "abc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = modq(t, db, "submit", "--title", "X", "--user", "Alice", "--at", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := modq(t, db, "show", "7")
	require.Error(t, err)
	assert.Contains(t, out, "Error [NOT_FOUND]")
}

func TestConfigAndPolicy(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "modq.db")

	policy := filepath.Join(dir, "rights.csv")
	require.NoError(t, os.WriteFile(policy, []byte("p, group:moderator, moderation\ng, Reviewer, group:moderator\n"), 0o644))

	reviewer := filepath.Join(dir, "reviewer.yaml")
	require.NoError(t, os.WriteFile(reviewer, []byte("moderator:\n  name: Reviewer\npolicy: "+policy+"\n"), 0o644))
	outsider := filepath.Join(dir, "outsider.yaml")
	require.NoError(t, os.WriteFile(outsider, []byte("moderator:\n  name: Outsider\npolicy: "+policy+"\n"), 0o644))

	_, err := modq(t, db, "submit", "--title", "Gate", "--user", "Alice", "--text", "x\n")
	require.NoError(t, err)

	_, err = modq(t, db, "--config", outsider, "approve", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "moderation")

	out, err := modq(t, db, "--config", reviewer, "approve", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 1 approved")

	_, err = modq(t, db, "--config", filepath.Join(dir, "missing.yaml"), "show", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
