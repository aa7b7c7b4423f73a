package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func setupCLIEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, name := range []string{
		"REDIS_URL", "UPSTASH_REDIS_REST_URL", "UPSTASH_REDIS_REST_TOKEN", "DATABASE_URL",
		"STRIPE_SECRET_KEY", "ANTHROPIC_API_KEY", "CVADAPT_DEFAULT_CREDITS", "CVADAPT_LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("CVADAPT_STORE_BACKEND", "file")
	t.Setenv("CVADAPT_STORE_PATH", filepath.Join(t.TempDir(), "store.json"))
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCreditsShowProvisionsDefaultBalance(t *testing.T) {
	setupCLIEnv(t)

	out, err := runCLI(t, "credits", "show", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice: 3 credits\n", out)
}

func TestCreditsGrantPersistsAcrossInvocations(t *testing.T) {
	setupCLIEnv(t)

	out, err := runCLI(t, "credits", "grant", "bob", "10", "--note", "support")
	require.NoError(t, err)
	assert.Equal(t, "bob: 13 credits\n", out)

	out, err = runCLI(t, "credits", "grant", "bob", "--", "-20")
	require.NoError(t, err)
	assert.Equal(t, "bob: 0 credits\n", out)

	out, err = runCLI(t, "--output", "yaml", "credits", "show", "bob")
	require.NoError(t, err)
	var view balanceView
	require.NoError(t, yaml.Unmarshal([]byte(out), &view))
	assert.Equal(t, balanceView{UserID: "bob", Credits: 0}, view)

	out, err = runCLI(t, "-o", "yaml", "credits", "history", "bob")
	require.NoError(t, err)
	var views []transactionView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, int64(-20), views[0].Delta)
	assert.Equal(t, int64(10), views[1].Delta)
	assert.Equal(t, "manual_adjustment", views[1].Reason)
	assert.Equal(t, "support", views[1].Metadata["note"])

	out, err = runCLI(t, "credits", "history", "bob", "--limit", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "-20")
}

func TestCreditsGrantRejectsBadDelta(t *testing.T) {
	setupCLIEnv(t)

	_, err := runCLI(t, "credits", "grant", "bob", "zero")
	require.Error(t, err)
	_, err = runCLI(t, "credits", "grant", "bob", "0")
	require.Error(t, err)
}

func TestUnknownOutputFormat(t *testing.T) {
	setupCLIEnv(t)

	_, err := runCLI(t, "--output", "xml", "credits", "show", "alice")
	require.Error(t, err)
}

func TestHistoryWithoutTransactions(t *testing.T) {
	setupCLIEnv(t)

	out, err := runCLI(t, "credits", "history", "carol")
	require.NoError(t, err)
	assert.Equal(t, "no transactions\n", out)
}
