package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripsync/auth"
	"tripsync/collab"
	"tripsync/config"
	"tripsync/mq/mq"
	"tripsync/trip"
)

func TestServiceOptions(t *testing.T) {
	opts, err := serviceOptions(config.Config{ConflictPolicy: "version", VotePolicy: "no_self_vote", SettleStrategy: "by_magnitude"})
	require.NoError(t, err)
	assert.Equal(t, collab.VersionChecked, opts.Policy)
	assert.Equal(t, trip.VoteNoSelfVote, opts.Votes.Name())
	assert.NotNil(t, opts.SettleStrategy)

	assert.Zero(t, opts.IdleTTL)

	opts, err = serviceOptions(config.Config{PoolIdleTTL: time.Minute, PoolMaxReplicas: 16})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, opts.IdleTTL)
	assert.Equal(t, 16, opts.MaxReplicas)

	_, err = serviceOptions(config.Config{ConflictPolicy: "crdt"})
	assert.ErrorIs(t, err, collab.ErrUnknownPolicy)

	_, err = serviceOptions(config.Config{SettleStrategy: "random"})
	assert.Error(t, err)
}

func TestOpenDocDB(t *testing.T) {
	docDB, closeDB, err := openDocDB(config.Config{DBMode: config.DBModeMem})
	require.NoError(t, err)
	closeDB()
	assert.NotNil(t, docDB)

	docDB, closeDB, err = openDocDB(config.Config{DBMode: config.DBModeSQLite, SQLitePath: filepath.Join(t.TempDir(), "docs.db")})
	require.NoError(t, err)
	defer closeDB()
	doc, err := docDB.PutDocument(context.Background(), "users/u1/expenses", []byte(`{"expenses":[]}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)

	_, _, err = openDocDB(config.Config{DBMode: "mongo"})
	assert.Error(t, err)
}

func TestOpenQueue(t *testing.T) {
	q, err := openQueue(context.Background(), mq.ModeGoChan)
	require.NoError(t, err)
	q.Close()

	_, err = openQueue(context.Background(), "kafka")
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cmd-test")
	t.Setenv("TOKEN_TTL", "1h")

	cmd := tokenCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--uid", "u1", "--name", "Aditya"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.NewJWTManager("cmd-test", time.Hour).Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UID: "u1", DisplayName: "Aditya"}, claims.Identity())
}

func TestRunServerRequiresJWTSecretOutsideDev(t *testing.T) {
	err := runServer(context.Background(), config.Config{IsDev: false, DBMode: config.DBModeMem})
	assert.ErrorIs(t, err, config.ErrMissingJWTSecret)
}

func TestTokenCommandRequiresJWTSecretOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")

	cmd := tokenCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--uid", "u1"})
	assert.ErrorIs(t, cmd.Execute(), config.ErrMissingJWTSecret)
}

func TestRootLoadsDotEnvBeforeLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv("LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o600))
	t.Chdir(dir)

	RootCmd.PersistentPreRun(&cobra.Command{}, nil)
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}
