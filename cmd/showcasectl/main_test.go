package main

import (
	"bytes"
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harryneopotter/teacher-website-public/internal/app"
	"github.com/harryneopotter/teacher-website-public/internal/auth"
	"github.com/harryneopotter/teacher-website-public/internal/config"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		BucketPDFs:        "pdfs",
		BucketThumbnails:  "thumbs",
		UseLocalStore:     true,
		LocalStoreDir:     t.TempDir(),
		LocalSigningKey:   "k",
		PublicBaseURL:     "http://localhost:8080",
		RateLimitBackend:  config.BackendStore,
		ConversationStore: config.BackendMemory,
		Port:              "8080",
	}
}

func TestRunSelfTest_Local(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runSelfTest(context.Background(), localConfig(t), &out))
	assert.Contains(t, out.String(), "ok    store (local) ping")
	assert.Contains(t, out.String(), "ok    canary upload")
	assert.NotContains(t, out.String(), "FAIL")
}

func TestRunAddUser(t *testing.T) {
	cfg := localConfig(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runAddUser(ctx, cfg, "4242", "content_manager", &out))
	assert.Equal(t, "granted content_manager to 4242\n", out.String())

	store, err := app.OpenStore(ctx, cfg)
	require.NoError(t, err)
	defer store.Close()
	roles := auth.NewRoleTable(store, nil)
	require.NoError(t, roles.Load(ctx))
	assert.Equal(t, auth.RoleContentManager, roles.GetUserRole("4242"))
}

func TestRunAddUser_Rejects(t *testing.T) {
	cfg := localConfig(t)
	tests := []struct {
		name string
		id   string
		role string
	}{
		{"non numeric id", "alice", "admin"},
		{"unknown role", "1", "owner"},
		{"role is case sensitive", "1", "Admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.Error(t, runAddUser(context.Background(), cfg, tt.id, tt.role, &out))
			assert.Empty(t, out.String())
		})
	}
}

func TestSenderLines(t *testing.T) {
	updates := []tgbotapi.Update{
		{UpdateID: 1, Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 10, UserName: "teacher"}}},
		{UpdateID: 2, Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 10, UserName: "teacher"}}},
		{UpdateID: 3, CallbackQuery: &tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: 11, FirstName: "Ann"}}},
		{UpdateID: 4},
	}
	seen := map[int64]bool{}
	assert.Equal(t, []string{"10\t@teacher", "11\tAnn"}, senderLines(updates, seen))
	assert.Empty(t, senderLines(updates, seen))
}
