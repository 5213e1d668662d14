// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatstream/internal/chat"
	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/kv"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/storage"
)

// fakeAPI serves a fixed reply, streamed or whole, and a model list.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Hello in one piece"}}]}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hello", " world"} {
			data, _ := json.Marshal(map[string]any{
				"choices": []any{map[string]any{"delta": map[string]any{"content": part}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list","data":[{"id":"model-b"},{"id":"model-a"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setupEnv(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("CHATSTREAM_HOME", t.TempDir())
	t.Setenv("CHATSTREAM_BASE_URL", baseURL)
	t.Setenv("CHATSTREAM_API_KEY", "")
	t.Setenv("CHATSTREAM_STORAGE", "")
	t.Setenv("CHATSTREAM_STORAGE_PATH", "")
	t.Setenv("CHATSTREAM_LOG_LEVEL", "off")
}

// run executes one command line in a fresh App, like a separate process.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := NewApp()
	app.in = strings.NewReader("")
	app.out = &out
	app.errOut = &errOut
	defer app.Close()

	root := app.RootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, strings.Join(args, " "))
	return out
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings_SetGetList(t *testing.T) {
	setupEnv(t, "http://localhost:8080")

	mustRun(t, "settings", "set", "api_key", "sk-abcdef123456")
	mustRun(t, "settings", "set", "temperature", "0.3")

	assert.Equal(t, "0.3\n", mustRun(t, "settings", "get", "temperature"))
	assert.Equal(t, "sk-abcdef123456\n", mustRun(t, "settings", "get", "api_key"))

	list := mustRun(t, "settings", "list")
	assert.Contains(t, list, "3456")
	assert.NotContains(t, list, "sk-abcdef123456")

	list = mustRun(t, "settings", "list", "--show-secrets")
	assert.Contains(t, list, "sk-abcdef123456")
}

func TestSettings_RejectsInvalidValues(t *testing.T) {
	setupEnv(t, "http://localhost:8080")

	_, err := run(t, "settings", "set", "temperature", "3")
	assert.Error(t, err)

	_, err = run(t, "settings", "set", "no_such_setting", "x")
	assert.ErrorIs(t, err, config.ErrUnknownSetting)
}

func TestStorageFlagSelectsBackend(t *testing.T) {
	setupEnv(t, "http://localhost:8080")

	mustRun(t, "--storage", "sqlite", "settings", "set", "model", "from-sqlite")
	assert.Equal(t, "from-sqlite\n", mustRun(t, "--storage", "sqlite", "settings", "get", "model"))
	assert.Equal(t, config.DefaultSettings().Model+"\n", mustRun(t, "settings", "get", "model"))
}

func TestEphemeralFlagKeepsNothing(t *testing.T) {
	setupEnv(t, "http://localhost:8080")

	mustRun(t, "--ephemeral", "settings", "set", "model", "scratch")
	assert.Equal(t, config.DefaultSettings().Model+"\n", mustRun(t, "--ephemeral", "settings", "get", "model"))
	assert.Equal(t, config.DefaultSettings().Model+"\n", mustRun(t, "settings", "get", "model"))

	_, err := run(t, "--ephemeral", "--storage", "sqlite", "settings", "list")
	assert.Error(t, err)
}

// =============================================================================
// ASK / CONVERSATIONS
// =============================================================================

func TestAsk_StreamsAndPersists(t *testing.T) {
	srv := fakeAPI(t)
	setupEnv(t, srv.URL)
	mustRun(t, "settings", "set", "api_key", "sk-test")

	out := mustRun(t, "ask", "hi", "there")
	assert.Equal(t, "Hello world\n", out)

	list := mustRun(t, "conversations", "list")
	assert.Contains(t, list, "hi there")
	assert.Contains(t, list, "2 msgs")

	show := mustRun(t, "conversations", "show", "1")
	assert.Contains(t, show, "hi there")
	assert.Contains(t, show, "Hello world")

	// A second ask continues the active conversation.
	mustRun(t, "ask", "again")
	assert.Contains(t, mustRun(t, "conversations", "list"), "4 msgs")

	mustRun(t, "conversations", "rename", "1", "Greetings")
	assert.Contains(t, mustRun(t, "conversations", "list"), "Greetings")

	raw := mustRun(t, "conversations", "export", "1", "--format", "json", "--stdout")
	var conv model.Conversation
	require.NoError(t, json.Unmarshal([]byte(raw), &conv))
	assert.Equal(t, "Greetings", conv.Title)
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "Hello world", conv.Messages[3].Text())

	dir := t.TempDir()
	assert.Contains(t, mustRun(t, "conversations", "export", "1", "-f", "md", "-o", dir), dir)

	mustRun(t, "conversations", "delete", "1")
	assert.Contains(t, mustRun(t, "conversations", "list"), "No conversations yet.")
}

func TestAsk_NewFlagStartsConversation(t *testing.T) {
	srv := fakeAPI(t)
	setupEnv(t, srv.URL)
	mustRun(t, "settings", "set", "api_key", "sk-test")

	mustRun(t, "ask", "first")
	mustRun(t, "ask", "--new", "second")

	list := mustRun(t, "conversations", "list")
	assert.Contains(t, list, "first")
	assert.Contains(t, list, "second")
	assert.Equal(t, 2, strings.Count(list, "2 msgs"))
}

func TestAsk_NoStream(t *testing.T) {
	srv := fakeAPI(t)
	setupEnv(t, srv.URL)
	mustRun(t, "settings", "set", "api_key", "sk-test")

	assert.Equal(t, "Hello in one piece\n", mustRun(t, "ask", "--no-stream", "hi"))

	raw := mustRun(t, "conversations", "export", "1", "--format", "json", "--stdout")
	var conv model.Conversation
	require.NoError(t, json.Unmarshal([]byte(raw), &conv))
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "hi", conv.Messages[0].Text())
	assert.Equal(t, "Hello in one piece", conv.Messages[1].Text())
}

func TestAsk_RequiresKey(t *testing.T) {
	srv := fakeAPI(t)
	setupEnv(t, srv.URL)

	_, err := run(t, "ask", "hi")
	assert.ErrorIs(t, err, chat.ErrNoAPIKey)
}

func TestAsk_EnvironmentKeyWins(t *testing.T) {
	srv := fakeAPI(t)
	setupEnv(t, srv.URL)
	t.Setenv("CHATSTREAM_API_KEY", "sk-env")

	assert.Equal(t, "Hello world\n", mustRun(t, "ask", "hi"))
}

func TestConversations_UnknownRef(t *testing.T) {
	setupEnv(t, "http://localhost:8080")

	_, err := run(t, "conversations", "show", "conv_missing")
	assert.ErrorIs(t, err, storage.ErrConversationNotFound)

	_, err = run(t, "conversations", "show", "3")
	assert.Error(t, err)
}

// =============================================================================
// MODELS
// =============================================================================

func TestModels_ReconcilesSelection(t *testing.T) {
	srv := fakeAPI(t)
	setupEnv(t, srv.URL)
	mustRun(t, "settings", "set", "api_key", "sk-test")

	out := mustRun(t, "models")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "* model-a")
	assert.Contains(t, lines[1], "model-b")

	assert.Equal(t, "model-a\n", mustRun(t, "settings", "get", "model"))

	mustRun(t, "settings", "set", "model", "model-b")
	mustRun(t, "models")
	assert.Equal(t, "model-b\n", mustRun(t, "settings", "get", "model"))
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfig_InitAndShow(t *testing.T) {
	setupEnv(t, "http://localhost:8080")

	assert.Contains(t, mustRun(t, "config", "init"), "config.toml")
	_, err := run(t, "config", "init")
	assert.Error(t, err)
	mustRun(t, "config", "init", "--force")

	show := mustRun(t, "config", "show")
	assert.Contains(t, show, `base_url = "http://localhost:8080"`)
	assert.Contains(t, show, "[storage]")
}

// titleAPI answers title completions and counts them.
func titleAPI(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/chat/completions" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"问候"}}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReload_AppliesTitleEndpointAndKeepsFlags(t *testing.T) {
	api := fakeAPI(t)
	setupEnv(t, api.URL)
	mustRun(t, "settings", "set", "api_key", "sk-test")
	mustRun(t, "settings", "set", "zhipu_api_key", "id.secret")
	t.Setenv("CHATSTREAM_LOG_LEVEL", "")

	var oldHits, newHits atomic.Int32
	oldTitle := titleAPI(t, &oldHits)
	newTitle := titleAPI(t, &newHits)

	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig := func(titleURL string) {
		body := fmt.Sprintf("[title]\nbase_url = %q\n\n[log]\nlevel = \"debug\"\n", titleURL)
		require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	}
	writeConfig(oldTitle.URL)

	app := NewApp()
	app.out, app.errOut = &bytes.Buffer{}, &bytes.Buffer{}
	app.configPath = path
	app.logLevel = "off"
	defer app.Close()
	require.NoError(t, app.setup())

	ctx := context.Background()
	svc, err := app.chatService(ctx, nil)
	require.NoError(t, err)
	backend := app.cfg.Current().Storage

	writeConfig(newTitle.URL)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	app.reload(cfg)

	assert.Equal(t, "off", app.cfg.Current().Log.Level)
	assert.Equal(t, zerolog.Disabled, app.logOut.Level())
	assert.Equal(t, backend, app.cfg.Current().Storage)
	assert.Equal(t, newTitle.URL, app.cfg.Current().Title.BaseURL)

	res, err := svc.Send(ctx, chat.SendInput{Text: "hi"})
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, chat.StateCompleted, res.State)

	assert.Equal(t, int32(0), oldHits.Load())
	assert.Equal(t, int32(1), newHits.Load())
	conv, err := app.store.Conversation(res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "问候", conv.Title)
}

func TestReload_AppliesLogLevel(t *testing.T) {
	setupEnv(t, "http://localhost:8080")
	t.Setenv("CHATSTREAM_LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"error\"\n"), 0600))

	app := NewApp()
	app.configPath = path
	defer app.Close()
	require.NoError(t, app.setup())
	assert.Equal(t, zerolog.ErrorLevel, app.logOut.Level())

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	app.reload(cfg)
	assert.Equal(t, zerolog.DebugLevel, app.logOut.Level())
}

// =============================================================================
// REPL COMMANDS
// =============================================================================

func newTestREPL(t *testing.T) (*repl, *bytes.Buffer, *[]string) {
	t.Helper()
	store, err := storage.Open(context.Background(), kv.NewMemory(), zerolog.Nop())
	require.NoError(t, err)

	var out bytes.Buffer
	var copied []string
	r := &repl{
		out:   &out,
		store: store,
		copy: func(s string) error {
			copied = append(copied, s)
			return nil
		},
	}
	r.svc = chat.NewService(chat.Options{
		Store:    store,
		Settings: func(context.Context) (config.Settings, error) { return config.DefaultSettings(), nil },
		Logger:   zerolog.Nop(),
	})
	return r, &out, &copied
}

func TestREPL_ConversationCommands(t *testing.T) {
	r, out, _ := newTestREPL(t)
	ctx := context.Background()

	older := r.store.CreateConversation()
	newer := r.store.CreateConversation()
	assert.Equal(t, newer, r.store.ActiveID())

	quit, err := r.handleCommand(ctx, "/switch 2")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Equal(t, older, r.store.ActiveID())

	_, err = r.handleCommand(ctx, "/title  Renamed chat ")
	require.NoError(t, err)
	conv, err := r.store.Conversation(older)
	require.NoError(t, err)
	assert.Equal(t, "Renamed chat", conv.Title)

	_, err = r.handleCommand(ctx, "/list")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Renamed chat")

	_, err = r.handleCommand(ctx, "/delete "+newer)
	require.NoError(t, err)
	assert.Equal(t, 1, r.store.Len())

	_, err = r.handleCommand(ctx, "/new")
	require.NoError(t, err)
	_, ok := r.store.ActiveConversation()
	assert.False(t, ok)

	_, err = r.handleCommand(ctx, "/title x")
	assert.Error(t, err)
}

func TestREPL_Copy(t *testing.T) {
	r, _, copied := newTestREPL(t)
	ctx := context.Background()

	_, err := r.handleCommand(ctx, "/copy")
	assert.Error(t, err)

	id := r.store.CreateConversation()
	r.store.AppendMessages(id,
		model.NewMessage(model.RoleUser, model.TextContent("q")),
		model.NewMessage(model.RoleAssistant, model.TextContent("stored answer")),
	)
	_, err = r.handleCommand(ctx, "/copy")
	require.NoError(t, err)

	r.lastReply = "fresh answer"
	_, err = r.handleCommand(ctx, "/c")
	require.NoError(t, err)

	assert.Equal(t, []string{"stored answer", "fresh answer"}, *copied)
}

func TestREPL_QuitAndUnknown(t *testing.T) {
	r, out, _ := newTestREPL(t)
	ctx := context.Background()

	quit, err := r.handleCommand(ctx, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)

	_, err = r.handleCommand(ctx, "/bogus")
	assert.ErrorContains(t, err, "unknown command")

	_, err = r.handleCommand(ctx, "/help")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "/image")

	_, err = r.handleCommand(ctx, "/image")
	assert.Error(t, err)
}
