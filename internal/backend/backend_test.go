package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"game-sandbox/internal/conversation"
	"game-sandbox/internal/health"
	"game-sandbox/internal/models"
	"game-sandbox/internal/workspace"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": KindRemote, "remote": KindRemote, "Docker": KindDocker, " echo ": KindEcho} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	_, err := ParseKind("flyio")
	require.Error(t, err)
}

func TestFindFreePort(t *testing.T) {
	port, err := FindFreePort()
	require.NoError(t, err)
	require.Greater(t, port, 0)
}

func TestRemoteTracksState(t *testing.T) {
	r := NewRemote(Endpoints{WSURL: "wss://gen.example.com", HealthURL: "https://gen.example.com/health"})
	require.False(t, r.IsRunning())
	require.NoError(t, r.Start(context.Background()))
	require.True(t, r.IsRunning())
	require.Equal(t, "wss://gen.example.com", r.Endpoints().WSURL)
	require.NoError(t, r.Stop(context.Background()))
	require.False(t, r.IsRunning())
}

func readFrames(t *testing.T, conn *websocket.Conn, until models.FrameState) []models.InboundFrame {
	t.Helper()
	var frames []models.InboundFrame
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f models.InboundFrame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.State == until {
			return frames
		}
	}
}

func TestEchoServesCreateAndEdit(t *testing.T) {
	echo := NewEcho(zap.NewNop(), 0)
	ctx := context.Background()
	require.NoError(t, echo.Start(ctx))
	defer echo.Stop(ctx)
	require.True(t, echo.IsRunning())

	ep := echo.Endpoints()
	_, err := health.Check(ctx, http.DefaultClient, ep.HealthURL)
	require.NoError(t, err)

	create, _, err := websocket.DefaultDialer.Dial(ep.WSURL+"/generate/ws/chat", nil)
	require.NoError(t, err)
	defer create.Close()

	req := models.NewCreateRequest("Space <dodger>")
	req.SetUserID("user_echo")
	require.NoError(t, create.WriteJSON(req))
	frames := readFrames(t, create, models.StateFilesShared)
	require.Equal(t, models.StateThinking, frames[0].State)
	require.Equal(t, models.StateFilesShared, frames[len(frames)-1].State)
	require.Equal(t, conversation.HintRelated, conversation.ResolveHint(frames[0]))

	var files workspace.Files
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &files))
	require.Equal(t, []string{"index.html", "game.js"}, files.Names())
	index, _ := files.Get("index.html")
	require.Contains(t, index, "Space &lt;dodger&gt;")

	edit, _, err := websocket.DefaultDialer.Dial(ep.WSURL+"/generate/ws/chat/edit", nil)
	require.NoError(t, err)
	defer edit.Close()
	require.NoError(t, edit.WriteJSON(&models.EditRequest{Prompt: "make the ball faster", Files: files, UserID: "user_echo"}))
	frames = readFrames(t, edit, models.StateFilesShared)

	var edited workspace.Files
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Payload, &edited))
	js, _ := edited.Get("game.js")
	require.True(t, strings.HasSuffix(js, "// Requested change: make the ball faster\n"))
}

func TestEchoEditWithoutIndex(t *testing.T) {
	data, _ := json.Marshal(&models.EditRequest{Prompt: "x", Files: workspace.Files{{Name: "a.js", Content: ""}}})
	frames := echoEdit(data)
	require.Len(t, frames, 1)
	require.Equal(t, models.StateAIAssistance, frames[0].(echoFrame).State)
}

type fakeRuntime struct {
	hasImage bool
	pulled   []string
	created  *container.HostConfig
	started  []string
	removed  []string
	stopped  []string
	orphans  []string
	startErr error
	closed   bool
}

func (f *fakeRuntime) HasImage(context.Context, string) (bool, error) { return f.hasImage, nil }
func (f *fakeRuntime) Pull(_ context.Context, ref string) error {
	f.pulled = append(f.pulled, ref)
	return nil
}
func (f *fakeRuntime) Create(_ context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error) {
	f.created = host
	return "0123456789abcdef", nil
}
func (f *fakeRuntime) Start(_ context.Context, id string) error {
	f.started = append(f.started, id)
	return f.startErr
}
func (f *fakeRuntime) Stop(_ context.Context, id string, _ time.Duration) error {
	f.stopped = append(f.stopped, id)
	return nil
}
func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}
func (f *fakeRuntime) ListLabelled(context.Context, string) ([]string, error) { return f.orphans, nil }
func (f *fakeRuntime) Running(context.Context, string) (bool, error)         { return true, nil }
func (f *fakeRuntime) Close() error                                           { f.closed = true; return nil }

func TestLocalDockerLifecycle(t *testing.T) {
	rt := &fakeRuntime{orphans: []string{"orphan1"}}
	ld := NewLocalDocker(LocalDockerConfig{Image: "gen:latest"}, zap.NewNop())
	ld.rt = rt
	var probed string
	ld.waitReady = func(_ context.Context, url string, _ time.Duration) error {
		probed = url
		return nil
	}

	ctx := context.Background()
	require.NoError(t, ld.Start(ctx))
	require.Equal(t, []string{"gen:latest"}, rt.pulled)
	require.Equal(t, []string{"orphan1"}, rt.removed)
	require.Equal(t, []string{"0123456789abcdef"}, rt.started)
	require.True(t, ld.IsRunning())

	ep := ld.Endpoints()
	require.Equal(t, ep.HealthURL, probed)
	require.True(t, strings.HasPrefix(ep.WSURL, "ws://127.0.0.1:"))
	bindings := rt.created.PortBindings
	require.Len(t, bindings, 1)
	for port, b := range bindings {
		require.Equal(t, "8000/tcp", string(port))
		require.Equal(t, "127.0.0.1", b[0].HostIP)
		require.True(t, strings.HasSuffix(ep.WSURL, ":"+b[0].HostPort))
	}

	require.NoError(t, ld.Stop(ctx))
	require.Equal(t, []string{"0123456789abcdef"}, rt.stopped)
	require.True(t, rt.closed)
	require.False(t, ld.IsRunning())
}

func TestLocalDockerStartFailureRemovesContainer(t *testing.T) {
	rt := &fakeRuntime{hasImage: true, startErr: errors.New("port in use")}
	ld := NewLocalDocker(LocalDockerConfig{Image: "gen:latest"}, zap.NewNop())
	ld.rt = rt

	err := ld.Start(context.Background())
	require.Error(t, err)
	require.Empty(t, rt.pulled)
	require.Equal(t, []string{"0123456789abcdef"}, rt.removed)
	require.False(t, ld.IsRunning())
}
