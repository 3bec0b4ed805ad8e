package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"game-sandbox/internal/models"
	"game-sandbox/internal/workspace"
)

// Echo is an in-process stand-in for the generation service. It answers
// every request with a short thinking stream followed by a playable
// template game, which makes the whole sandbox runnable without the real
// service.
type Echo struct {
	logger *zap.Logger
	delay  time.Duration

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewEcho creates an Echo backend. delay spaces out the streamed frames.
func NewEcho(logger *zap.Logger, delay time.Duration) *Echo {
	return &Echo{logger: logger, delay: delay}
}

func (e *Echo) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server != nil {
		return nil
	}

	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("echo backend listen: %w", err)
	}
	e.listener = listener
	e.server = &http.Server{Handler: EchoHandler(e.logger, e.delay)}
	e.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("Echo: serve failed", zap.Error(err))
		}
	}(e.server, e.done)

	e.logger.Info("Echo: generation service listening", zap.String("addr", listener.Addr().String()))
	return nil
}

func (e *Echo) Endpoints() Endpoints {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return Endpoints{}
	}
	return localEndpoints(e.listener.Addr().(*net.TCPAddr).Port)
}

func (e *Echo) Stop(ctx context.Context) error {
	e.mu.Lock()
	srv, done := e.server, e.done
	e.server, e.listener, e.done = nil, nil, nil
	e.mu.Unlock()

	if srv == nil {
		return nil
	}
	// Hijacked websocket connections are not tracked by the server; they
	// end when the sandbox closes its channels.
	err := srv.Shutdown(ctx)
	<-done
	return err
}

func (e *Echo) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.server != nil
}

// EchoHandler serves the health endpoint and both channel endpoints.
func EchoHandler(logger *zap.Logger, delay time.Duration) http.Handler {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":200,"message":"echo generation service is healthy"}`))
	})

	serve := func(reply func(data []byte) []any) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				logger.Warn("EchoHandler: upgrade failed", zap.Error(err))
				return
			}
			defer conn.Close()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				for _, frame := range reply(data) {
					if delay > 0 {
						time.Sleep(delay)
					}
					if err := conn.WriteJSON(frame); err != nil {
						logger.Debug("EchoHandler: client went away", zap.Error(err))
						return
					}
				}
			}
		}
	}
	mux.HandleFunc("/generate/ws/chat", serve(echoCreate))
	mux.HandleFunc("/generate/ws/chat/edit", serve(echoEdit))
	return mux
}

type echoFrame struct {
	State              models.FrameState `json:"state"`
	Payload            any               `json:"payload"`
	IsNotRelatedToGame bool              `json:"is_not_related_to_game"`
}

func thinking(msg string) echoFrame {
	return echoFrame{State: models.StateThinking, Payload: models.MessagePayload{Message: msg}}
}

func advisory(msg string) echoFrame {
	return echoFrame{State: models.StateAIAssistance, Payload: models.MessagePayload{Message: msg}}
}

func echoCreate(data []byte) []any {
	var req models.CreateRequest
	if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		return []any{advisory("I could not read that request. Describe the game you would like to build.")}
	}
	return []any{
		thinking("Reading your request: " + firstLine(req.Message)),
		thinking("Sketching the game loop and controls"),
		thinking("Writing index.html and game.js"),
		echoFrame{State: models.StateFilesShared, Payload: templateGame(req.Message)},
	}
}

func echoEdit(data []byte) []any {
	var req models.EditRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return []any{advisory("I could not read that edit request.")}
	}
	if _, ok := req.Files.Get(workspace.IndexFile); !ok {
		return []any{advisory("I need index.html to edit the game.")}
	}

	note := "// Requested change: " + firstLine(req.Prompt)
	if strings.HasPrefix(req.Prompt, "Please fix all these console errors") {
		note = "// Reviewed the reported console errors"
	}
	files := req.Files.Clone()
	patched := false
	for i := range files {
		if strings.HasSuffix(files[i].Name, ".js") {
			files[i].Content = strings.TrimRight(files[i].Content, "\n") + "\n" + note + "\n"
			patched = true
			break
		}
	}
	if !patched {
		files = append(files, workspace.File{Name: "game.js", Content: note + "\n"})
	}
	return []any{
		thinking("Reviewing the current game files"),
		thinking("Applying: " + firstLine(req.Prompt)),
		echoFrame{State: models.StateFilesShared, Payload: files},
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}

func templateGame(title string) workspace.Files {
	title = firstLine(title)
	jsTitle, _ := json.Marshal(title)
	index := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>` + html.EscapeString(title) + `</title>
  <style>
    body { margin: 0; background: #111827; color: #f9fafb; font-family: sans-serif; text-align: center; }
    canvas { background: #1f2937; display: block; margin: 16px auto; border-radius: 8px; }
  </style>
</head>
<body>
  <h1 id="title"></h1>
  <canvas id="game" width="480" height="320"></canvas>
  <p>Use the arrow keys to move the paddle.</p>
</body>
</html>
`
	game := `const TITLE = ` + string(jsTitle) + `;
document.getElementById("title").textContent = TITLE;

const canvas = document.getElementById("game");
const ctx = canvas.getContext("2d");
const ball = { x: 240, y: 160, dx: 3, dy: 2, r: 8 };
const paddle = { x: 200, w: 80, h: 10 };
let score = 0;

document.addEventListener("keydown", (e) => {
  if (e.key === "ArrowLeft") paddle.x = Math.max(0, paddle.x - 24);
  if (e.key === "ArrowRight") paddle.x = Math.min(canvas.width - paddle.w, paddle.x + 24);
});

function step() {
  ball.x += ball.dx;
  ball.y += ball.dy;
  if (ball.x < ball.r || ball.x > canvas.width - ball.r) ball.dx = -ball.dx;
  if (ball.y < ball.r) ball.dy = -ball.dy;
  if (ball.y > canvas.height - paddle.h - ball.r && ball.x > paddle.x && ball.x < paddle.x + paddle.w) {
    ball.dy = -Math.abs(ball.dy);
    score++;
  }
  if (ball.y > canvas.height + ball.r) {
    console.log("Game over, score " + score);
    Object.assign(ball, { x: 240, y: 160 });
    score = 0;
  }

  ctx.clearRect(0, 0, canvas.width, canvas.height);
  ctx.fillStyle = "#f59e0b";
  ctx.beginPath();
  ctx.arc(ball.x, ball.y, ball.r, 0, Math.PI * 2);
  ctx.fill();
  ctx.fillStyle = "#60a5fa";
  ctx.fillRect(paddle.x, canvas.height - paddle.h, paddle.w, paddle.h);
  ctx.fillStyle = "#f9fafb";
  ctx.fillText("Score: " + score, 10, 16);
  requestAnimationFrame(step);
}

console.log("Game started: " + TITLE);
requestAnimationFrame(step);
`
	return workspace.Files{
		{Name: workspace.IndexFile, Content: index},
		{Name: "game.js", Content: game},
	}
}
