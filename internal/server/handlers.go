package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/relaychat/internal/relay"
	"github.com/Tyrowin/relaychat/internal/wsconn"
)

const (
	statusBody  = "Relay server is running!"
	healthzBody = "OK"
)

// Server accepts relay connections over HTTP.
type Server struct {
	cfg      Config
	hub      *relay.Hub
	upgrader websocket.Upgrader
	connOpts wsconn.Options
	log      zerolog.Logger
}

// New creates a Server and its hub. Nothing listens until Run.
func New(cfg Config, log zerolog.Logger) *Server {
	log = log.With().Str("component", "server").Logger()
	origins := newOriginPolicy(cfg.AllowedOrigins, log)

	return &Server{
		cfg: cfg,
		hub: relay.NewHub(relay.Config{
			SendTimeout: cfg.SendTimeout,
			Logger:      log,
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		connOpts: wsconn.Options{Logger: log},
		log:      log,
	}
}

// Hub returns the server's hub.
func (s *Server) Hub() *relay.Hub {
	return s.hub
}

// RelayHandler serves both the relay and its status page on the same path:
// WebSocket upgrade requests join the relay, any other GET gets a fixed
// status response without touching the registry.
func (s *Server) RelayHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed. Relay endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if !websocket.IsWebSocketUpgrade(r) {
		writeText(w, statusBody)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.log.Warn().Err(err).
			Str("kind", relay.KindHandshake.String()).
			Str("addr", r.RemoteAddr).
			Msg("WebSocket upgrade failed")
		return
	}

	conn := wsconn.New(ws, r.RemoteAddr, s.connOpts)
	if err := s.hub.Serve(r.Context(), conn); err != nil {
		s.log.Debug().Err(err).Str("conn_id", conn.ID()).Msg("Relay session ended with error")
	}
}

// HealthHandler answers liveness probes.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, healthzBody)
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, body)
}

// TestPageHandler serves a small browser page for trying the relay by hand.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Relay Test</title>
    <style>
        body { font-family: sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; }
        input[type="text"] { width: 300px; padding: 5px; }
    </style>
</head>
<body>
    <h1>Relay Test</h1>
    <div id="status">Connecting...</div>
    <div id="log"></div>
    <input type="text" id="input" placeholder="Type a message and press Enter" disabled>
    <script>
        const log = document.getElementById('log');
        const input = document.getElementById('input');
        const status = document.getElementById('status');

        function append(label, text) {
            const line = document.createElement('div');
            const strong = document.createElement('strong');
            strong.textContent = label + ': ';
            line.appendChild(strong);
            line.appendChild(document.createTextNode(text));
            log.appendChild(line);
            log.scrollTop = log.scrollHeight;
        }

        const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(scheme + location.host + '/ws');
        ws.onopen = () => { status.textContent = 'Connected'; input.disabled = false; };
        ws.onmessage = (event) => append('Friend', event.data);
        ws.onclose = () => { status.textContent = 'Connection to server lost.'; input.disabled = true; };

        input.addEventListener('keypress', (e) => {
            if (e.key !== 'Enter' || input.value === '') {
                return;
            }
            ws.send(input.value);
            append('You', input.value);
            input.value = '';
        });
    </script>
</body>
</html>`
