package server

import "net/http"

// Routes returns a ServeMux with all application routes. The relay is
// reachable on both "/" and "/ws".
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.RelayHandler)
	mux.HandleFunc("/ws", s.RelayHandler)
	mux.HandleFunc("/healthz", HealthHandler)
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
