package mcphub

import (
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
)

// serverStatus is the /v0/servers wire shape.
type serverStatus struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Server string `json:"server,omitempty"`
}

// toolSummary is the /v0/tools wire shape.
type toolSummary struct {
	Name        string `json:"name"`
	Server      string `json:"server"`
	Description string `json:"description,omitempty"`
}

// AdminHandler exposes read-only JSON endpoints over the hub's state:
// GET /v0/servers lists registered servers and their connection state, and
// GET /v0/tools lists the namespaced tools of every connected server. The
// handler allows cross-origin reads so a local dashboard can consume it.
func AdminHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v0/servers", func(w http.ResponseWriter, r *http.Request) {
		statuses := make([]serverStatus, 0, h.Size())
		for _, name := range h.ServerNames() {
			conn, ok := h.Get(name)
			if !ok {
				continue
			}
			status := serverStatus{Name: name, State: string(conn.State())}
			if info := conn.ServerInfo(); info != nil {
				status.Server = info.Name
			}
			statuses = append(statuses, status)
		}
		writeJSON(w, statuses)
	})
	mux.HandleFunc("GET /v0/tools", func(w http.ResponseWriter, r *http.Request) {
		tools, err := h.ListAllTools(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		summaries := make([]toolSummary, 0, len(tools))
		for _, tool := range tools {
			summaries = append(summaries, toolSummary{
				Name:        tool.Tool.Name,
				Server:      tool.Server,
				Description: tool.Tool.Description,
			})
		}
		writeJSON(w, summaries)
	})
	return cors.Default().Handler(mux)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
