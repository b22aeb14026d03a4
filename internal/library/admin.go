package library

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/darkframes/internal/monitoring"
)

// entrySummary is one row of the entries debug page.
type entrySummary struct {
	Achieved map[string]int `json:"achieved"`
	Mean     float64        `json:"mean"`
	Controls map[string]int `json:"controls"`
}

// AttachAdminRoutes mounts the debug pages for the library on mux: a
// tailsql console on the library database, a JSON listing of the stored
// entries, and a consistent copy of the file for download.
func (l *Library) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(l.Path()), l.db.DB, &tailsql.DBOptions{
		Label: "Dark frame library",
	})
	debug.Handle("tailsql/", "SQL console on the library", tsql.NewMux())

	debug.Handle("entries", "Stored entries with their mean level", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var out []entrySummary
		err := l.Walk(func(e Entry) error {
			out = append(out, entrySummary{Achieved: e.Achieved, Mean: e.Frame.Mean(), Controls: e.Snapshot.Controls})
			return nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}))

	debug.Handle("download", "Download a copy of the library", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir, err := os.MkdirTemp("", "darkframes-export-")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				monitoring.Logf("failed to remove export dir %s: %v", dir, err)
			}
		}()

		name := fmt.Sprintf("library-%d.db", time.Now().Unix())
		exportPath := filepath.Join(dir, name)
		if _, err := l.db.Exec("VACUUM INTO ?", exportPath); err != nil {
			http.Error(w, fmt.Sprintf("failed to export library: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, exportPath)
	}))
	return nil
}
