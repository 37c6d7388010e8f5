// Command teacp-results serves the sweep results database: run listings and
// the tailsql console under /debug/, and per-run charts at /runs/<id>.
package main

import (
	"context"
	"flag"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/weisiCeltics/teacp/internal/report"
	"github.com/weisiCeltics/teacp/internal/store"
	"github.com/weisiCeltics/teacp/internal/sweep"
	"github.com/weisiCeltics/teacp/internal/version"
)

var (
	dbPath      = flag.String("db", "results.db", "SQLite results database")
	listen      = flag.String("listen", "localhost:8090", "Listen address")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

var indexTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><title>teacp results</title></head><body>
<h1>Sweep runs</h1>
<table>
<tr><th>Run</th><th>Started</th><th>Status</th><th>Protocol</th><th>Queue</th><th>Variable</th><th>Noise</th><th>Link</th><th>Trials</th></tr>
{{range .}}<tr><td><a href="/runs/{{.ID}}">{{.ID}}</a></td><td>{{.StartedAt.Format "2006-01-02 15:04:05"}}</td><td>{{.Status}}</td><td>{{.Protocol}}</td><td>{{.QueueType}}</td><td>{{.Variable}}</td><td>{{.NoiseTrace}}</td><td>{{.LinkTrace}}</td><td>{{.Trials}}</td></tr>
{{end}}</table>
<p><a href="/debug/">debug</a></p>
</body></html>
`))

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	s, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open results database: %v", err)
	}
	defer s.Close()

	mux := http.NewServeMux()
	if err := s.AttachAdminRoutes(mux); err != nil {
		log.Fatalf("Failed to attach admin routes: %v", err)
	}
	mux.HandleFunc("/runs/", runChartHandler(s))
	mux.HandleFunc("/", indexHandler(s))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr: *listen,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %q", r.URL.Path)
			mux.ServeHTTP(w, r)
		}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	log.Printf("%s serving %s on http://%s/", version.String(), *dbPath, *listen)

	<-ctx.Done()
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}

func indexHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		runs, err := s.Runs()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTmpl.Execute(w, runs); err != nil {
			log.Printf("render index: %v", err)
		}
	}
}

// runChartHandler renders /runs/<id> as go-echarts line charts.
func runChartHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/runs/")
		if id == "" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		runs, err := s.Runs()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var run *store.Run
		for i := range runs {
			if runs[i].ID == id {
				run = &runs[i]
				break
			}
		}
		if run == nil {
			http.NotFound(w, r)
			return
		}
		points, err := s.Points(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(points) == 0 {
			http.Error(w, "run has no completed points", http.StatusNotFound)
			return
		}

		column := "PktRate"
		if v, err := sweep.VariableByName(run.Variable, 1); err == nil {
			column = v.Column()
		}
		title := report.Title{
			Text:   fmt.Sprintf("%s %s (%s, %d trials)", run.Protocol, run.QueueType, run.NoiseTrace, run.Trials),
			Column: column,
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.WriteHTML(w, title, summaries(points, run.Trials)); err != nil {
			log.Printf("render run %s: %v", id, err)
		}
	}
}

func summaries(points []store.PointRow, trials int) []sweep.Summary {
	out := make([]sweep.Summary, len(points))
	for i, p := range points {
		out[i] = sweep.Summary{
			Value:        p.Value,
			Trials:       trials,
			DeliveryMean: p.DeliveryMean,
			DeliveryStd:  p.DeliveryStd,
			DelayMean:    p.DelayMean,
			DelayStd:     p.DelayStd,
			GoodputMean:  p.GoodputMean,
			GoodputStd:   p.GoodputStd,
		}
	}
	return out
}
