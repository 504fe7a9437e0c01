package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gwhthompson/grist-mcp-server-sub000/pkg/grist"
)

var client grist.Client

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	listenAddr := flag.String("listen", ":8080", "HTTP listen address")
	flag.Parse()

	// 1. Load configuration
	var config *grist.Config
	if *configPath != "" {
		loaded, err := grist.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = loaded
	} else {
		config = grist.DefaultConfig()
	}

	// Environment overrides for the two settings that change per deploy
	if baseURL := os.Getenv("GRIST_BASE_URL"); baseURL != "" {
		config.Server.BaseURL = baseURL
	}
	if apiKey := os.Getenv("GRIST_API_KEY"); apiKey != "" {
		config.Server.APIKey = apiKey
	}

	// 2. Create the client
	var err error
	client, err = grist.NewClient(config)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	// 3. Start the journal invalidation listener
	client.Start()
	defer client.Stop()

	// 4. Setup HTTP routes
	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/docs/", docsHandler)

	log.Printf("Record pipeline server listening on %s (backend: %s, cache: %s, journal: %s)",
		*listenAddr, config.Server.BaseURL, config.SchemaCache.Store, config.Journal.Type)

	// 5. Serve until signalled
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *listenAddr}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-sigChan
	log.Println("Received shutdown signal...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"listener": map[string]any{
			"running": client.IsRunning(),
		},
	})
}

// docsHandler routes document-scoped requests:
//
//	POST /docs/{doc}/batch                   - execute a batch of operations
//	GET  /docs/{doc}/tables/{table}/records  - read decoded records
//	GET  /docs/{doc}/tables/{table}/columns  - read column metadata
func docsHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "docs" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	doc := client.Document(parts[1])

	switch {
	case len(parts) == 3 && parts[2] == "batch" && r.Method == http.MethodPost:
		executeBatch(w, r, doc)
	case len(parts) == 5 && parts[2] == "tables" && parts[4] == "records" && r.Method == http.MethodGet:
		readRecords(w, r, doc.Table(parts[3]))
	case len(parts) == 5 && parts[2] == "tables" && parts[4] == "columns" && r.Method == http.MethodGet:
		readColumns(w, r, doc.Table(parts[3]))
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func executeBatch(w http.ResponseWriter, r *http.Request, doc grist.Document) {
	start := time.Now()

	var request struct {
		Operations []grist.Operation `json:"operations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if len(request.Operations) == 0 {
		http.Error(w, "operations is required", http.StatusBadRequest)
		return
	}

	result := doc.Execute(r.Context(), request.Operations)
	log.Printf("Batch %s: %d/%d operation(s) in %v",
		result.BatchID, result.Completed, len(request.Operations), time.Since(start))

	status := http.StatusOK
	if !result.Succeeded {
		// Partial failure: the caller inspects the results to resume.
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func readRecords(w http.ResponseWriter, r *http.Request, table grist.Table) {
	filter := map[string][]any{}
	if raw := r.URL.Query().Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			http.Error(w, fmt.Sprintf("Invalid filter: %v", err), http.StatusBadRequest)
			return
		}
	}

	records, err := table.Records(r.Context(), filter)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read records: %v", err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func readColumns(w http.ResponseWriter, r *http.Request, table grist.Table) {
	columns, err := table.Columns(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read columns: %v", err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": columns})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
