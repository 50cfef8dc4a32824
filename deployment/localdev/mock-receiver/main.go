// mock-receiver is a local stand-in for the notification endpoints the engine
// escalates to. It accepts the webhook payloads, remembers them, and exposes
// an inbox per channel so a developer can see what an escalation produced.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

type notification struct {
	Channel    string    `json:"channel"`
	Message    string    `json:"message"`
	SentAt     time.Time `json:"sentAt"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type inbox struct {
	mu       sync.Mutex
	messages map[string][]notification
}

func newInbox() *inbox {
	return &inbox{messages: make(map[string][]notification)}
}

func (i *inbox) add(n notification) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.messages[n.Channel] = append(i.messages[n.Channel], n)
}

func (i *inbox) list(channel string) []notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]notification, len(i.messages[channel]))
	copy(out, i.messages[channel])
	return out
}

func main() {
	box := newInbox()
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// The engine POSTs to /notify/<channel>; GET returns that channel's inbox.
	mux.HandleFunc("/notify/", func(w http.ResponseWriter, r *http.Request) {
		channel := strings.TrimPrefix(r.URL.Path, "/notify/")
		if channel == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch r.Method {
		case http.MethodPost:
			var n notification
			if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if n.Channel == "" {
				n.Channel = channel
			}
			n.ReceivedAt = time.Now().UTC()
			box.add(n)
			w.WriteHeader(http.StatusAccepted)
		case http.MethodGet:
			writeJSON(w, map[string]any{"channel": channel, "messages": box.list(channel)})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	logger := log.New(log.Writer(), "mock-receiver ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
