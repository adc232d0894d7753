// Package web serves the relay's HTTP surface: JSON status, Prometheus
// metrics, a log tail and, on every other path, the WebSocket relay.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

type Routes struct {
	Status  *Status
	Logs    *LogBuffer
	Metrics http.Handler
	// Relay handles every path not claimed above.
	Relay http.Handler
}

func Handler(rt Routes) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		if rt.Status == nil {
			http.Error(w, "status unavailable", http.StatusNotFound)
			return
		}
		writeJSON(w, rt.Status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/about", aboutHandler)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	if rt.Logs != nil {
		mux.Handle("/api/logs", rt.Logs.Handler())
	}
	if rt.Metrics != nil {
		mux.Handle("/metrics", rt.Metrics)
	}
	if rt.Relay != nil {
		mux.Handle("/", rt.Relay)
	}
	return mux
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// Listen binds addr up front so bind errors surface during startup and
// callers learn the real port when addr ends in ":0".
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("web: listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve runs an HTTP server on ln until ctx is done, then shuts it down
// within shutdownTimeout. onShutdown hooks run when shutdown starts; use
// them for hijacked connections (WebSockets) the server does not track.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, shutdownTimeout time.Duration, onShutdown ...func()) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 3 * time.Second
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}
	for _, fn := range onShutdown {
		srv.RegisterOnShutdown(fn)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web: serve: %w", err)
	}
}
