// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/rover_perception/internal/config"
	"github.com/relabs-tech/rover_perception/internal/journal"
	"github.com/relabs-tech/rover_perception/internal/navigation"
	"github.com/relabs-tech/rover_perception/internal/proximity"
	"github.com/relabs-tech/rover_perception/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// webServer serves read-only diagnostics over the shared store. It never
// writes the documents it exposes.
type webServer struct {
	proximityFile string
	visionDir     string
	journal       *journal.Journal
	push          time.Duration
	log           *zap.SugaredLogger

	mu      sync.RWMutex
	nav     navigation.Status
	haveNav bool
}

// streamMessage is one websocket push.
type streamMessage struct {
	Type      string              `json:"type"` // "proximity", "status"
	Proximity *proximity.Document `json:"proximity,omitempty"`
	Vision    *store.Liveness     `json:"vision,omitempty"`
	Nav       *navigation.Status  `json:"nav,omitempty"`
}

func (s *webServer) setNav(st navigation.Status) {
	s.mu.Lock()
	s.nav, s.haveNav = st, true
	s.mu.Unlock()
}

func (s *webServer) navStatus() (navigation.Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nav, s.haveNav
}

func writeJSON(w http.ResponseWriter, v any, log *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugw("web: json encode error", "error", err)
	}
}

func (s *webServer) handler(static string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/proximity", func(w http.ResponseWriter, r *http.Request) {
		doc, err := proximity.ReadDocument(s.proximityFile)
		if err != nil {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, doc, s.log)
	})

	mux.HandleFunc("GET /api/vision/status", func(w http.ResponseWriter, r *http.Request) {
		l, err := store.ReadLiveness(s.visionDir)
		if err != nil {
			http.Error(w, "capture service has not reported", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, l, s.log)
	})

	mux.HandleFunc("GET /api/nav", func(w http.ResponseWriter, r *http.Request) {
		st, ok := s.navStatus()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, st, s.log)
	})

	mux.HandleFunc("GET /api/events", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		events, err := s.journal.Recent(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []journal.Event{}
		}
		writeJSON(w, events, s.log)
	})

	mux.HandleFunc("GET /ws", s.handleStream)

	if static != "" {
		mux.Handle("/", http.FileServer(http.Dir(static)))
	}
	return mux
}

// handleStream pushes every new proximity document, and the liveness and
// nav status alongside it, until the client goes away.
func (s *webServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("web: websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	// the reader only notices the close handshake
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debugw("web: websocket error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(s.push)
	defer ticker.Stop()
	var lastSeq uint64
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		doc, err := proximity.ReadDocument(s.proximityFile)
		if err != nil || doc.Sequence == lastSeq {
			continue
		}
		lastSeq = doc.Sequence

		msg := streamMessage{Type: "proximity", Proximity: &doc}
		if l, err := store.ReadLiveness(s.visionDir); err == nil {
			msg.Vision = &l
		}
		if st, ok := s.navStatus(); ok {
			msg.Nav = &st
		}
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// subscribeNav mirrors the navigator status from MQTT.
func (s *webServer) subscribeNav(client mqtt.Client, topic string) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st navigation.Status
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			s.log.Debugw("web: nav status unmarshal error", "error", err)
			return
		}
		s.setNav(st)
	})
	token.Wait()
	return token.Error()
}

// RunWeb serves the diagnostics API until ctx is done.
func RunWeb(ctx context.Context, log *zap.SugaredLogger) error {
	cfg := config.Get()
	log = log.Named("web")

	j, err := journal.Open(cfg.JournalPath, "web")
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer j.Close()

	s := &webServer{
		proximityFile: cfg.ProximityFile,
		visionDir:     cfg.StoreDir,
		journal:       j,
		push:          200 * time.Millisecond,
		log:           log,
	}

	if cfg.MQTTBroker != "" {
		opts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTTBroker).
			SetClientID(cfg.MQTTClientIDConsole + "-web")
		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return token.Error()
		}
		defer client.Disconnect(250)
		if err := s.subscribeNav(client, cfg.TopicNavStatus); err != nil {
			return err
		}
		log.Infow("web: subscribed", "topic", cfg.TopicNavStatus)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           s.handler("web"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("web: listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
