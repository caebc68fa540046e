// Package api provides the HTTP surface of the receptionist service.
//
// It exposes endpoints for inbound message webhooks, conversation state
// inspection and administrative resets. The API integrates with the
// conversation pipeline, the messaging service and the store.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/conversation"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/messaging"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server wires the HTTP handlers to the conversation pipeline.
type Server struct {
	pipeline   *conversation.Pipeline
	msgService messaging.Service
	st         store.Store
	addr       string
	httpServer *http.Server
}

// NewServer creates an API server over the pipeline and messaging service.
func NewServer(pipeline *conversation.Pipeline, msgService messaging.Service, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		pipeline:   pipeline,
		msgService: msgService,
		st:         st,
		addr:       cfg.Addr,
	}
}

// Run starts the messaging service, the inbound response consumer and the
// HTTP server, and blocks until the listener stops or the context ends.
func (s *Server) Run(ctx context.Context) error {
	if err := s.msgService.Start(ctx); err != nil {
		return err
	}
	go s.consumeResponses(ctx)
	go s.consumeReceipts(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/conversations/", s.conversationsHandler)
	mux.HandleFunc("/health", s.healthHandler)

	// Twilio delivers inbound messages through its own webhook format.
	if twilioSvc, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/webhook/twilio", twilioSvc.TwilioWebhookHandler)
		slog.Info("Server mounted Twilio webhook", "path", "/webhook/twilio")
	}

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("Receptionist API running", "addr", s.addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// consumeResponses feeds inbound transport messages into the pipeline.
func (s *Server) consumeResponses(ctx context.Context) {
	for {
		select {
		case resp, ok := <-s.msgService.Responses():
			if !ok {
				slog.Debug("Server responses channel closed")
				return
			}
			if err := s.st.AddResponse(resp); err != nil {
				slog.Error("Server failed to record inbound message", "error", err, "from", resp.From)
			}
			result, err := s.pipeline.ProcessMessage(ctx, resp.From, resp.Body, "")
			if err != nil {
				slog.Error("Server failed to process inbound message", "error", err, "from", resp.From)
				continue
			}
			slog.Debug("Server processed inbound message", "from", resp.From,
				"stage", result.Stage, "delivered", result.Delivered)
		case <-ctx.Done():
			slog.Debug("Server response consumer stopping")
			return
		}
	}
}

// consumeReceipts drains transport delivery receipts into the store. Without
// a consumer the receipts buffer would eventually fill and stall the sender.
func (s *Server) consumeReceipts(ctx context.Context) {
	for {
		select {
		case receipt, ok := <-s.msgService.Receipts():
			if !ok {
				slog.Debug("Server receipts channel closed")
				return
			}
			if err := s.st.AddReceipt(receipt); err != nil {
				slog.Error("Server failed to record receipt", "error", err, "to", receipt.To)
			}
		case <-ctx.Done():
			slog.Debug("Server receipt consumer stopping")
			return
		}
	}
}
