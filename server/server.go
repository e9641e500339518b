// Package server is the webhook surface the phone/SMS transport adapter calls.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

type Config struct {
	Addr            string        `split_words:"true" default:":8080"`
	ReadTimeout     time.Duration `split_words:"true" default:"10s"`
	WriteTimeout    time.Duration `split_words:"true" default:"40s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
}

// Engine is the part of the conversational engine the webhook drives.
type Engine interface {
	HandleTurn(ctx context.Context, conversationID string, channel statex.Channel, restaurantKey, customer, utterance string) (string, bool, error)
	EndSession(ctx context.Context, conversationID string) (statex.CommitState, bool)
}

type Server struct {
	echo   *echo.Echo
	engine Engine
	cfg    Config
}

func New(engine Engine, cfg Config) *Server {
	s := &Server{echo: echo.New(), engine: engine, cfg: cfg}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.health)

	g := s.echo.Group("/v1")
	g.POST("/turns", s.handleTurn)
	g.POST("/sessions/:conversation_id/end", s.endSession)
}

// ServeHTTP lets tests and other muxes drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run serves until ctx is done, then drains in-flight turns.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.echo,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("webhook server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type turnRequest struct {
	ConversationID string `json:"conversation_id"`
	Channel        string `json:"channel"`
	Restaurant     string `json:"restaurant"`
	Customer       string `json:"customer"`
	Utterance      string `json:"utterance"`
}

type turnResponse struct {
	Text  string `json:"text"`
	Ended bool   `json:"ended"`
}

type endResponse struct {
	ConversationID string `json:"conversation_id"`
	CommitState    string `json:"commit_state"`
}

func (s *Server) health(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTurn(c *echo.Context) error {
	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid turn payload")
	}
	if strings.TrimSpace(req.ConversationID) == "" || strings.TrimSpace(req.Restaurant) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id and restaurant are required")
	}

	channel := statex.ChannelText
	if strings.TrimSpace(req.Channel) != "" {
		parsed, err := statex.ParseChannel(req.Channel)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown channel")
		}
		channel = parsed
	}

	text, ended, err := s.engine.HandleTurn(c.Request().Context(), req.ConversationID, channel, req.Restaurant, req.Customer, req.Utterance)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, turnResponse{Text: text, Ended: ended})
	case errors.Is(err, contractx.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid turn")
	case errors.Is(err, contractx.ErrTurnCancelled), errors.Is(err, context.Canceled):
		// the transport went away; nothing useful to send back
		return echo.NewHTTPError(http.StatusRequestTimeout, "turn cancelled")
	default:
		log.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("turn request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "turn failed")
	}
}

func (s *Server) endSession(c *echo.Context) error {
	id := strings.TrimSpace(c.Param("conversation_id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id required")
	}
	state, ok := s.engine.EndSession(c.Request().Context(), id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, endResponse{ConversationID: id, CommitState: string(state)})
}
