package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
)

type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// TLSCert and TLSKey switch the listener to HTTPS when both are set.
	TLSCert string
	TLSKey  string
}

type Server struct {
	http *http.Server
	opts Options
	log  *log.Logger
}

func New(handler http.Handler, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Server{
		http: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       opts.IdleTimeout,
		},
		opts: opts,
		log:  logger,
	}
}

func (s *Server) listen() error {
	if s.opts.TLSCert != "" && s.opts.TLSKey != "" {
		return s.http.ListenAndServeTLS(s.opts.TLSCert, s.opts.TLSKey)
	}

	return s.http.ListenAndServe()
}

// Run serves until ctx is cancelled, then shuts down with a 10s grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server started", log.Str("addr", s.http.Addr), log.Bool("tls", s.opts.TLSCert != ""))
		if err := s.listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		grace, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.log.Info("shutting down http server", log.Str("addr", s.http.Addr))
		if err := s.http.Shutdown(grace); err != nil {
			s.log.Error("http shutdown error", log.Err(err))

			return err
		}
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		s.log.Error("http server error", log.Str("addr", s.http.Addr), log.Err(err))
		return err
	}

	return nil
}
