package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/clients"
	"github.com/mcdev12/handduel/go/clients/auth_client"
	"github.com/mcdev12/handduel/go/clients/detection_client"
	"github.com/mcdev12/handduel/go/clients/results_client"
	"github.com/mcdev12/handduel/go/internal/config"
	"github.com/mcdev12/handduel/go/internal/duel/channel"
	"github.com/mcdev12/handduel/go/internal/duel/outbox"
	"github.com/mcdev12/handduel/go/internal/duel/peer"
	"github.com/mcdev12/handduel/go/internal/duel/reporter"
	"github.com/mcdev12/handduel/go/internal/duel/sampler"
	"github.com/mcdev12/handduel/go/internal/duel/session"
	"github.com/mcdev12/handduel/go/internal/models"
	"github.com/mcdev12/handduel/go/internal/statusapi"
	"github.com/mcdev12/handduel/go/internal/store"
)

// App is the wired headless duel client.
type App struct {
	session *session.Session
	status  *statusapi.Server
	closers []func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func setupApp(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{}
	clock := clockwork.NewRealClock()

	tokens, self, err := setupCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}

	frames, err := sampler.NewDirSource(cfg.FramesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame source: %w", err)
	}
	detector := detection_client.NewDetectionClient(cfg.APIURL, tokens, cfg.DetectionTimeout)

	submitter, err := app.setupSubmitter(ctx, cfg, tokens)
	if err != nil {
		app.closeAll()
		return nil, err
	}
	mirrors, err := app.setupMirrors(ctx, cfg)
	if err != nil {
		app.closeAll()
		return nil, err
	}

	chCfg := channel.DefaultConfig(cfg.ServerURL)
	chCfg.Tokens = tokens
	chCfg.DialAttempts = cfg.DialAttempts
	chCfg.DialBackoff = cfg.DialBackoff

	sessCfg := session.DefaultConfig(self)
	sessCfg.SamplePeriod = cfg.SamplePeriod

	app.session = session.New(sessCfg, session.Deps{
		Channel:  channel.New(chCfg, clock),
		Sampler:  sampler.New(frames, detector, cfg.DetectionTimeout),
		Reporter: reporter.New(self, submitter, cfg.SubmitTimeout, clock, mirrors...),
		Peers:    peerFactory(cfg.ICEServers),
		Clock:    clock,
		Observer: logObserver{},
	})

	if cfg.StatusAddr != "" {
		app.status = statusapi.New(cfg.StatusAddr, app.session)
	}

	log.Info().
		Str("user_id", self.String()).
		Str("server_url", cfg.ServerURL).
		Str("api_url", cfg.APIURL).
		Str("frames_dir", cfg.FramesDir).
		Bool("database", cfg.DatabaseURL != "").
		Bool("nats", cfg.NATSURL != "").
		Msg("handduel configured")
	return app, nil
}

// setupCredentials returns the bearer source and the participant id it belongs to.
func setupCredentials(ctx context.Context, cfg config.Config) (clients.TokenSource, models.ParticipantID, error) {
	if cfg.Token != "" {
		return clients.StaticToken(cfg.Token), cfg.UserID, nil
	}
	auth := auth_client.NewSession(auth_client.NewAuthClient(cfg.APIURL), cfg.Username, cfg.Password)
	self, err := auth.UserID(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to log in: %w", err)
	}
	return auth, self, nil
}

// setupSubmitter writes outcomes straight to Postgres when a database is
// configured, otherwise through the results API.
func (a *App) setupSubmitter(ctx context.Context, cfg config.Config, tokens clients.TokenSource) (reporter.Submitter, error) {
	if cfg.DatabaseURL == "" {
		return results_client.NewResultsClient(cfg.APIURL, tokens, cfg.SubmitTimeout), nil
	}
	outcomes, err := store.NewOutcomeStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, outcomes.Close)
	if err := outcomes.Migrate(ctx); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (a *App) setupMirrors(ctx context.Context, cfg config.Config) ([]reporter.Mirror, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	mirror, err := outbox.NewJetStreamMirror(ctx, outbox.DefaultJetStreamConfig(cfg.NATSURL))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := mirror.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close outcome mirror")
		}
	})
	return []reporter.Mirror{mirror}, nil
}

func peerFactory(iceServers []string) session.PeerFactory {
	cfg := peer.Config{
		ICEServers:   iceServers,
		ReceiveVideo: true,
		OnTrack: func(track *webrtc.TrackRemote) {
			log.Info().
				Str("kind", track.Kind().String()).
				Str("codec", track.Codec().MimeType).
				Msg("receiving opponent media")
		},
	}
	return func(match models.Match, self models.ParticipantID, relay peer.Relay) (session.PeerLink, error) {
		link, err := peer.Open(cfg, match, self, relay)
		if err != nil {
			return nil, err
		}
		return link, nil
	}
}

// Run starts the session loop and the status API, then serves console
// commands from in until ctx is done, in is exhausted, or "quit".
func (a *App) Run(ctx context.Context, in io.Reader) error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.session.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("duel session failed")
		}
	}()

	if a.status != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.status.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("status API failed")
			}
		}()
	}

	return newConsole(a.session, os.Stdout).Serve(ctx, in)
}

// Shutdown leaves any match, stops the loop and releases every resource.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.session.Teardown(ctx); err != nil && !errors.Is(err, session.ErrStopped) {
		log.Warn().Err(err).Msg("session teardown failed")
	}
	if a.status != nil {
		if err := a.status.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("status API shutdown failed")
		}
	}
	if a.cancel != nil {
		a.cancel()
	}

	waited := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		log.Warn().Msg("timed out waiting for background work")
	}
	a.closeAll()
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
