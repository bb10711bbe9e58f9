package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/handduel/go/internal/duel/reporter"
	"github.com/mcdev12/handduel/go/internal/models"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep outcomes
	Replicas        int
	DuplicateWindow time.Duration // Window for Nats-Msg-Id de-duplication
}

func DefaultJetStreamConfig(url string) JetStreamConfig {
	return JetStreamConfig{
		URL:             url,
		StreamName:      "DUEL_OUTCOMES",
		SubjectPrefix:   "duel.outcomes",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          30 * 24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// JetStreamMirror publishes every submitted outcome to a JetStream stream.
// The round's idempotency key doubles as the message id, so a re-published
// outcome inside the duplicate window is dropped by the server.
type JetStreamMirror struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamMirror(ctx context.Context, cfg JetStreamConfig) (*JetStreamMirror, error) {
	opts := []nats.Option{
		nats.Name("handduel"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	m := &JetStreamMirror{nc: nc, js: js, config: cfg}
	if err := m.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return m, nil
}

func (m *JetStreamMirror) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        m.config.StreamName,
		Description: "Submitted duel outcomes",
		Subjects:    []string{m.config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      m.config.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    m.config.Replicas,
		Duplicates:  m.config.DuplicateWindow,
	}
}

func (m *JetStreamMirror) ensureStream(ctx context.Context) error {
	sc := m.streamConfig()
	if _, err := m.js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	log.Info().Str("stream", sc.Name).Msg("JetStream stream ready")
	return nil
}

// Envelope is the published JSON body.
type Envelope struct {
	Key         string                          `json:"key"`
	MatchID     models.MatchID                  `json:"matchId"`
	Result      models.Result                   `json:"result"`
	Winner      *models.ParticipantID           `json:"winner,omitempty"`
	Gestures    map[models.ParticipantID]string `json:"gestures"`
	GameID      string                          `json:"gameId,omitempty"`
	SubmittedBy models.ParticipantID            `json:"submittedBy"`
	Timestamp   time.Time                       `json:"timestamp"`
}

func NewEnvelope(sub reporter.Submission) Envelope {
	o := sub.Outcome
	env := Envelope{
		Key:         sub.Key,
		MatchID:     o.MatchID(),
		Result:      o.Result(),
		Gestures:    make(map[models.ParticipantID]string, 2),
		GameID:      sub.GameID,
		SubmittedBy: sub.SubmittedBy,
		Timestamp:   sub.At,
	}
	if winner, ok := o.Winner(); ok {
		env.Winner = &winner
	}
	for id, g := range o.Gestures() {
		env.Gestures[id] = g.WireName()
	}
	return env
}

// Subject routes outcomes by result so consumers can filter draws.
func (m *JetStreamMirror) Subject(sub reporter.Submission) string {
	return fmt.Sprintf("%s.%s", m.config.SubjectPrefix, sub.Outcome.Result())
}

func (m *JetStreamMirror) Publish(ctx context.Context, sub reporter.Submission) error {
	subject := m.Subject(sub)
	data, err := json.Marshal(NewEnvelope(sub))
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	ack, err := m.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Match-ID":        []string{sub.Outcome.MatchID().String()},
			"Idempotency-Key": []string{sub.Key},
		},
	},
		jetstream.WithMsgID(sub.Key),
		jetstream.WithExpectStream(m.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Info().
		Str("subject", subject).
		Str("match_id", sub.Outcome.MatchID().String()).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("outcome mirrored to JetStream")
	return nil
}

func (m *JetStreamMirror) Close() error {
	if m.nc != nil {
		m.nc.Drain()
	}
	return nil
}
