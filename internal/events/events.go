// Package events publishes coordinator milestones to NATS JetStream.
// Publishing is optional and advisory: a nil *Emitter is a safe no-op, and
// a failed publish is logged and dropped rather than disturbing the scan.
// Key finds are durably mirrored to the audit table and the found file
// before they ever reach NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/interval"
	"git.home.luguber.info/inful/scancoord/internal/logfields"
)

const publishTimeout = 5 * time.Second

// KeyFound announces that a dispatch reported key material.
type KeyFound struct {
	EventID    string    `json:"event_id"`
	PuzzleID   int       `json:"puzzle_id"`
	Address    string    `json:"address"`
	DispatchID string    `json:"dispatch_id"`
	SubRange   string    `json:"sub_range"`
	RawLines   []string  `json:"raw_lines"`
	Timestamp  time.Time `json:"timestamp"`
}

// BlockCompleted announces one fully processed block. Key counts are decimal
// strings; they exceed uint64 for wide blocks.
type BlockCompleted struct {
	EventID     string    `json:"event_id"`
	PuzzleID    int       `json:"puzzle_id"`
	Range       string    `json:"range"`
	KeysScanned string    `json:"keys_scanned"`
	KeysSkipped string    `json:"keys_skipped,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// PoolSynced announces one pool synchronization round.
type PoolSynced struct {
	EventID   string    `json:"event_id"`
	PuzzleID  int       `json:"puzzle_id"`
	Spans     int       `json:"spans"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter publishes to {prefix}.key.found, {prefix}.block.completed and
// {prefix}.pool.synced. All methods are safe on a nil receiver.
type Emitter struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// Connect dials NATS and, when a stream name is configured, ensures a
// JetStream stream capturing the emitter's subjects. An empty URL disables
// publishing: Connect returns (nil, nil) and the nil emitter no-ops.
func Connect(cfg config.NATSConfig) (*Emitter, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("scancoord"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	e := &Emitter{conn: conn, js: js, prefix: cfg.SubjectPrefix}

	if cfg.Stream != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.SubjectPrefix + ".>"},
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
		}
	}

	slog.Info("NATS emitter initialized",
		slog.String("url", conn.ConnectedUrl()),
		slog.String("subject_prefix", cfg.SubjectPrefix))
	return e, nil
}

// EmitKeyFound publishes the find. Failures are logged at error level; the
// durable copies already exist by the time this runs.
func (e *Emitter) EmitKeyFound(puzzleID int, address, dispatchID string, sub interval.Span, rawLines []string) {
	if e == nil {
		return
	}
	e.publish("key.found", KeyFound{
		EventID:    uuid.NewString(),
		PuzzleID:   puzzleID,
		Address:    address,
		DispatchID: dispatchID,
		SubRange:   sub.String(),
		RawLines:   rawLines,
		Timestamp:  time.Now().UTC(),
	}, slog.LevelError)
}

// EmitBlockCompleted publishes block completion telemetry.
func (e *Emitter) EmitBlockCompleted(puzzleID int, block interval.Span, keysScanned, keysSkipped *big.Int) {
	if e == nil {
		return
	}
	ev := BlockCompleted{
		EventID:   uuid.NewString(),
		PuzzleID:  puzzleID,
		Range:     block.String(),
		Timestamp: time.Now().UTC(),
	}
	if keysScanned != nil {
		ev.KeysScanned = keysScanned.String()
	}
	if keysSkipped != nil && keysSkipped.Sign() > 0 {
		ev.KeysSkipped = keysSkipped.String()
	}
	e.publish("block.completed", ev, slog.LevelWarn)
}

// EmitPoolSynced publishes the outcome of one pool sync round.
func (e *Emitter) EmitPoolSynced(puzzleID, spans int) {
	if e == nil {
		return
	}
	e.publish("pool.synced", PoolSynced{
		EventID:   uuid.NewString(),
		PuzzleID:  puzzleID,
		Spans:     spans,
		Timestamp: time.Now().UTC(),
	}, slog.LevelWarn)
}

func (e *Emitter) publish(suffix string, event any, failLevel slog.Level) {
	subject := e.prefix + "." + suffix

	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event", slog.String("subject", subject), logfields.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if _, err := e.js.Publish(ctx, subject, data); err != nil {
		slog.Log(ctx, failLevel, "Failed to publish event",
			slog.String("subject", subject), logfields.Error(err))
		return
	}

	slog.Debug("Published event", slog.String("subject", subject))
}

// Close drains the connection. Safe on nil.
func (e *Emitter) Close() {
	if e == nil || e.conn == nil {
		return
	}
	e.conn.Close()
}
