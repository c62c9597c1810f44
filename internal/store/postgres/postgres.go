// Package postgres is an optional, durable implementation of the
// store.Store interface backed by jackc/pgx/v5: a *pgxpool.Pool holder,
// row structs scanned with pgx.RowToStructByNameLax via small
// collectRows/collectOne generic helpers, and JSON columns for payloads
// that don't warrant their own table.
//
// Callers that don't need durability across restarts should reach for
// store.NewMemory instead — this package exists for councils running as a
// long-lived service.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/council-run/council-core/internal/model"
	"github.com/council-run/council-core/internal/store"
	apperrors "github.com/council-run/council-core/pkg/errors"
	"github.com/council-run/council-core/pkg/logger"
)

// Store is the pgx-backed store.Store implementation.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperrors.StoreError("postgres.Open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.StoreError("postgres.Open", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an already-constructed pool, for callers that manage pool
// lifecycle themselves (tests, or a shared pool across multiple stores).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func collectRows[T any](rows pgx.Rows) ([]T, error) {
	return pgx.CollectRows(rows, pgx.RowToStructByNameLax[T])
}

func collectOne[T any](rows pgx.Rows) (T, error) {
	var zero T
	items, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[T])
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, apperrors.ErrNotFound
	}
	return items[0], nil
}

func mustMarshalJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("postgres: marshal failed, using fallback", logger.FieldError, err)
		return []byte("{}")
	}
	return data
}

// ========================================
// sessions
// ========================================

type sessionRow struct {
	ID                string
	CouncilID         string
	Title             string
	Summary           string
	SourceEventID     string
	LeadAgentID       string
	ConsultAgentIDs   []string
	Phase             string
	DeliberationRound int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	TerminalAt        *time.Time
}

const sessionCols = `id, council_id, title, summary, source_event_id, lead_agent_id, consult_agent_ids,
	phase, deliberation_round, created_at, updated_at, terminal_at`

func (s *Store) SaveSession(ctx context.Context, sess model.Session) error {
	const op = "postgres.SaveSession"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (`+sessionCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (id) DO UPDATE SET
		   title=EXCLUDED.title, summary=EXCLUDED.summary, lead_agent_id=EXCLUDED.lead_agent_id,
		   consult_agent_ids=EXCLUDED.consult_agent_ids, phase=EXCLUDED.phase,
		   deliberation_round=EXCLUDED.deliberation_round, updated_at=EXCLUDED.updated_at,
		   terminal_at=EXCLUDED.terminal_at`,
		sess.ID, sess.CouncilID, sess.Title, sess.Summary, sess.SourceEventID, sess.LeadAgentID,
		sess.ConsultAgentIDs, string(sess.Phase), sess.DeliberationRound, sess.CreatedAt, sess.UpdatedAt, sess.TerminalAt)
	if err != nil {
		return apperrors.StoreError(op, err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sess model.Session) error {
	return s.SaveSession(ctx, sess)
}

func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	const op = "postgres.GetSession"
	rows, err := s.pool.Query(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id)
	if err != nil {
		return model.Session{}, apperrors.StoreError(op, err)
	}
	row, err := collectOne[sessionRow](rows)
	if err != nil {
		if err == apperrors.ErrNotFound {
			return model.Session{}, apperrors.ErrNotFound
		}
		return model.Session{}, apperrors.StoreError(op, err)
	}
	return sessionFromRow(row), nil
}

func (s *Store) ListSessions(ctx context.Context, councilID string, phase ...model.Phase) ([]model.Session, error) {
	const op = "postgres.ListSessions"

	var rows pgx.Rows
	var err error
	if len(phase) > 0 && phase[0] != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+sessionCols+` FROM sessions WHERE council_id = $1 AND phase = $2 ORDER BY created_at`,
			councilID, string(phase[0]))
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+sessionCols+` FROM sessions WHERE council_id = $1 ORDER BY created_at`, councilID)
	}
	if err != nil {
		return nil, apperrors.StoreError(op, err)
	}
	out, err := collectRows[sessionRow](rows)
	if err != nil {
		return nil, apperrors.StoreError(op, err)
	}
	sessions := make([]model.Session, len(out))
	for i, row := range out {
		sessions[i] = sessionFromRow(row)
	}
	return sessions, nil
}

func sessionFromRow(row sessionRow) model.Session {
	return model.Session{
		ID:                row.ID,
		CouncilID:         row.CouncilID,
		Title:             row.Title,
		Summary:           row.Summary,
		SourceEventID:     row.SourceEventID,
		LeadAgentID:       row.LeadAgentID,
		ConsultAgentIDs:   row.ConsultAgentIDs,
		Phase:             model.Phase(row.Phase),
		DeliberationRound: row.DeliberationRound,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
		TerminalAt:        row.TerminalAt,
	}
}

// ========================================
// messages
// ========================================

type messageRow struct {
	ID          string
	SessionID   string
	FromAgentID string
	ToAgentID   string
	Type        string
	Content     string
	CreatedAt   time.Time
	Seq         int64
}

const messageCols = `id, session_id, from_agent_id, to_agent_id, type, content, created_at, seq`

func (s *Store) SaveMessage(ctx context.Context, m model.Message) error {
	const op = "postgres.SaveMessage"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (`+messageCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.SessionID, m.FromAgentID, m.ToAgentID, string(m.Type), m.Content, m.CreatedAt, m.Seq)
	if err != nil {
		return apperrors.StoreError(op, err)
	}
	return nil
}

func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	const op = "postgres.GetMessages"
	rows, err := s.pool.Query(ctx, `SELECT `+messageCols+` FROM messages WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, apperrors.StoreError(op, err)
	}
	out, err := collectRows[messageRow](rows)
	if err != nil {
		return nil, apperrors.StoreError(op, err)
	}
	messages := make([]model.Message, len(out))
	for i, row := range out {
		messages[i] = model.Message{
			ID: row.ID, SessionID: row.SessionID, FromAgentID: row.FromAgentID, ToAgentID: row.ToAgentID,
			Type: model.MessageType(row.Type), Content: row.Content, CreatedAt: row.CreatedAt, Seq: row.Seq,
		}
	}
	return messages, nil
}

// ========================================
// votes
// ========================================

type voteRow struct {
	ID        string
	SessionID string
	AgentID   string
	Value     string
	Reasoning string
	Round     int
	CreatedAt time.Time
}

const voteCols = `id, session_id, agent_id, value, reasoning, round, created_at`

func (s *Store) SaveVote(ctx context.Context, v model.Vote) error {
	const op = "postgres.SaveVote"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO votes (`+voteCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		v.ID, v.SessionID, v.AgentID, string(v.Value), v.Reasoning, v.Round, v.CreatedAt)
	if err != nil {
		return apperrors.StoreError(op, err)
	}
	return nil
}

func (s *Store) GetVotes(ctx context.Context, sessionID string) ([]model.Vote, error) {
	const op = "postgres.GetVotes"
	rows, err := s.pool.Query(ctx, `SELECT `+voteCols+` FROM votes WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, apperrors.StoreError(op, err)
	}
	out, err := collectRows[voteRow](rows)
	if err != nil {
		return nil, apperrors.StoreError(op, err)
	}
	votes := make([]model.Vote, len(out))
	for i, row := range out {
		votes[i] = model.Vote{
			ID: row.ID, SessionID: row.SessionID, AgentID: row.AgentID,
			Value: model.VoteValue(row.Value), Reasoning: row.Reasoning, Round: row.Round, CreatedAt: row.CreatedAt,
		}
	}
	return votes, nil
}

// ========================================
// decisions
// ========================================

type decisionRow struct {
	ID              string
	SessionID       string
	Outcome         string
	Tally           []byte
	HumanReviewedBy string
	HumanNotes      string
	VetoExercised   bool
	CreatedAt       time.Time
	FinalizedAt     *time.Time
}

const decisionCols = `id, session_id, outcome, tally, human_reviewed_by, human_notes, veto_exercised, created_at, finalized_at`

func (s *Store) SaveDecision(ctx context.Context, d model.Decision) error {
	const op = "postgres.SaveDecision"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decisions (`+decisionCols+`)
		 VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7,$8,$9)
		 ON CONFLICT (session_id) DO UPDATE SET
		   outcome=EXCLUDED.outcome, tally=EXCLUDED.tally, human_reviewed_by=EXCLUDED.human_reviewed_by,
		   human_notes=EXCLUDED.human_notes, veto_exercised=EXCLUDED.veto_exercised, finalized_at=EXCLUDED.finalized_at`,
		d.ID, d.SessionID, string(d.Outcome), mustMarshalJSON(d.Tally), d.HumanReviewedBy, d.HumanNotes,
		d.VetoExercised, d.CreatedAt, d.FinalizedAt)
	if err != nil {
		return apperrors.StoreError(op, err)
	}
	return nil
}

func (s *Store) UpdateDecision(ctx context.Context, d model.Decision) error {
	return s.SaveDecision(ctx, d)
}

func (s *Store) GetDecision(ctx context.Context, sessionID string) (model.Decision, error) {
	const op = "postgres.GetDecision"
	rows, err := s.pool.Query(ctx, `SELECT `+decisionCols+` FROM decisions WHERE session_id = $1`, sessionID)
	if err != nil {
		return model.Decision{}, apperrors.StoreError(op, err)
	}
	row, err := collectOne[decisionRow](rows)
	if err != nil {
		if err == apperrors.ErrNotFound {
			return model.Decision{}, apperrors.ErrNotFound
		}
		return model.Decision{}, apperrors.StoreError(op, err)
	}
	return decisionFromRow(row), nil
}

func (s *Store) ListPendingDecisions(ctx context.Context, councilID string) ([]model.Decision, error) {
	const op = "postgres.ListPendingDecisions"
	rows, err := s.pool.Query(ctx,
		`SELECT d.id, d.session_id, d.outcome, d.tally, d.human_reviewed_by, d.human_notes, d.veto_exercised, d.created_at, d.finalized_at
		 FROM decisions d JOIN sessions s ON s.id = d.session_id
		 WHERE s.council_id = $1 AND d.finalized_at IS NULL
		 ORDER BY d.created_at`, councilID)
	if err != nil {
		return nil, apperrors.StoreError(op, err)
	}
	out, err := collectRows[decisionRow](rows)
	if err != nil {
		return nil, apperrors.StoreError(op, err)
	}
	decisions := make([]model.Decision, len(out))
	for i, row := range out {
		decisions[i] = decisionFromRow(row)
	}
	return decisions, nil
}

func decisionFromRow(row decisionRow) model.Decision {
	var tally model.Tally
	_ = json.Unmarshal(row.Tally, &tally)
	return model.Decision{
		ID: row.ID, SessionID: row.SessionID, Outcome: model.Outcome(row.Outcome), Tally: tally,
		HumanReviewedBy: row.HumanReviewedBy, HumanNotes: row.HumanNotes, VetoExercised: row.VetoExercised,
		CreatedAt: row.CreatedAt, FinalizedAt: row.FinalizedAt,
	}
}

// ========================================
// webhook events
// ========================================

type eventRow struct {
	ID         string
	CouncilID  string
	Source     string
	EventType  string
	Payload    []byte
	ReceivedAt time.Time
}

const eventCols = `id, council_id, source, event_type, payload, received_at`

func (s *Store) SaveEvent(ctx context.Context, e model.WebhookEvent) error {
	const op = "postgres.SaveEvent"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events (`+eventCols+`) VALUES ($1,$2,$3,$4,$5::jsonb,$6)`,
		e.ID, e.CouncilID, e.Source, e.EventType, mustMarshalJSON(e.Payload), e.ReceivedAt)
	if err != nil {
		return apperrors.StoreError(op, err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, councilID string) ([]model.WebhookEvent, error) {
	const op = "postgres.ListEvents"
	rows, err := s.pool.Query(ctx, `SELECT `+eventCols+` FROM webhook_events WHERE council_id = $1 ORDER BY received_at`, councilID)
	if err != nil {
		return nil, apperrors.StoreError(op, err)
	}
	out, err := collectRows[eventRow](rows)
	if err != nil {
		return nil, apperrors.StoreError(op, err)
	}
	events := make([]model.WebhookEvent, len(out))
	for i, row := range out {
		var payload map[string]any
		_ = json.Unmarshal(row.Payload, &payload)
		events[i] = model.WebhookEvent{
			ID: row.ID, CouncilID: row.CouncilID, Source: row.Source, EventType: row.EventType,
			Payload: payload, ReceivedAt: row.ReceivedAt,
		}
	}
	return events, nil
}
