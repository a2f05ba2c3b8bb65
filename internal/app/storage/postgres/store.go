// Package postgres implements the storage interfaces on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/beatgate/beatgate/internal/app/domain/chat"
	"github.com/beatgate/beatgate/internal/app/domain/session"
	"github.com/beatgate/beatgate/internal/app/domain/settlement"
	"github.com/beatgate/beatgate/internal/app/domain/station"
	"github.com/beatgate/beatgate/internal/app/storage"
	"github.com/beatgate/beatgate/internal/payment"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.ChallengeStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)
var _ storage.StationStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// --- row types --------------------------------------------------------------

type challengeRow struct {
	ID           string         `db:"id"`
	PayTo        string         `db:"pay_to"`
	AmountAtomic string         `db:"amount_atomic"`
	Asset        string         `db:"asset"`
	TokenAddress string         `db:"token_address"`
	Chain        string         `db:"chain"`
	ChainID      int64          `db:"chain_id"`
	Nonce        string         `db:"nonce"`
	ExpiresAt    time.Time      `db:"expires_at"`
	Status       string         `db:"status"`
	TxHash       sql.NullString `db:"tx_hash"`
	Consumed     bool           `db:"consumed"`
	CreatedAt    time.Time      `db:"created_at"`
	SettledAt    sql.NullTime   `db:"settled_at"`
}

func (r challengeRow) domain() payment.Challenge {
	ch := payment.Challenge{
		ID:           r.ID,
		PayTo:        r.PayTo,
		AmountAtomic: r.AmountAtomic,
		Asset:        r.Asset,
		TokenAddress: r.TokenAddress,
		Chain:        r.Chain,
		ChainID:      r.ChainID,
		Nonce:        r.Nonce,
		ExpiresAt:    r.ExpiresAt,
		Status:       r.Status,
		Consumed:     r.Consumed,
		CreatedAt:    r.CreatedAt,
	}
	if r.TxHash.Valid {
		ch.TxHash = r.TxHash.String
	}
	if r.SettledAt.Valid {
		ch.SettledAt = r.SettledAt.Time
	}
	return ch
}

const challengeColumns = `id, pay_to, amount_atomic, asset, token_address, chain, chain_id, nonce,
	expires_at, status, tx_hash, consumed, created_at, settled_at`

// --- ChallengeStore ---------------------------------------------------------

func (s *Store) CreateChallenge(ctx context.Context, ch payment.Challenge) (payment.Challenge, error) {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.Status == "" {
		ch.Status = payment.StatusPending
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_challenges
			(id, pay_to, amount_atomic, asset, token_address, chain, chain_id, nonce, expires_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ch.ID, ch.PayTo, ch.AmountAtomic, ch.Asset, ch.TokenAddress, ch.Chain, ch.ChainID,
		ch.Nonce, ch.ExpiresAt, ch.Status, ch.CreatedAt)
	if err != nil {
		return payment.Challenge{}, err
	}
	return ch, nil
}

func (s *Store) GetChallenge(ctx context.Context, id string) (payment.Challenge, error) {
	var row challengeRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+challengeColumns+`
		FROM payment_challenges WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Challenge{}, storage.ErrNotFound
	}
	if err != nil {
		return payment.Challenge{}, err
	}
	return row.domain(), nil
}

func (s *Store) ListChallenges(ctx context.Context, status string) ([]payment.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM payment_challenges`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	var rows []challengeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]payment.Challenge, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

// MarkChallengeSettled uses a conditional UPDATE so that exactly one caller
// wins the PENDING -> SETTLED transition. Losers get the stored row back.
func (s *Store) MarkChallengeSettled(ctx context.Context, id, txHash string, settledAt time.Time) (payment.Challenge, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_challenges
		SET status = $2, tx_hash = $3, settled_at = $4
		WHERE id = $1 AND status = $5
	`, id, payment.StatusSettled, txHash, settledAt.UTC(), payment.StatusPending)
	if err != nil {
		return payment.Challenge{}, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return payment.Challenge{}, err
	}
	if rows == 1 {
		return s.GetChallenge(ctx, id)
	}

	stored, err := s.GetChallenge(ctx, id)
	if err != nil {
		return payment.Challenge{}, err
	}
	return stored, storage.ErrChallengeSettled
}

func (s *Store) ConsumeChallenge(ctx context.Context, id string) (payment.Challenge, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_challenges
		SET consumed = TRUE
		WHERE id = $1 AND status = $2 AND consumed = FALSE
	`, id, payment.StatusSettled)
	if err != nil {
		return payment.Challenge{}, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return payment.Challenge{}, err
	}
	if rows == 1 {
		return s.GetChallenge(ctx, id)
	}

	stored, err := s.GetChallenge(ctx, id)
	if err != nil {
		return payment.Challenge{}, err
	}
	if stored.Status == payment.StatusSettled && stored.Consumed {
		return stored, storage.ErrChallengeConsumed
	}
	return payment.Challenge{}, storage.ErrNotFound
}

func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM payment_challenges
		WHERE status = $1 AND expires_at < $2
	`, payment.StatusPending, now.UTC())
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// --- SettlementStore --------------------------------------------------------

func (s *Store) RecordSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_records (id, challenge_id, strategy, ok, tx_hash, code, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.ChallengeID, rec.Strategy, rec.OK, rec.TxHash, rec.Code, rec.Message, rec.CreatedAt)
	if err != nil {
		return settlement.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListSettlements(ctx context.Context, challengeID string) ([]settlement.Record, error) {
	type row struct {
		ID          string    `db:"id"`
		ChallengeID string    `db:"challenge_id"`
		Strategy    string    `db:"strategy"`
		OK          bool      `db:"ok"`
		TxHash      string    `db:"tx_hash"`
		Code        string    `db:"code"`
		Message     string    `db:"message"`
		CreatedAt   time.Time `db:"created_at"`
	}

	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, challenge_id, strategy, ok, tx_hash, code, message, created_at
		FROM settlement_records
		WHERE challenge_id = $1
		ORDER BY created_at
	`, challengeID)
	if err != nil {
		return nil, err
	}

	result := make([]settlement.Record, 0, len(rows))
	for _, r := range rows {
		result = append(result, settlement.Record{
			ID: r.ID, ChallengeID: r.ChallengeID, Strategy: r.Strategy, OK: r.OK,
			TxHash: r.TxHash, Code: r.Code, Message: r.Message, CreatedAt: r.CreatedAt,
		})
	}
	return result, nil
}

// --- StationStore -----------------------------------------------------------

type stationRow struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	Genre      string         `db:"genre"`
	Live       bool           `db:"live"`
	NowPlaying sql.NullString `db:"now_playing"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r stationRow) domain() station.Station {
	st := station.Station{
		ID: r.ID, Name: r.Name, Genre: r.Genre, Live: r.Live,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.NowPlaying.Valid {
		st.NowPlaying = r.NowPlaying.String
	}
	return st
}

func (s *Store) CreateStation(ctx context.Context, st station.Station) (station.Station, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stations (id, name, genre, live, now_playing, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, st.ID, st.Name, st.Genre, st.Live, st.NowPlaying, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return station.Station{}, err
	}
	return st, nil
}

func (s *Store) UpdateStation(ctx context.Context, st station.Station) (station.Station, error) {
	st.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE stations
		SET name = $2, genre = $3, live = $4, now_playing = NULLIF($5, ''), updated_at = $6
		WHERE id = $1
	`, st.ID, st.Name, st.Genre, st.Live, st.NowPlaying, st.UpdatedAt)
	if err != nil {
		return station.Station{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return station.Station{}, storage.ErrNotFound
	}
	return s.GetStation(ctx, st.ID)
}

func (s *Store) GetStation(ctx context.Context, id string) (station.Station, error) {
	var row stationRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, genre, live, now_playing, created_at, updated_at
		FROM stations WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return station.Station{}, storage.ErrNotFound
	}
	if err != nil {
		return station.Station{}, err
	}
	return row.domain(), nil
}

func (s *Store) ListStations(ctx context.Context) ([]station.Station, error) {
	var rows []stationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, genre, live, now_playing, created_at, updated_at
		FROM stations ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	result := make([]station.Station, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

type trackRow struct {
	ID          string         `db:"id"`
	StationID   string         `db:"station_id"`
	ChallengeID string         `db:"challenge_id"`
	Prompt      string         `db:"prompt"`
	Status      string         `db:"status"`
	AudioURL    sql.NullString `db:"audio_url"`
	DurationSec int            `db:"duration_sec"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r trackRow) domain() station.Track {
	tr := station.Track{
		ID: r.ID, StationID: r.StationID, ChallengeID: r.ChallengeID,
		Prompt: r.Prompt, Status: r.Status, DurationSec: r.DurationSec,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.AudioURL.Valid {
		tr.AudioURL = r.AudioURL.String
	}
	if r.Error.Valid {
		tr.Error = r.Error.String
	}
	return tr
}

const trackColumns = `id, station_id, challenge_id, prompt, status, audio_url, duration_sec, error, created_at, updated_at`

func (s *Store) EnqueueTrack(ctx context.Context, tr station.Track) (station.Track, error) {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.Status == "" {
		tr.Status = station.TrackQueued
	}
	now := time.Now().UTC()
	tr.CreatedAt = now
	tr.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (id, station_id, challenge_id, prompt, status, audio_url, duration_sec, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10)
	`, tr.ID, tr.StationID, tr.ChallengeID, tr.Prompt, tr.Status, tr.AudioURL, tr.DurationSec, tr.Error, tr.CreatedAt, tr.UpdatedAt)
	if err != nil {
		return station.Track{}, err
	}
	return tr, nil
}

func (s *Store) UpdateTrack(ctx context.Context, tr station.Track) (station.Track, error) {
	tr.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE tracks
		SET status = $2, audio_url = NULLIF($3, ''), duration_sec = $4, error = NULLIF($5, ''), updated_at = $6
		WHERE id = $1
	`, tr.ID, tr.Status, tr.AudioURL, tr.DurationSec, tr.Error, tr.UpdatedAt)
	if err != nil {
		return station.Track{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return station.Track{}, storage.ErrNotFound
	}
	return s.GetTrack(ctx, tr.ID)
}

func (s *Store) GetTrack(ctx context.Context, id string) (station.Track, error) {
	var row trackRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+trackColumns+` FROM tracks WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return station.Track{}, storage.ErrNotFound
	}
	if err != nil {
		return station.Track{}, err
	}
	return row.domain(), nil
}

func (s *Store) ListQueue(ctx context.Context, stationID string) ([]station.Track, error) {
	var rows []trackRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+trackColumns+` FROM tracks
		WHERE station_id = $1
		ORDER BY created_at, id
	`, stationID)
	if err != nil {
		return nil, err
	}
	result := make([]station.Track, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

// --- SessionStore -----------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, wallet, station_id, created_at, expires_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)
	`, sess.ID, sess.Wallet, sess.StationID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	type row struct {
		ID        string         `db:"id"`
		Wallet    sql.NullString `db:"wallet"`
		StationID sql.NullString `db:"station_id"`
		CreatedAt time.Time      `db:"created_at"`
		ExpiresAt time.Time      `db:"expires_at"`
	}

	var r row
	err := s.db.GetContext(ctx, &r, `
		SELECT id, wallet, station_id, created_at, expires_at
		FROM sessions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return session.Session{}, err
	}

	sess := session.Session{ID: r.ID, CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt}
	if r.Wallet.Valid {
		sess.Wallet = r.Wallet.String
	}
	if r.StationID.Valid {
		sess.StationID = r.StationID.String
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// --- ChatStore --------------------------------------------------------------

func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, station_id, session_id, author, body, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
	`, msg.ID, msg.StationID, msg.SessionID, msg.Author, msg.Body, msg.CreatedAt)
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, stationID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	type row struct {
		ID        string         `db:"id"`
		StationID string         `db:"station_id"`
		SessionID sql.NullString `db:"session_id"`
		Author    string         `db:"author"`
		Body      string         `db:"body"`
		CreatedAt time.Time      `db:"created_at"`
	}

	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, station_id, session_id, author, body, created_at
		FROM (
			SELECT id, station_id, session_id, author, body, created_at
			FROM chat_messages
			WHERE station_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) tail
		ORDER BY created_at
	`, stationID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		msg := chat.Message{ID: r.ID, StationID: r.StationID, Author: r.Author, Body: r.Body, CreatedAt: r.CreatedAt}
		if r.SessionID.Valid {
			msg.SessionID = r.SessionID.String
		}
		result = append(result, msg)
	}
	return result, nil
}
