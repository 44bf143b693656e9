package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/streamtts/internal/message"
)

const messageColumns = `
			id,
			lane,
			sender,
			text,
			amount,
			status,
			audio_path,
			audio_size,
			created_at,
			updated_at,
			processed_at,
			played_at,
			deleted_at`

// DefaultListLimit caps List when the filter does not set a limit.
const DefaultListLimit = 100

// Filter selects messages for List.
type Filter struct {
	// Lane restricts results to one lane when non-empty.
	Lane message.Lane
	// Statuses restricts results to any of the given statuses when non-empty.
	Statuses []message.Status
	// Limit caps the number of rows. Zero means DefaultListLimit, negative
	// means unlimited.
	Limit int
	// Newest orders by creation time descending instead of FIFO.
	Newest bool
}

// UpdateOption sets an extra column in the same statement as a status change.
type UpdateOption func(*update)

type update struct {
	processedAt *time.Time
	playedAt    *time.Time
	audioPath   *string
	audioSize   *int64
}

// WithProcessedAt records when synthesis started.
func WithProcessedAt(t time.Time) UpdateOption {
	return func(u *update) { u.processedAt = &t }
}

// WithPlayedAt records when playback started.
func WithPlayedAt(t time.Time) UpdateOption {
	return func(u *update) { u.playedAt = &t }
}

// WithArtifact records the synthesized audio file and its size.
func WithArtifact(path string, size int64) UpdateOption {
	return func(u *update) {
		u.audioPath = &path
		u.audioSize = &size
	}
}

// Create inserts a new PENDING message and returns it with its assigned ID.
func (s *Store) Create(ctx context.Context, m message.New) (*message.Message, error) {
	lane, err := message.ParseLane(m.Lane)
	if err != nil {
		return nil, err
	}

	var created *message.Message
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (
				lane,
				sender,
				text,
				amount,
				status,
				created_at,
				updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(lane),
			m.Sender,
			m.Text,
			nullInt64(m.Amount),
			string(message.StatusPending),
			now.UnixNano(),
			now.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert message from %q: %w", m.Sender, err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read inserted message id: %w", err)
		}

		created, err = getMessage(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get fetches one message by ID.
func (s *Store) Get(ctx context.Context, id int64) (*message.Message, error) {
	var m *message.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		m, err = getMessage(ctx, tx, id)
		return err
	})
	return m, err
}

// Oldest returns the earliest-created message in lane with the given
// status, or nil when there is none.
func (s *Store) Oldest(ctx context.Context, lane message.Lane, status message.Status) (*message.Message, error) {
	var m *message.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT`+messageColumns+`
			FROM messages
			WHERE status = ? AND lane = ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1`,
			string(status),
			string(lane),
		)
		var err error
		m, err = scanMessage(row)
		if errors.Is(err, sql.ErrNoRows) {
			m = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("oldest %s message in %s: %w", status, lane, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// List returns messages matching f, FIFO-ordered unless f.Newest is set.
func (s *Store) List(ctx context.Context, f Filter) ([]message.Message, error) {
	var (
		where []string
		args  []any
	)
	if f.Lane != "" {
		where = append(where, "lane = ?")
		args = append(args, string(f.Lane))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}

	query := `SELECT` + messageColumns + `
		FROM messages`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	if f.Newest {
		query += "\n\t\tORDER BY created_at DESC, id DESC"
	} else {
		query += "\n\t\tORDER BY created_at ASC, id ASC"
	}

	limit := f.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, limit)
	}

	var messages []message.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		messages, err = queryMessages(ctx, tx, query, args...)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Snapshot is a single-transaction view of one lane's status counts and
// the READY byte total of a sized lane.
type Snapshot struct {
	Counts     map[message.Status]int
	ReadyBytes int64
}

// Snapshot counts lane's messages by status and sums the READY bytes of
// sizedLane, reading both under one transaction.
func (s *Store) Snapshot(ctx context.Context, lane, sizedLane message.Lane) (Snapshot, error) {
	snap := Snapshot{Counts: make(map[message.Status]int)}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT status, COUNT(*)
			FROM messages
			WHERE lane = ?
			GROUP BY status`,
			string(lane),
		)
		if err != nil {
			return fmt.Errorf("count messages in %s: %w", lane, err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				status string
				n      int
			)
			if err := rows.Scan(&status, &n); err != nil {
				return fmt.Errorf("scan count row: %w", err)
			}
			snap.Counts[message.Status(status)] = n
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate count rows: %w", err)
		}

		snap.ReadyBytes, err = readyBytes(ctx, tx, sizedLane)
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Eviction reports one EvictOverflow pass.
type Eviction struct {
	// Total is the READY byte total before anything was deleted.
	Total int64
	// IDs are the deleted messages, oldest first.
	IDs   []int64
	Freed int64
}

// Remaining is the READY byte total after the pass.
func (e Eviction) Remaining() int64 { return e.Total - e.Freed }

// EvictOverflow soft-deletes the oldest sized READY messages of lane until
// their total is no longer over budget. The sum, the candidate scan and the
// delete share one transaction; a concurrent caller sees the result of this
// one before it sums.
func (s *Store) EvictOverflow(ctx context.Context, lane message.Lane, budget int64) (Eviction, error) {
	var ev Eviction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		total, err := readyBytes(ctx, tx, lane)
		if err != nil {
			return err
		}
		ev.Total = total
		if total <= budget {
			return nil
		}

		ready, err := queryMessages(ctx, tx,
			`SELECT`+messageColumns+`
			FROM messages
			WHERE status = ? AND lane = ?
			ORDER BY created_at ASC, id ASC`,
			string(message.StatusReady),
			string(lane),
		)
		if err != nil {
			return fmt.Errorf("list eviction candidates in %s: %w", lane, err)
		}

		ids, freed := selectEvictions(ready, total-budget)
		if len(ids) == 0 {
			return nil
		}

		now := s.now().UTC().UnixNano()
		args := []any{string(message.StatusDeleted), now, now}
		for _, id := range ids {
			args = append(args, id)
		}
		args = append(args, string(message.StatusReady))
		res, err := tx.ExecContext(ctx,
			`UPDATE messages
			SET status = ?, deleted_at = ?, updated_at = ?
			WHERE id IN (`+placeholders(len(ids))+`)
			AND status = ?`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("evict %d messages in %s: %w", len(ids), lane, err)
		}
		if err := requireRows(res, int64(len(ids))); err != nil {
			return fmt.Errorf("evict %d messages in %s: %w", len(ids), lane, err)
		}

		ev.IDs = ids
		ev.Freed = freed
		return nil
	})
	if err != nil {
		return Eviction{}, err
	}
	return ev, nil
}

// selectEvictions picks the oldest sized messages from ready, which must be
// in FIFO order, whose sizes add up to at least excess.
func selectEvictions(ready []message.Message, excess int64) ([]int64, int64) {
	var (
		ids   []int64
		freed int64
	)
	for _, r := range ready {
		if freed >= excess {
			break
		}
		if r.AudioSize <= 0 {
			continue
		}
		ids = append(ids, r.ID)
		freed += r.AudioSize
	}
	return ids, freed
}

// readyBytes sums audio_size over READY messages in lane. Messages in any
// other status contribute nothing, whatever their recorded size.
func readyBytes(ctx context.Context, tx *sql.Tx, lane message.Lane) (int64, error) {
	var total int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(audio_size), 0)
		FROM messages
		WHERE status = ? AND lane = ?`,
		string(message.StatusReady),
		string(lane),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum ready bytes in %s: %w", lane, err)
	}
	return total, nil
}

// UpdateStatus moves a message to status, applying opts in the same
// statement. The move must be allowed by the message state machine.
// Moving to DELETED also stamps deleted_at.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status message.Status, opts ...UpdateOption) (*message.Message, error) {
	var u update
	for _, opt := range opts {
		opt(&u)
	}

	var updated *message.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getMessage(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := message.ValidateTransition(current.Status, status); err != nil {
			return fmt.Errorf("message %d: %w", id, err)
		}

		now := s.now().UTC()
		sets := []string{"status = ?", "updated_at = ?"}
		args := []any{string(status), now.UnixNano()}
		if u.processedAt != nil {
			sets = append(sets, "processed_at = ?")
			args = append(args, u.processedAt.UTC().UnixNano())
		}
		if u.playedAt != nil {
			sets = append(sets, "played_at = ?")
			args = append(args, u.playedAt.UTC().UnixNano())
		}
		if u.audioPath != nil {
			sets = append(sets, "audio_path = ?", "audio_size = ?")
			args = append(args, nullString(*u.audioPath), *u.audioSize)
		}
		if status == message.StatusDeleted {
			sets = append(sets, "deleted_at = ?")
			args = append(args, now.UnixNano())
		}
		args = append(args, id, string(current.Status))

		res, err := tx.ExecContext(ctx,
			`UPDATE messages
			SET `+strings.Join(sets, ", ")+`
			WHERE id = ? AND status = ?`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("update status for message %d: %w", id, err)
		}
		if err := requireRows(res, 1); err != nil {
			return fmt.Errorf("update status for message %d: %w", id, err)
		}

		updated, err = getMessage(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkDeleted soft-deletes the given messages in one statement. Rows that
// are already DELETED, or in a status that cannot be deleted, are left
// alone. It returns the number of rows changed.
func (s *Store) MarkDeleted(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC().UnixNano()
		args := []any{string(message.StatusDeleted), now, now}
		for _, id := range ids {
			args = append(args, id)
		}
		args = append(args, deletableStatusArgs()...)

		res, err := tx.ExecContext(ctx,
			`UPDATE messages
			SET status = ?, deleted_at = ?, updated_at = ?
			WHERE id IN (`+placeholders(len(ids))+`)
			AND status IN (`+placeholders(len(deletableStatuses))+`)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("mark %d messages deleted: %w", len(ids), err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("read rows affected for mark deleted: %w", err)
		}
		n = int(affected)
		return nil
	})
	return n, err
}

// DeleteLane soft-deletes every message in lane whose status is one of
// statuses, in one statement, and returns the number of rows changed.
func (s *Store) DeleteLane(ctx context.Context, lane message.Lane, statuses ...message.Status) (int, error) {
	var allowed []message.Status
	for _, st := range statuses {
		if message.CanTransition(st, message.StatusDeleted) {
			allowed = append(allowed, st)
		}
	}
	if len(allowed) == 0 {
		return 0, nil
	}

	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UTC().UnixNano()
		args := []any{string(message.StatusDeleted), now, now, string(lane)}
		for _, st := range allowed {
			args = append(args, string(st))
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE messages
			SET status = ?, deleted_at = ?, updated_at = ?
			WHERE lane = ? AND status IN (`+placeholders(len(allowed))+`)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("delete %s messages: %w", lane, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("read rows affected for delete lane: %w", err)
		}
		n = int(affected)
		return nil
	})
	return n, err
}

// DeletedWithArtifacts returns DELETED messages that still reference an
// audio file.
func (s *Store) DeletedWithArtifacts(ctx context.Context) ([]message.Message, error) {
	var messages []message.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		messages, err = queryMessages(ctx, tx,
			`SELECT`+messageColumns+`
			FROM messages
			WHERE status = ? AND audio_path IS NOT NULL
			ORDER BY deleted_at ASC, id ASC`,
			string(message.StatusDeleted),
		)
		if err != nil {
			return fmt.Errorf("list deleted messages with artifacts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ClearArtifact nulls the audio reference of a DELETED message. The
// recorded size is kept for auditing; only READY rows count toward budgets.
func (s *Store) ClearArtifact(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE messages
			SET audio_path = NULL, updated_at = ?
			WHERE id = ? AND status = ?`,
			s.now().UTC().UnixNano(),
			id,
			string(message.StatusDeleted),
		)
		if err != nil {
			return fmt.Errorf("clear artifact for message %d: %w", id, err)
		}
		if err := requireRows(res, 1); err != nil {
			return fmt.Errorf("clear artifact for message %d: %w", id, err)
		}
		return nil
	})
}

var deletableStatuses = func() []message.Status {
	var out []message.Status
	for _, st := range message.Statuses {
		if message.CanTransition(st, message.StatusDeleted) {
			out = append(out, st)
		}
	}
	return out
}()

func deletableStatusArgs() []any {
	args := make([]any, 0, len(deletableStatuses))
	for _, st := range deletableStatuses {
		args = append(args, string(st))
	}
	return args
}

func getMessage(ctx context.Context, tx *sql.Tx, id int64) (*message.Message, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT`+messageColumns+`
		FROM messages
		WHERE id = ?`,
		id,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

func queryMessages(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]message.Message, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]message.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*message.Message, error) {
	var (
		m           message.Message
		lane        string
		status      string
		amount      sql.NullInt64
		audioPath   sql.NullString
		audioSize   sql.NullInt64
		createdAt   int64
		updatedAt   int64
		processedAt sql.NullInt64
		playedAt    sql.NullInt64
		deletedAt   sql.NullInt64
	)

	if err := row.Scan(
		&m.ID,
		&lane,
		&m.Sender,
		&m.Text,
		&amount,
		&status,
		&audioPath,
		&audioSize,
		&createdAt,
		&updatedAt,
		&processedAt,
		&playedAt,
		&deletedAt,
	); err != nil {
		return nil, err
	}

	m.Lane = message.Lane(lane)
	m.Status = message.Status(status)
	if amount.Valid {
		v := amount.Int64
		m.Amount = &v
	}
	if audioPath.Valid {
		m.AudioPath = audioPath.String
	}
	if audioSize.Valid {
		m.AudioSize = audioSize.Int64
	}
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	m.UpdatedAt = time.Unix(0, updatedAt).UTC()
	m.ProcessedAt = nullTime(processedAt)
	m.PlayedAt = nullTime(playedAt)
	m.DeletedAt = nullTime(deletedAt)

	return &m, nil
}

func requireRows(res sql.Result, want int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected: %w", err)
	}
	if affected < want {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
