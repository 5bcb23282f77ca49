// Package recorder keeps an inventory of the commands and addresses seen
// on the bus. It exists to make unmapped commands visible; it stores no
// sensor values.
package recorder

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/ebus-bridge/internal/ebus"
)

// ErrNotStarted is returned by Record before Start or after Stop.
var ErrNotStarted = errors.New("recorder: not started")

const timeLayout = time.RFC3339Nano

// Logger interface for optional logging.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// CommandRecord is one row of ebus_commands.
type CommandRecord struct {
	Command         string    `json:"command"`
	Name            string    `json:"name"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	MessageCount    int64     `json:"message_count"`
	InvalidCount    int64     `json:"invalid_count"`
	LastQueryHex    string    `json:"last_query_hex"`
	LastResponseHex string    `json:"last_response_hex"`
}

// Known reports whether the command matched a registry spec.
func (c CommandRecord) Known() bool {
	return c.Name != ""
}

// AddressRecord is one row of ebus_addresses.
type AddressRecord struct {
	Address      byte      `json:"address"`
	Name         string    `json:"name"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int64     `json:"message_count"`
}

// Recorder upserts one row per command and per address for every message.
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time

	commandStmt *sql.Stmt
	addressStmt *sql.Stmt
	stmtMu      sync.Mutex
}

// New creates a recorder. The database must already have the
// ebus_commands and ebus_addresses tables.
func New(db *sql.DB) *Recorder {
	return &Recorder{db: db, now: time.Now}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the upsert statements. Calling it twice is a no-op.
func (r *Recorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.commandStmt != nil {
		return nil
	}

	commandStmt, err := r.db.Prepare(`
		INSERT INTO ebus_commands
			(command, name, first_seen, last_seen, message_count, invalid_count, last_query_hex, last_response_hex)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(command) DO UPDATE SET
			name = excluded.name,
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			invalid_count = invalid_count + excluded.invalid_count,
			last_query_hex = excluded.last_query_hex,
			last_response_hex = excluded.last_response_hex
	`)
	if err != nil {
		return fmt.Errorf("preparing command upsert statement: %w", err)
	}

	addressStmt, err := r.db.Prepare(`
		INSERT INTO ebus_addresses (address, name, first_seen, last_seen, message_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1
	`)
	if err != nil {
		commandStmt.Close()
		return fmt.Errorf("preparing address upsert statement: %w", err)
	}

	r.commandStmt = commandStmt
	r.addressStmt = addressStmt
	r.logInfo("command recorder started")
	return nil
}

// Stop releases the prepared statements. Safe to call multiple times.
func (r *Recorder) Stop() {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.commandStmt != nil {
		r.commandStmt.Close()
		r.commandStmt = nil
	}
	if r.addressStmt != nil {
		r.addressStmt.Close()
		r.addressStmt = nil
	}
}

// Record upserts the message's command and both addresses.
func (r *Recorder) Record(msg ebus.Message) error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.commandStmt == nil {
		return ErrNotStarted
	}

	at := msg.CapturedAt
	if at.IsZero() {
		at = r.now()
	}
	ts := at.UTC().Format(timeLayout)

	name := msg.Name
	if !msg.Known() {
		name = ""
	}
	invalid := 0
	if !msg.Valid {
		invalid = 1
	}
	queryHex := hex.EncodeToString(msg.Telegram.Data)
	responseHex := hex.EncodeToString(msg.Telegram.ResponseData())

	if _, err := r.commandStmt.Exec(msg.Command.String(), name, ts, ts, invalid, queryHex, responseHex); err != nil {
		return fmt.Errorf("recording command %s: %w", msg.Command, err)
	}

	for _, addr := range []byte{msg.Source, msg.Destination} {
		if _, err := r.addressStmt.Exec(int(addr), ebus.AddressName(addr), ts, ts); err != nil {
			return fmt.Errorf("recording address %02X: %w", addr, err)
		}
	}
	return nil
}

// Observe is a pipeline message handler; failures are logged, not returned.
func (r *Recorder) Observe(msg ebus.Message) {
	if err := r.Record(msg); err != nil && !errors.Is(err, ErrNotStarted) {
		r.logError("recording message", err)
	}
}

// Commands returns every recorded command, most recently seen first.
func (r *Recorder) Commands(ctx context.Context) ([]CommandRecord, error) {
	return r.queryCommands(ctx, `
		SELECT command, name, first_seen, last_seen, message_count, invalid_count, last_query_hex, last_response_hex
		FROM ebus_commands ORDER BY last_seen DESC, command
	`)
}

// UnknownCommands returns commands with no registry spec, busiest first.
func (r *Recorder) UnknownCommands(ctx context.Context) ([]CommandRecord, error) {
	return r.queryCommands(ctx, `
		SELECT command, name, first_seen, last_seen, message_count, invalid_count, last_query_hex, last_response_hex
		FROM ebus_commands WHERE name = '' ORDER BY message_count DESC, command
	`)
}

func (r *Recorder) queryCommands(ctx context.Context, query string) ([]CommandRecord, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var c CommandRecord
		var first, last string
		if err := rows.Scan(&c.Command, &c.Name, &first, &last, &c.MessageCount,
			&c.InvalidCount, &c.LastQueryHex, &c.LastResponseHex); err != nil {
			return nil, fmt.Errorf("scanning command row: %w", err)
		}
		c.FirstSeen, _ = time.Parse(timeLayout, first) //nolint:errcheck // written by Record
		c.LastSeen, _ = time.Parse(timeLayout, last)   //nolint:errcheck // written by Record
		out = append(out, c)
	}
	return out, rows.Err()
}

// Addresses returns every recorded address in ascending order.
func (r *Recorder) Addresses(ctx context.Context) ([]AddressRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, name, first_seen, last_seen, message_count
		FROM ebus_addresses ORDER BY address
	`)
	if err != nil {
		return nil, fmt.Errorf("querying addresses: %w", err)
	}
	defer rows.Close()

	var out []AddressRecord
	for rows.Next() {
		var a AddressRecord
		var addr int
		var first, last string
		if err := rows.Scan(&addr, &a.Name, &first, &last, &a.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning address row: %w", err)
		}
		a.Address = byte(addr)
		a.FirstSeen, _ = time.Parse(timeLayout, first) //nolint:errcheck // written by Record
		a.LastSeen, _ = time.Parse(timeLayout, last)   //nolint:errcheck // written by Record
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Recorder) logInfo(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Recorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
