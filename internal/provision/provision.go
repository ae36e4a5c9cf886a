// Package provision ensures a destination table exists with the
// inferred schema and that its streaming-ingestion policy is active.
//
// Every command issued here is idempotent (create-merge, alter-merge),
// so concurrent workers first-touching the same logical table do not
// race each other into errors.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kustoingest/internal/engine"
	"kustoingest/internal/retry"
	"kustoingest/internal/schema"
)

// adminDatabase is the engine's administrative database that accepts
// attach commands for detached user databases.
const adminDatabase = "NetDefaultDB"

// Error reports that a table could not be provisioned, after the
// attach-and-retry recovery also failed. Fatal for the current file.
type Error struct {
	Database string
	Table    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision %s.%s: %v", e.Database, e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AttachStrategy produces the recovery command used when a create
// fails because the target database is detached (typically after an
// engine restart).
type AttachStrategy interface {
	AttachCommand(database string) string
}

// PathAttach is the default strategy: databases live under a fixed
// filesystem root with their metadata in an "md" subdirectory.
type PathAttach struct {
	// Root of the database directory tree, default /data/dbs.
	Root string
}

func (p PathAttach) AttachCommand(database string) string {
	root := p.Root
	if root == "" {
		root = "/data/dbs"
	}
	return fmt.Sprintf(".attach database %s from @\"%s/%s/md\"", database, root, database)
}

// Provisioner drives table creation and streaming-policy activation.
// The zero value is not usable; set Cmd at minimum.
type Provisioner struct {
	Cmd    engine.Commander
	Attach AttachStrategy
	Log    *zap.Logger

	// SettleDelay is the wait after an attach command before retrying
	// the create, giving the metadata tier time to refresh. Default 5s.
	SettleDelay time.Duration

	// PollMaxAttempts and PollInitialDelay bound the streaming-policy
	// readiness poll. Defaults: 5 attempts starting at 5s, doubling.
	PollMaxAttempts  int
	PollInitialDelay time.Duration

	// sleep is an unexported test seam for the settle delay.
	sleep func(ctx context.Context, d time.Duration) error
}

func (p *Provisioner) logger() *zap.Logger {
	if p.Log != nil {
		return p.Log
	}
	return zap.NewNop()
}

func (p *Provisioner) attach() AttachStrategy {
	if p.Attach != nil {
		return p.Attach
	}
	return PathAttach{}
}

func (p *Provisioner) settle(ctx context.Context) error {
	d := p.SettleDelay
	if d == 0 {
		d = 5 * time.Second
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
	return sleep(ctx, d)
}

// Provision idempotently ensures the table exists with the given schema
// and has an enabled streaming-ingestion policy.
//
// If the initial create-merge fails, the failure is assumed to mean the
// database is detached: an attach command is issued against the admin
// database, the metadata tier is given a settle delay, and the create
// is retried once. A second failure is fatal for the current file.
//
// A table whose policy does not confirm as ready within the poll budget
// is logged as a warning, not an error: streaming uploads are attempted
// optimistically and carry their own retry budget.
func (p *Provisioner) Provision(ctx context.Context, database, table string, s schema.Schema) error {
	log := p.logger().With(zap.String("database", database), zap.String("table", table))

	createCmd := fmt.Sprintf(".create-merge table %s (%s)", table, s.Definition())
	if _, err := p.Cmd.Mgmt(ctx, database, createCmd); err != nil {
		log.Warn("create-merge failed, attaching database and retrying",
			zap.Error(err))

		attachCmd := p.attach().AttachCommand(database)
		if _, aerr := p.Cmd.Mgmt(ctx, adminDatabase, attachCmd); aerr != nil {
			return &Error{Database: database, Table: table, Err: errors.Join(err, aerr)}
		}
		if serr := p.settle(ctx); serr != nil {
			return &Error{Database: database, Table: table, Err: serr}
		}
		if _, rerr := p.Cmd.Mgmt(ctx, database, createCmd); rerr != nil {
			return &Error{Database: database, Table: table, Err: rerr}
		}
	}
	log.Info("table create-merge issued")

	enableCmd := fmt.Sprintf(".alter-merge table %s policy streamingingestion '{\"IsEnabled\":true}'", table)
	if _, err := p.Cmd.Mgmt(ctx, database, enableCmd); err != nil {
		return &Error{Database: database, Table: table, Err: err}
	}
	log.Info("streaming-ingestion policy enabled")

	// The result is discarded: this query only exists to force the
	// query-serving tier to refresh its cached index of the table.
	indexCmd := fmt.Sprintf(".show table %s schema as json", table)
	if _, err := p.Cmd.Mgmt(ctx, database, indexCmd); err != nil {
		return &Error{Database: database, Table: table, Err: err}
	}

	if !p.WaitForStreamingReady(ctx, database, table) {
		log.Warn("streaming policy did not confirm ready, continuing optimistically")
	}
	return nil
}

type streamingPolicy struct {
	IsEnabled bool `json:"IsEnabled"`
}

// WaitForStreamingReady polls the table's streaming-ingestion policy
// until it reads back enabled, with a bounded doubling-delay schedule.
// It reports readiness and never returns an error: callers decide
// whether an unconfirmed policy is fatal.
func (p *Provisioner) WaitForStreamingReady(ctx context.Context, database, table string) bool {
	log := p.logger().With(zap.String("database", database), zap.String("table", table))

	attempts := p.PollMaxAttempts
	if attempts == 0 {
		attempts = 5
	}
	delay := p.PollInitialDelay
	if delay == 0 {
		delay = 5 * time.Second
	}

	showCmd := fmt.Sprintf(".show table %s policy streamingingestion", table)
	attempt := 0
	err := retry.Do(ctx, retry.Policy{MaxAttempts: attempts, InitialDelay: delay}, func(ctx context.Context) error {
		attempt++
		rows, err := p.Cmd.Mgmt(ctx, database, showCmd)
		if err == nil {
			err = checkPolicyEnabled(rows)
		}
		if err != nil {
			log.Warn("streaming policy not ready",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Error(err))
		}
		return err
	})
	if err != nil {
		return false
	}
	log.Info("table ready for streaming ingestion", zap.Int("attempts", attempt))
	return true
}

// checkPolicyEnabled interprets the show-policy result. The Policy cell
// arrives as serialized JSON; anything short of an explicit
// IsEnabled=true counts as not ready.
func checkPolicyEnabled(rows []engine.Row) error {
	if len(rows) == 0 {
		return errors.New("no policy rows returned")
	}
	raw, ok := rows[0]["Policy"]
	if !ok || raw == "" {
		return errors.New("policy field is empty")
	}
	var pol streamingPolicy
	if err := json.Unmarshal([]byte(raw), &pol); err != nil {
		return fmt.Errorf("policy payload invalid: %w", err)
	}
	if !pol.IsEnabled {
		return errors.New("streaming ingestion policy not enabled")
	}
	return nil
}
