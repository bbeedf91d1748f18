package knx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ObservedAddress is a group address seen on the bus.
type ObservedAddress struct {
	Address         string    `json:"address"`
	LastSeen        time.Time `json:"last_seen"`
	MessageCount    int64     `json:"message_count"`
	HasReadResponse bool      `json:"has_read_response"`
}

// AddressRecorder keeps a passive inventory of the group addresses and
// sending devices seen on the bus, in the knx_group_addresses and
// knx_devices tables. It is safe for concurrent use.
type AddressRecorder struct {
	db     *sql.DB
	logger atomic.Pointer[Logger]

	// mu guards the statements. Both are nil before Start and after Stop.
	mu      sync.Mutex
	group   *sql.Stmt
	device  *sql.Stmt
	stopped bool
}

const (
	upsertGroupAddress = `
		INSERT INTO knx_group_addresses (group_address, last_seen, message_count, has_read_response)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(group_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = knx_group_addresses.message_count + 1,
			has_read_response = MAX(knx_group_addresses.has_read_response, excluded.has_read_response)`

	upsertDevice = `
		INSERT INTO knx_devices (individual_address, last_seen, message_count)
		VALUES (?, ?, 1)
		ON CONFLICT(individual_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = knx_devices.message_count + 1`
)

// NewAddressRecorder creates a recorder backed by db.
func NewAddressRecorder(db *sql.DB) *AddressRecorder {
	return &AddressRecorder{db: db}
}

// SetLogger sets the logger for write failures.
func (r *AddressRecorder) SetLogger(logger Logger) {
	r.logger.Store(&logger)
}

// Start prepares the upserts. Telegrams recorded before Start are dropped.
// A second Start is a no-op; Start after Stop fails.
func (r *AddressRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.stopped:
		return errors.New("address recorder stopped")
	case r.group != nil:
		return nil
	}

	group, err := r.db.PrepareContext(ctx, upsertGroupAddress)
	if err != nil {
		return fmt.Errorf("preparing group address upsert: %w", err)
	}
	device, err := r.db.PrepareContext(ctx, upsertDevice)
	if err != nil {
		_ = group.Close()
		return fmt.Errorf("preparing device upsert: %w", err)
	}
	r.group, r.device = group, device
	return nil
}

// Stop closes the statements. Later telegrams are dropped.
func (r *AddressRecorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for _, stmt := range []*sql.Stmt{r.group, r.device} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	r.group, r.device = nil, nil
}

// RecordTelegram counts one telegram from source ("1.1.5") to ga ("1/2/3").
// Sources "" and "0.0.0" are not devices and only the address is counted.
func (r *AddressRecorder) RecordTelegram(source, ga string, isResponse bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.group == nil {
		return
	}

	now := time.Now().Unix()
	if source != "" && source != "0.0.0" {
		if _, err := r.device.Exec(source, now); err != nil {
			r.logError("recording device", err, "source", source)
		}
	}
	if _, err := r.group.Exec(ga, now, isResponse); err != nil {
		r.logError("recording group address", err, "group_address", ga)
	}
}

// Record is RecordTelegram shaped as a bus observer.
func (r *AddressRecorder) Record(t Telegram) {
	r.RecordTelegram(t.Source, t.Destination.String(), t.IsResponse())
}

// ListGroupAddresses returns observed group addresses, most recently seen first.
func (r *AddressRecorder) ListGroupAddresses(ctx context.Context) ([]ObservedAddress, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_address, last_seen, message_count, has_read_response
		FROM knx_group_addresses
		ORDER BY last_seen DESC, group_address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying group addresses: %w", err)
	}
	defer rows.Close()

	addresses := []ObservedAddress{}
	for rows.Next() {
		var (
			a        ObservedAddress
			lastSeen int64
			response int
		)
		if err := rows.Scan(&a.Address, &lastSeen, &a.MessageCount, &response); err != nil {
			return nil, fmt.Errorf("scanning group address: %w", err)
		}
		a.LastSeen = time.Unix(lastSeen, 0).UTC()
		a.HasReadResponse = response != 0
		addresses = append(addresses, a)
	}
	return addresses, rows.Err()
}

// GroupAddressCount returns the number of observed group addresses.
func (r *AddressRecorder) GroupAddressCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knx_group_addresses`).Scan(&count)
	return count, err
}

// DeviceCount returns the number of observed sending devices.
func (r *AddressRecorder) DeviceCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knx_devices`).Scan(&count)
	return count, err
}

func (r *AddressRecorder) logError(msg string, err error, keysAndValues ...any) {
	if l := r.logger.Load(); l != nil && *l != nil {
		(*l).Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
