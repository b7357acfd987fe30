package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"github.com/techno-hippies/heavengate/internal/users"
)

// LoadDevices implements users.Store by joining devices to their owning
// user, mirroring original_source's users/mod.rs::load_from_db join.
func (db *DB) LoadDevices(ctx context.Context) ([]users.Cached, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT devices.id, devices.user_id, devices.vpn_ip, users.wallet_address
		FROM devices
		JOIN users ON users.id = devices.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var out []users.Cached
	for rows.Next() {
		var deviceID, userID, vpnIP, wallet string
		if err := rows.Scan(&deviceID, &userID, &vpnIP, &wallet); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		addr, err := netip.ParseAddr(vpnIP)
		if err != nil {
			continue // skip rows with a malformed tunnel address rather than fail hydration
		}
		out = append(out, users.Cached{
			UserID:        userID,
			WalletAddress: wallet,
			DeviceID:      deviceID,
			VPNAddr:       addr,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}
	return out, nil
}

// LoadRules implements rules.Store by scanning user_rules, mirroring
// original_source's rules/mod.rs::load_from_db scan.
func (db *DB) LoadRules(ctx context.Context) (map[string][]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `SELECT user_id, domain FROM user_rules`)
	if err != nil {
		return nil, fmt.Errorf("failed to query user_rules: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var userID, domain string
		if err := rows.Scan(&userID, &domain); err != nil {
			return nil, fmt.Errorf("failed to scan user_rule: %w", err)
		}
		out[userID] = append(out[userID], domain)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user_rules: %w", err)
	}
	return out, nil
}

// GetOrCreateUserByWallet returns the id of the user owning walletAddress,
// creating a new user row if none exists yet.
func (db *DB) GetOrCreateUserByWallet(ctx context.Context, walletAddress string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var id string
	err := db.conn.QueryRowContext(ctx, `SELECT id FROM users WHERE wallet_address = ?`, walletAddress).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	id, err = newID()
	if err != nil {
		return "", err
	}
	if _, err := db.conn.ExecContext(ctx, `INSERT INTO users (id, wallet_address) VALUES (?, ?)`, id, walletAddress); err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

// CreateDevice inserts a new device bound to userID at vpnIP, returning the
// new device's id.
func (db *DB) CreateDevice(ctx context.Context, userID, vpnIP, name string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id, err := newID()
	if err != nil {
		return "", err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO devices (id, user_id, vpn_ip, name) VALUES (?, ?, ?, ?)`,
		id, userID, vpnIP, name)
	if err != nil {
		return "", fmt.Errorf("failed to create device: %w", err)
	}
	return id, nil
}

// DeviceByID returns the device's stored record, including its tunnel
// address, so the control plane can evict it from the in-memory cache.
func (db *DB) DeviceByID(ctx context.Context, deviceID string) (id, userID, vpnIP string, err error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	err = db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, vpn_ip FROM devices WHERE id = ?`, deviceID,
	).Scan(&id, &userID, &vpnIP)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to look up device %s: %w", deviceID, err)
	}
	return id, userID, vpnIP, nil
}

// DeleteDevice removes a device row.
func (db *DB) DeleteDevice(ctx context.Context, deviceID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, deviceID); err != nil {
		return fmt.Errorf("failed to delete device %s: %w", deviceID, err)
	}
	return nil
}

// ListRules returns the domains blocked for userID.
func (db *DB) ListRules(ctx context.Context, userID string) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `SELECT domain FROM user_rules WHERE user_id = ? ORDER BY domain`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, domain)
	}
	return out, rows.Err()
}

// ReplaceRules atomically swaps userID's stored block list for domains.
func (db *DB) ReplaceRules(ctx context.Context, userID string, domains []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_rules WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear rules for %s: %w", userID, err)
	}
	for _, domain := range domains {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_rules (user_id, domain) VALUES (?, ?)`, userID, domain); err != nil {
			return fmt.Errorf("failed to insert rule %s for %s: %w", domain, userID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule replacement: %w", err)
	}
	return nil
}

// defaultVPNSubnet is the tunnel subnet new devices are assigned into absent
// an externally managed allocator; see SPEC_FULL.md's worked example (10.13.13.5).
var defaultVPNSubnet = netip.MustParsePrefix("10.13.13.0/24")

// NextVPNAddress returns the lowest host address in the tunnel subnet not
// already assigned to a device. Address .0 (network) and .255 (broadcast,
// for a /24) are never handed out.
func (db *DB) NextVPNAddress(ctx context.Context) (netip.Addr, error) {
	db.mu.RLock()
	rows, err := db.conn.QueryContext(ctx, `SELECT vpn_ip FROM devices`)
	if err != nil {
		db.mu.RUnlock()
		return netip.Addr{}, fmt.Errorf("failed to query assigned vpn ips: %w", err)
	}
	used := make(map[netip.Addr]bool)
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			rows.Close()
			db.mu.RUnlock()
			return netip.Addr{}, fmt.Errorf("failed to scan vpn ip: %w", err)
		}
		if addr, err := netip.ParseAddr(ip); err == nil {
			used[addr] = true
		}
	}
	err = rows.Err()
	rows.Close()
	db.mu.RUnlock()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error iterating vpn ips: %w", err)
	}

	for addr := defaultVPNSubnet.Addr().Next(); defaultVPNSubnet.Contains(addr); addr = addr.Next() {
		if used[addr] {
			continue
		}
		if !defaultVPNSubnet.Contains(addr.Next()) {
			break // skip the broadcast address
		}
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("vpn subnet %s is exhausted", defaultVPNSubnet)
}

// CreateDeviceForWallet gets-or-creates the user owning walletAddress,
// assigns the next free tunnel address, and inserts the device row.
func (db *DB) CreateDeviceForWallet(ctx context.Context, walletAddress, name string) (deviceID, userID, vpnIP string, err error) {
	userID, err = db.GetOrCreateUserByWallet(ctx, walletAddress)
	if err != nil {
		return "", "", "", err
	}
	addr, err := db.NextVPNAddress(ctx)
	if err != nil {
		return "", "", "", err
	}
	deviceID, err = db.CreateDevice(ctx, userID, addr.String(), name)
	if err != nil {
		return "", "", "", err
	}
	return deviceID, userID, addr.String(), nil
}

// newID mints a random identifier, used for user and device primary keys
// in place of a central sequence.
func newID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}
