package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"github.com/buybot/pkg/config"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS monitored_pairs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id INTEGER NOT NULL,
    chain TEXT NOT NULL,
    token_address TEXT NOT NULL,
    pool_address TEXT NOT NULL,
    token_decimals INTEGER NOT NULL DEFAULT 18,
    token_symbol TEXT DEFAULT '',
    minimum_buy TEXT NOT NULL DEFAULT '0',
    small_buy TEXT NOT NULL DEFAULT '0',
    medium_buy TEXT NOT NULL DEFAULT '0',
    chat_id TEXT NOT NULL,
    media_url TEXT DEFAULT '',
    enabled BOOLEAN DEFAULT TRUE,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(group_id, chain, pool_address)
);

CREATE TABLE IF NOT EXISTS delivered_alerts (
    pair_key TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    log_index INTEGER NOT NULL,
    chat_id TEXT,
    tier TEXT,
    usd_value TEXT,
    delivered_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(pair_key, tx_hash, log_index)
);

CREATE INDEX IF NOT EXISTS idx_pairs_enabled ON monitored_pairs(enabled);
CREATE INDEX IF NOT EXISTS idx_delivered_time ON delivered_alerts(delivered_at);
`

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ---- Monitored Pairs ----

const pairColumns = `id, group_id, chain, token_address, pool_address, token_decimals,
	COALESCE(token_symbol,''), minimum_buy, small_buy, medium_buy, chat_id,
	COALESCE(media_url,''), enabled, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPair(r rowScanner) (MonitoredPair, error) {
	var (
		p           MonitoredPair
		chain       string
		token, pool string
		decimals    int
	)
	err := r.Scan(&p.ID, &p.GroupID, &chain, &token, &pool, &decimals,
		&p.Symbol, &p.MinimumBuy, &p.SmallBuy, &p.MediumBuy, &p.ChatID,
		&p.MediaURL, &p.Enabled, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.Chain = config.Chain(chain)
	p.Token = common.HexToAddress(token)
	p.Pool = common.HexToAddress(pool)
	p.TokenDecimals = uint8(decimals)
	return p, nil
}

// UpsertPair inserts p or updates the row with the same group, chain and
// pool, returning the row id.
func (s *Store) UpsertPair(p MonitoredPair) (int64, error) {
	_, err := s.db.Exec(`
		INSERT INTO monitored_pairs (group_id, chain, token_address, pool_address, token_decimals,
			token_symbol, minimum_buy, small_buy, medium_buy, chat_id, media_url, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, chain, pool_address) DO UPDATE SET
			token_address = excluded.token_address,
			token_decimals = excluded.token_decimals,
			token_symbol = excluded.token_symbol,
			minimum_buy = excluded.minimum_buy,
			small_buy = excluded.small_buy,
			medium_buy = excluded.medium_buy,
			chat_id = excluded.chat_id,
			media_url = excluded.media_url,
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP`,
		p.GroupID, string(p.Chain), p.Token.Hex(), strings.ToLower(p.Pool.Hex()), int(p.TokenDecimals),
		p.Symbol, p.MinimumBuy, p.SmallBuy, p.MediumBuy, p.ChatID, p.MediaURL, p.Enabled)
	if err != nil {
		return 0, fmt.Errorf("upsert pair %s: %w", p.Key(), err)
	}

	var id int64
	err = s.db.QueryRow(`SELECT id FROM monitored_pairs WHERE group_id=? AND chain=? AND pool_address=?`,
		p.GroupID, string(p.Chain), strings.ToLower(p.Pool.Hex())).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert pair %s: %w", p.Key(), err)
	}
	return id, nil
}

func (s *Store) SeedPairs(seeds []config.SeedPair) error {
	for _, sp := range seeds {
		if _, err := s.UpsertPair(PairFromSeed(sp)); err != nil {
			return err
		}
	}
	return nil
}

// GetMonitoredPairs returns every pair, enabled or not, ordered by id.
func (s *Store) GetMonitoredPairs() ([]MonitoredPair, error) {
	rows, err := s.db.Query(`SELECT ` + pairColumns + ` FROM monitored_pairs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []MonitoredPair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (s *Store) GetPair(id int64) (MonitoredPair, error) {
	p, err := scanPair(s.db.QueryRow(`SELECT `+pairColumns+` FROM monitored_pairs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return MonitoredPair{}, fmt.Errorf("pair %d: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *Store) SetPairEnabled(id int64, enabled bool) error {
	res, err := s.db.Exec(`UPDATE monitored_pairs SET enabled=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, enabled, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pair %d: %w", id, ErrNotFound)
	}
	return nil
}

// DisableGroup turns off every pair owned by a group that was removed or
// downgraded.
func (s *Store) DisableGroup(groupID int64) (int64, error) {
	res, err := s.db.Exec(`UPDATE monitored_pairs SET enabled=FALSE, updated_at=CURRENT_TIMESTAMP WHERE group_id=? AND enabled`, groupID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- Delivered Alerts ----

// MarkDelivered records a delivered alert. Recording the same event twice is
// a no-op.
func (s *Store) MarkDelivered(d DeliveredAlert) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO delivered_alerts (pair_key, tx_hash, log_index, chat_id, tier, usd_value) VALUES (?,?,?,?,?,?)`,
		d.PairKey, strings.ToLower(d.TxHash), d.LogIndex, d.ChatID, d.Tier, d.USDValue)
	return err
}

func (s *Store) WasDelivered(pairKey, txHash string, logIndex uint) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM delivered_alerts WHERE pair_key=? AND tx_hash=? AND log_index=?`,
		pairKey, strings.ToLower(txHash), logIndex).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetRecentDeliveries(limit int) ([]DeliveredAlert, error) {
	rows, err := s.db.Query(`SELECT pair_key, tx_hash, log_index, COALESCE(chat_id,''), COALESCE(tier,''), COALESCE(usd_value,'0'), delivered_at
		FROM delivered_alerts ORDER BY delivered_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveredAlert
	for rows.Next() {
		var d DeliveredAlert
		if err := rows.Scan(&d.PairKey, &d.TxHash, &d.LogIndex, &d.ChatID, &d.Tier, &d.USDValue, &d.DeliveredAt); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- Stats ----

func (s *Store) GetStats() (map[string]int64, error) {
	stats := map[string]int64{}
	queries := map[string]string{
		"pairs":            "SELECT COUNT(*) FROM monitored_pairs",
		"pairs_enabled":    "SELECT COUNT(*) FROM monitored_pairs WHERE enabled",
		"alerts_delivered": "SELECT COUNT(*) FROM delivered_alerts",
	}
	for name, q := range queries {
		var count int64
		if err := s.db.QueryRow(q).Scan(&count); err != nil {
			return nil, fmt.Errorf("stats %s: %w", name, err)
		}
		stats[name] = count
	}
	return stats, nil
}
