package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned when no token is stored for an account.
var ErrNoToken = errors.New("no token stored for account")

func (d *DB) Token(ctx context.Context, account string) (*oauth2.Token, error) {
	var tokenJSON []byte
	err := d.db.QueryRowContext(ctx, `SELECT token FROM tokens WHERE account_name = ?`, account).Scan(&tokenJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", account, ErrNoToken)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token for %s: %w", account, err)
	}
	return &token, nil
}

func (d *DB) SaveToken(ctx context.Context, account string, token *oauth2.Token) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `INSERT OR REPLACE INTO tokens (account_name, token) VALUES (?, ?)`, account, tokenJSON)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Accounts lists the accounts that have a stored token.
func (d *DB) Accounts(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT account_name FROM tokens ORDER BY account_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		accounts = append(accounts, name)
	}
	return accounts, rows.Err()
}

func (d *DB) DeleteTokens(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM tokens`); err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	return nil
}
