package store

import "time"

// UserRecord is the credential and accounting record the dispatcher reads
// and writes. Most fields (display name, contribution, usage counters) are
// primarily consumed by the external bot front-end; only Credit, Banned,
// and TempBanUntil participate in scheduling/authentication decisions.
type UserRecord struct {
	TelegramID   int64     `db:"telegram_id"`
	DisplayName  string    `db:"display_name"`
	TokenSecret  string    `db:"token_secret"`
	Contribution int64     `db:"contribution"`
	Credit       int       `db:"credit"`
	TotalUsage   int64     `db:"total_usage"`
	DailyUsage   int64     `db:"daily_usage"`
	Banned       bool      `db:"banned"`
	TempBanUntil time.Time `db:"temp_ban_until"`
}
