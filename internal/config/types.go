package config

// Config is the process configuration for one account.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	// Account names the per-account data directory under DataDir; the
	// sqlite database lives at <data_dir>/<account>/blastbot.db.
	Account string `json:"account"`
	DataDir string `json:"data_dir,omitempty"` // default "./data"

	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Report   ReportConfig   `json:"report,omitempty"`
	Storage  StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs are the only users whose commands are honored.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

// LoggingConfig is hot-reloadable: the watcher re-applies it on config
// file changes without restarting the bot.
type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type ReportConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
