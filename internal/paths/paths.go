package paths

import (
	"os"
	"path/filepath"
)

// EnvHome overrides the default data directory when set.
const EnvHome = "REPLYWATCH_HOME"

// Resolve determines the data directory using precedence:
// 1. flagOverride (--home flag)
// 2. REPLYWATCH_HOME environment variable
// 3. ~/.replywatch
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvHome); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".replywatch")
}

// ConfigPath returns the config file path under the data directory.
func ConfigPath(home string) string {
	return filepath.Join(home, "config.toml")
}

// DBPath returns the message/run store path.
func DBPath(home string) string {
	return filepath.Join(home, "replywatch.db")
}

// LogDir returns the log directory.
func LogDir(home string) string {
	return filepath.Join(home, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(home string) string {
	return filepath.Join(LogDir(home), "replywatchd.log")
}

// EnsureDirs creates the data directory tree with proper permissions.
func EnsureDirs(home string) error {
	for _, d := range []string{home, LogDir(home)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
