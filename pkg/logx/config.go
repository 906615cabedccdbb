package logx

// Config selects the sinks and level of the root logger. The zero value logs
// INFO to the console.
type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alerts  AlertConfig
}

// FileConfig appends JSON lines to Path ("./roombot.log" when empty).
type FileConfig struct {
	Enabled bool
	Path    string
}

// AlertConfig controls the alert sink. Lines at or above MinLevel are passed
// to the AlertFunc registered with SetAlertFunc, at most RatePerSec per second.
type AlertConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./roombot.log"

func (c Config) filePath() string {
	if p := trim(c.File.Path); p != "" {
		return p
	}
	return defaultLogFile
}
