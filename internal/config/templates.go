package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# eFriend Trader Configuration

[trading]
# Trading mode: "live" talks to the broker API, "paper" runs the in-process simulator
mode = "paper"

# Default accounts used when a request does not name one.
[accounts.domestic]
account = ""
password = ""

[accounts.overseas]
account = ""
password = ""

[broker]
base_url = "https://openapi.koreainvestment.com:9443"
paper_base_url = "https://openapivts.koreainvestment.com:29443"
app_key = ""
app_secret = ""
# Per-call deadline for broker requests
timeout = "10s"
auth_timeout = "15s"
# Attempts for read-only broker calls
read_retries = 3
# Live mode against the simulated trading (VTS) gateway
vts = false

[broker.paper_deposit]
domestic = "10000000"
overseas = "10000"

[broker.paper_prices]
005930 = "70000"
000660 = "180000"
035720 = "45000"
AAPL = "190.50"
TSLA = "245.10"

[database]
# SQLite file holding the order journal (default: <config dir>/orders.db)
# conn_str = "/path/to/orders.db"

[server]
addr = ":8000"
read_timeout = "30s"
write_timeout = "60s"

[log]
level = "info"
console = true
file = false
# file_path = "/path/to/efriend.log"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
