package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/clipscape-network/clipscape/internal/daemon"
)

// apiGet queries the running daemon's local status API.
func apiGet(path string, out any) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	if !cfg.API.Enabled {
		return fmt.Errorf("the status API is disabled in config.toml")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://%s:%d%s", cfg.API.Host, cfg.API.Port, path)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("is 'clipscape serve' running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s for %s", resp.Status, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
