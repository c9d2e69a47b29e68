package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var body struct {
		DeviceID      string `json:"deviceId"`
		DeviceName    string `json:"deviceName"`
		Version       string `json:"version"`
		UptimeSeconds int    `json:"uptimeSeconds"`
		PeerCount     int    `json:"peerCount"`
	}
	if err := apiGet("/v1/status", &body); err != nil {
		return err
	}

	fmt.Printf("Device:  %s (%s)\n", body.DeviceName, body.DeviceID)
	fmt.Printf("Version: %s\n", body.Version)
	fmt.Printf("Uptime:  %s\n", (time.Duration(body.UptimeSeconds) * time.Second).String())
	fmt.Printf("Peers:   %d connected\n", body.PeerCount)
	return nil
}
