package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/chainhunt/backend/internal/client"
	"github.com/chainhunt/backend/internal/logging"
	"github.com/chainhunt/backend/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join a session as a participant in the terminal UI",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().String("url", "ws://127.0.0.1:8080/ws", "websocket URL of the chainhunt server")
	watchCmd.Flags().String("id", "", "participant id (server assigns one when empty)")
	watchCmd.Flags().String("name", "", "display name")
	watchCmd.Flags().String("token", "", "auth token, or the host token to act as host")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	wsURL, _ := cmd.Flags().GetString("url")
	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	token, _ := cmd.Flags().GetString("token")

	// The alt screen owns stdout; keep client logs quiet.
	logger, err := logging.New("chainhunt-watch", "error", false, os.Stderr)
	if err != nil {
		return err
	}

	wsc, err := client.NewWSClient(wsURL, id, name, token, logger)
	if err != nil {
		return fmt.Errorf("bad url: %w", err)
	}
	httpc := client.NewHTTPClient(deriveHTTPBase(wsURL), token)

	p := tea.NewProgram(tui.New(wsc, httpc), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// deriveHTTPBase converts ws://host:port/ws to http://host:port.
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
