// Package main implements the chronicle-dash interactive dashboard.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"chronicle/pkg/protocol"
)

// robotMode outputs a JSON snapshot of sessions, observations and daemon
// status for scripts that want dashboard data without a terminal.
func robotMode(sessions []protocol.Session, observations []protocol.Observation, status *protocol.PipelineStatus) ([]byte, error) {
	snapshot := map[string]any{
		"sessions":     sessions,
		"observations": observations,
		"status":       status,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// runRobot prints a one-shot snapshot and exits. Fetch errors degrade to
// empty sections so a stopped daemon still yields valid JSON.
func runRobot(dbPath, socketPath string) error {
	sessions, _ := fetchSessions(dbPath, sessionFetchLimit)
	observations, _ := fetchObservations(dbPath, "", observationFetchLimit)
	status, _ := fetchDaemonStatus(socketPath)

	data, err := robotMode(sessions, observations, status)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	dbPath := defaultDBPath()
	socketPath := defaultSocketPath()

	if len(os.Args) > 1 && os.Args[1] == "--robot" {
		if err := runRobot(dbPath, socketPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	p := tea.NewProgram(newModel(dbPath, socketPath), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}
