package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
)

// ============================================================================
// lobbyctl - Command-line IPC Client
// ============================================================================
// This tool sends user intents to the padlobby daemon via IPC.
//
// Usage:
//   lobbyctl reassign
//   lobbyctl apply [target]
//   lobbyctl scan
//   lobbyctl stop-scan
//   lobbyctl pair AA:BB:CC:DD:EE:FF
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/padlobby.sock)
// ============================================================================

// ActionEnvelope wraps actions for JSON (duplicated from the daemon for a
// standalone binary).
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response.
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	socketPath := "/tmp/padlobby.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var env ActionEnvelope

	switch args[0] {
	case "reassign":
		env.Type = "reassign"

	case "apply", "apply-config":
		env.Type = "apply_config"
		if len(args) >= 2 {
			data, err := json.Marshal(map[string]string{"target": args[1]})
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			env.Data = data
		}

	case "scan", "scan-start":
		env.Type = "scan_start"

	case "stop-scan", "scan-stop":
		env.Type = "scan_stop"

	case "pair":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: pair requires a bluetooth address\n")
			os.Exit(1)
		}
		env.Type = "pair"
		data, err := json.Marshal(map[string]string{"address": args[1]})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		env.Data = data

	case "help", "-help", "--help", "-h":
		printUsage()
		return

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	if err := send(socketPath, env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func send(socketPath string, env ActionEnvelope) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return fmt.Errorf("send action: %w", err)
	}

	decoder := json.NewDecoder(conn)
	var resp IPCResponse
	if err := decoder.Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.Status != "ok" {
		return fmt.Errorf("ipc error: %s", resp.Error)
	}
	return nil
}

func printUsage() {
	fmt.Println("lobbyctl - send intents to the padlobby daemon")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  lobbyctl [-socket PATH] COMMAND [ARGS]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  reassign            Clear all ready slots (service confirms via events)")
	fmt.Println("  apply [target]      Apply per-player configuration, optionally for one target")
	fmt.Println("  scan                Start a bluetooth discovery scan")
	fmt.Println("  stop-scan           Stop the active bluetooth scan")
	fmt.Println("  pair ADDRESS        Pair a discovered bluetooth device")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -socket PATH        Unix domain socket path (default /tmp/padlobby.sock)")
}
