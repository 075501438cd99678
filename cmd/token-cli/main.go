// Command token-cli extracts Xiaomi cloud device tokens interactively.
//
// It walks the cloud login flow, including two-factor verification when
// the account demands it, then prints the device inventory with tokens.
// A completed session can be saved and reused so later runs skip the
// login entirely.
//
// Usage:
//
//	token-cli [flags]
//
// Flags:
//
//	-region string   API region: cn, de, us, ru, tw, sg, in, i2 (default "cn")
//	-session string  Session file to load or save (default "./session.json")
//	-devices string  Write the device list as JSON to this file
//	-log string      Flow log file path (CBOR, optional)
//
// Examples:
//
//	# Interactive login against the European region
//	token-cli -region de
//
//	# Reuse a saved session and export the devices
//	token-cli -session ./session.json -devices ./devices.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/zzerding/xiaomi-token-web/pkg/auth"
	"github.com/zzerding/xiaomi-token-web/pkg/catalog"
	"github.com/zzerding/xiaomi-token-web/pkg/log"
	"github.com/zzerding/xiaomi-token-web/pkg/session"
)

var (
	region      = flag.String("region", "cn", "API region: cn, de, us, ru, tw, sg, in, i2")
	sessionPath = flag.String("session", "./session.json", "Session file to load or save")
	devicesPath = flag.String("devices", "", "Write the device list as JSON to this file")
	logPath     = flag.String("log", "", "Flow log file path (CBOR)")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if !catalog.ValidRegion(*region) {
		fmt.Fprintf(os.Stderr, "Error: unknown region %q (want one of %s)\n",
			*region, strings.Join(catalog.Regions, ", "))
		return 1
	}

	var logger log.Logger = log.NoopLogger{}
	if *logPath != "" {
		fileLogger, err := log.NewFileLogger(*logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: opening flow log: %v\n", err)
			return 1
		}
		defer fileLogger.Close()
		logger = fileLogger
	}

	ctx := context.Background()

	state, err := loadOrLogin(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	client, err := catalog.NewClient(state, *region, catalog.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	devices, err := client.Devices(ctx, catalog.SinkFunc(func(p catalog.Progress) {
		fmt.Println(p.Message)
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: extracting devices: %v\n", err)
		return 1
	}

	printDevices(devices)

	if *devicesPath != "" {
		raw, err := json.MarshalIndent(devices, "", "  ")
		if err == nil {
			err = os.WriteFile(*devicesPath, raw, 0o600)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: writing device list: %v\n", err)
			return 1
		}
		fmt.Printf("Device list written to %s\n", *devicesPath)
	}

	return 0
}

// loadOrLogin restores a saved session when one exists and still works,
// and runs the interactive login otherwise.
func loadOrLogin(ctx context.Context, logger log.Logger) (*auth.ClientState, error) {
	if raw, err := os.ReadFile(*sessionPath); err == nil {
		data, err := session.DecodeData(raw)
		if err != nil {
			return nil, fmt.Errorf("session file %s: %w", *sessionPath, err)
		}
		state, err := session.Load(data)
		if err != nil {
			return nil, fmt.Errorf("session file %s: %w", *sessionPath, err)
		}

		client, err := catalog.NewClient(state, *region, catalog.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := client.ValidateSession(ctx); err == nil {
			fmt.Printf("Using saved session for %s (saved %s)\n", data.Username, data.SavedAt)
			return state, nil
		}
		fmt.Println("Saved session is no longer valid, logging in again.")
	}

	state, err := interactiveLogin(ctx, logger)
	if err != nil {
		return nil, err
	}

	if err := saveSession(state); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not save session: %v\n", err)
	} else {
		fmt.Printf("Session saved to %s\n", *sessionPath)
	}
	return state, nil
}

// interactiveLogin prompts for credentials and walks the login flow,
// including the verification branch.
func interactiveLogin(ctx context.Context, logger log.Logger) (*auth.ClientState, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	username, err := prompt(rl, "Username (email / phone / Xiaomi ID): ")
	if err != nil {
		return nil, err
	}
	password, err := rl.ReadPassword("Password: ")
	if err != nil {
		return nil, err
	}

	engine := auth.NewEngine(username, string(password), auth.WithLogger(logger))

	result, err := engine.Login(ctx)
	if err != nil {
		var credErr *auth.CredentialError
		if errors.As(err, &credErr) {
			return nil, fmt.Errorf("login rejected: %s", credErr.Desc)
		}
		return nil, err
	}

	if result.Requires2FA {
		fmt.Println("Two-factor verification required.")
		fmt.Printf("If no code arrives, open this URL in a browser: %s\n", result.VerifyURL)

		engine.CheckIdentityOptions(ctx)

		for {
			ticket, err := prompt(rl, "Verification code: ")
			if err != nil {
				return nil, err
			}

			err = engine.VerifyTicket(ctx, ticket)
			if errors.Is(err, auth.ErrTicketRejected) {
				fmt.Println("Code rejected, try again.")
				continue
			}
			if err != nil {
				return nil, err
			}
			break
		}

		if err := engine.RetryAfterVerification(ctx); err != nil {
			return nil, err
		}
		if err := engine.LoginStep3(ctx); err != nil {
			return nil, err
		}
	}

	fmt.Println("Login successful.")
	return engine.State(), nil
}

// prompt reads one non-empty line.
func prompt(rl *readline.Instance, text string) (string, error) {
	rl.SetPrompt(text)
	defer rl.SetPrompt("> ")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return "", fmt.Errorf("input aborted")
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed, nil
		}
	}
}

// saveSession writes the authenticated session to the session file.
func saveSession(state *auth.ClientState) error {
	data, err := session.Export(state, time.Now())
	if err != nil {
		return err
	}
	raw, err := session.EncodeData(data)
	if err != nil {
		return err
	}
	return os.WriteFile(*sessionPath, raw, 0o600)
}

// printDevices renders the inventory as an aligned table.
func printDevices(devices []catalog.Device) {
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return
	}

	fmt.Printf("\n%-28s %-24s %-15s %s\n", "NAME", "MODEL", "IP", "TOKEN")
	for _, d := range devices {
		ip := d.IP
		if ip == "" {
			ip = "-"
		}
		fmt.Printf("%-28s %-24s %-15s %s\n", d.Name, d.Model, ip, d.Token)
		if key, ok := d.Extra["ble_key"].(string); ok {
			fmt.Printf("%-28s %-24s %-15s %s\n", "", "(BLE key)", "", key)
		}
	}
	fmt.Printf("\n%d device(s) total.\n", len(devices))
}
