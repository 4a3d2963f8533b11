package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/matheus3301/replywatch/internal/config"
	"github.com/matheus3301/replywatch/internal/paths"
)

func main() {
	homeFlag := flag.String("home", "", "data directory (overrides REPLYWATCH_HOME)")
	addrFlag := flag.String("addr", "", "daemon api address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(resolveAddr(*homeFlag, *addrFlag))

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "run":
		cmdRun(c, *jsonFlag)
	case "runs":
		cmdRuns(c, args[1:], *jsonFlag)
	case "report":
		cmdReport(c)
	case "resend":
		cmdResend(c, *jsonFlag)
	case "schedule":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: replywatchctl schedule <show|enable|disable|set <expr>>")
			os.Exit(1)
		}
		cmdSchedule(c, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: replywatchctl [--home <dir>] [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status               Show daemon and schedule status")
	fmt.Fprintln(os.Stderr, "  run                  Trigger an analysis run now")
	fmt.Fprintln(os.Stderr, "  runs [limit]         List recent runs")
	fmt.Fprintln(os.Stderr, "  report               Print the latest report")
	fmt.Fprintln(os.Stderr, "  resend               Redeliver the latest report")
	fmt.Fprintln(os.Stderr, "  schedule show        Show the schedule")
	fmt.Fprintln(os.Stderr, "  schedule enable      Arm the schedule")
	fmt.Fprintln(os.Stderr, "  schedule disable     Disarm the schedule")
	fmt.Fprintln(os.Stderr, "  schedule set <expr>  Set the cron expression")
}

// resolveAddr prefers the --addr flag, then the daemon's config file.
func resolveAddr(homeFlag, addrFlag string) string {
	if addrFlag != "" {
		return addrFlag
	}
	home := paths.Resolve(homeFlag)
	cfg, err := config.Load(paths.ConfigPath(home))
	if err != nil {
		return config.Default().HTTP.ListenAddr
	}
	return cfg.HTTP.ListenAddr
}

type client struct {
	base string
	http *http.Client
}

func newClient(addr string) *client {
	return &client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// call performs one API request and decodes the JSON body. Non-2xx responses
// become errors carrying the server's error message.
func (c *client) call(method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

type scheduleStatus struct {
	State      string    `json:"state"`
	Enabled    bool      `json:"enabled"`
	Expression string    `json:"expression"`
	NextFireAt time.Time `json:"next_fire_at"`
	LastRunID  string    `json:"last_run_id"`
}

type runRecord struct {
	RunID           string `json:"run_id"`
	Trigger         string `json:"trigger"`
	Status          string `json:"status"`
	StartedAt       int64  `json:"started_at"`
	FinishedAt      int64  `json:"finished_at"`
	MessageCount    int    `json:"message_count"`
	UnansweredCount int    `json:"unanswered_count"`
	RankedCount     int    `json:"ranked_count"`
	ErrorDetail     string `json:"error_detail"`
	Report          string `json:"report"`
}

func cmdStatus(c *client, jsonOut bool) {
	var st scheduleStatus
	must(c.call(http.MethodGet, "/api/schedule", nil, &st))
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("State:      %s\n", st.State)
	fmt.Printf("Schedule:   %s", st.Expression)
	if st.Enabled {
		fmt.Printf(" (enabled)\n")
		if !st.NextFireAt.IsZero() {
			fmt.Printf("Next fire:  %s\n", st.NextFireAt.Local().Format(time.RFC1123))
		}
	} else {
		fmt.Printf(" (disabled)\n")
	}
	if st.LastRunID != "" {
		fmt.Printf("Last run:   %s\n", st.LastRunID)
	}
}

func cmdRun(c *client, jsonOut bool) {
	var resp struct {
		Started bool   `json:"started"`
		Error   string `json:"error"`
	}
	err := c.call(http.MethodPost, "/api/runs", nil, &resp)
	if jsonOut {
		if err != nil {
			outputJSON(map[string]any{"started": false, "error": err.Error()})
			os.Exit(1)
		}
		outputJSON(resp)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "not started: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Analysis run started.")
}

func cmdRuns(c *client, args []string, jsonOut bool) {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			fmt.Fprintf(os.Stderr, "invalid limit: %s\n", args[0])
			os.Exit(1)
		}
		limit = n
	}
	var resp struct {
		Runs []runRecord `json:"runs"`
	}
	must(c.call(http.MethodGet, fmt.Sprintf("/api/runs?limit=%d", limit), nil, &resp))
	if jsonOut {
		outputJSON(resp.Runs)
		return
	}
	if len(resp.Runs) == 0 {
		fmt.Println("No runs yet.")
		return
	}
	for _, r := range resp.Runs {
		started := time.UnixMilli(r.StartedAt).Local().Format("2006-01-02 15:04")
		fmt.Printf("%-36s %-8s %-8s %s  unanswered=%d ranked=%d\n",
			r.RunID, r.Trigger, r.Status, started, r.UnansweredCount, r.RankedCount)
		if r.ErrorDetail != "" {
			fmt.Printf("  %s\n", r.ErrorDetail)
		}
	}
}

func cmdReport(c *client) {
	var r runRecord
	must(c.call(http.MethodGet, "/api/runs/latest", nil, &r))
	if r.Report == "" {
		fmt.Println("Latest run has no report.")
		return
	}
	fmt.Println(r.Report)
}

func cmdResend(c *client, jsonOut bool) {
	var resp struct {
		Resent bool   `json:"resent"`
		RunID  string `json:"run_id"`
	}
	must(c.call(http.MethodPost, "/api/reports/resend", nil, &resp))
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Report from run %s resent.\n", resp.RunID)
}

func cmdSchedule(c *client, args []string, jsonOut bool) {
	var body map[string]any
	switch args[0] {
	case "show":
		cmdStatus(c, jsonOut)
		return
	case "enable":
		body = map[string]any{"enabled": true}
	case "disable":
		body = map[string]any{"enabled": false}
	case "set":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: replywatchctl schedule set <expr>")
			os.Exit(1)
		}
		body = map[string]any{"expression": args[1]}
	default:
		fmt.Fprintf(os.Stderr, "unknown schedule subcommand: %s\n", args[0])
		os.Exit(1)
	}

	var st scheduleStatus
	must(c.call(http.MethodPut, "/api/schedule", body, &st))
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Schedule: %s enabled=%v\n", st.Expression, st.Enabled)
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
