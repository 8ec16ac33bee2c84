package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Common flags
var (
	addr    = flag.String("addr", "http://127.0.0.1:8080", "Base URL of the pidro server")
	timeout = flag.Duration("timeout", 10*time.Second, "HTTP request timeout")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [global flags] <command> [args]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  rooms [--filter F]                  List rooms (JSON); F is all|waiting|ready|playing|available|finished")
		fmt.Fprintln(os.Stderr, "  create --host ID [opts]             Create a room; prints the room code")
		fmt.Fprintln(os.Stderr, "  get CODE                            Print one room (JSON)")
		fmt.Fprintln(os.Stderr, "  close CODE [--player ID]            Close a room")
		fmt.Fprintln(os.Stderr, "  stats PLAYER                        Print one player's stats (JSON)")
		fmt.Fprintln(os.Stderr, "  top [--limit N]                     Print the win leaderboard (JSON)")
		fmt.Fprintln(os.Stderr, "  status                              Print server health (JSON)")
		fmt.Fprintln(os.Stderr, "\nGlobal flags:")
		flag.PrintDefaults()
	}

	// Suppress default flag errors to avoid noisy usage on subcommands
	flag.CommandLine.SetOutput(io.Discard)
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cli := &ctl{
		base: strings.TrimRight(*addr, "/"),
		http: &http.Client{Timeout: *timeout},
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "rooms":
		err = cli.rooms(flag.Args()[1:])
	case "create":
		err = cli.create(flag.Args()[1:])
	case "get":
		err = cli.get(flag.Args()[1:])
	case "close":
		err = cli.close(flag.Args()[1:])
	case "stats":
		err = cli.stats(flag.Args()[1:])
	case "top":
		err = cli.top(flag.Args()[1:])
	case "status":
		err = cli.status()
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatalErr(err)
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func fatalErr(err error) {
	fatal(err.Error())
}

type ctl struct {
	base string
	http *http.Client
}

// request performs one call and decodes the reply into out. Non-2xx replies
// surface the server's error field.
func (c *ctl) request(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *ctl) rooms(args []string) error {
	fs := flag.NewFlagSet("rooms", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	filter := fs.String("filter", "", "Room filter")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("rooms: %w", err)
	}

	path := "/rooms"
	if *filter != "" {
		path += "?filter=" + url.QueryEscape(*filter)
	}
	var reply struct {
		Rooms []json.RawMessage `json:"rooms"`
	}
	if err := c.request(http.MethodGet, path, nil, &reply); err != nil {
		return err
	}
	return printJSON(reply.Rooms)
}

func (c *ctl) create(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	host := fs.String("host", "", "Host player ID")
	name := fs.String("name", "", "Room name")
	practice := fs.Bool("practice", false, "Create a practice room")
	botSeats := fs.String("bot-seats", "", "Comma-separated practice bot seats (default: all free seats)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if *host == "" {
		return fmt.Errorf("create requires --host")
	}

	body := map[string]interface{}{
		"host_id":  *host,
		"practice": *practice,
	}
	if *name != "" {
		body["name"] = *name
	}
	if *botSeats != "" {
		body["bot_seats"] = strings.Split(*botSeats, ",")
	}
	var snap struct {
		Code string `json:"code"`
	}
	if err := c.request(http.MethodPost, "/rooms", body, &snap); err != nil {
		return err
	}
	fmt.Println(snap.Code)
	return nil
}

func (c *ctl) get(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("get requires a room code")
	}
	var snap json.RawMessage
	if err := c.request(http.MethodGet, "/rooms/"+url.PathEscape(args[0]), nil, &snap); err != nil {
		return err
	}
	return printJSON(snap)
}

func (c *ctl) close(args []string) error {
	fs := flag.NewFlagSet("close", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	player := fs.String("player", "", "Acting player ID (omit for operator close)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("close requires a room code")
	}

	var body interface{}
	if *player != "" {
		body = map[string]string{"player_id": *player}
	}
	return c.request(http.MethodPost, "/rooms/"+url.PathEscape(fs.Arg(0))+"/close", body, nil)
}

func (c *ctl) stats(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("stats requires a player ID")
	}
	var stats json.RawMessage
	if err := c.request(http.MethodGet, "/players/"+url.PathEscape(args[0])+"/stats", nil, &stats); err != nil {
		return err
	}
	return printJSON(stats)
}

func (c *ctl) top(args []string) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 10, "Number of players to list")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("top: %w", err)
	}

	var reply struct {
		Players []json.RawMessage `json:"players"`
	}
	path := fmt.Sprintf("/stats/top?limit=%d", *limit)
	if err := c.request(http.MethodGet, path, nil, &reply); err != nil {
		return err
	}
	return printJSON(reply.Players)
}

func (c *ctl) status() error {
	var reply json.RawMessage
	if err := c.request(http.MethodGet, "/statusz", nil, &reply); err != nil {
		return err
	}
	return printJSON(reply)
}
