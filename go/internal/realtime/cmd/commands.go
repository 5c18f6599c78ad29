package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mcdev12/plaza/go/internal/realtime/events"
	"github.com/mcdev12/plaza/go/internal/realtime/reconcile"
	"github.com/mcdev12/plaza/go/internal/realtime/router"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
)

var errQuit = errors.New("quit")

// client holds the components a typed command can reach. All methods run on
// the dispatch loop.
type client struct {
	conn     *session.Connector
	intents  *router.Intents
	router   *router.Router
	players  *reconcile.Players
	stations *reconcile.Stations
}

const usage = `commands:
  /say <text>            send a chat message
  /claim <station>       claim a station
  /release <station>     release a station
  /text <station> <text> set the text on a claimed station
  /move <x> <y> <z> [rot] [animation]
  /emote <name>
  /who                   list players
  /stations              list stations
  /connect | /disconnect
  /quit`

// run executes one input line. Plain text is sent as chat. errQuit asks the
// caller to shut down.
func (c *client) run(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		c.intents.Chat.Emit(events.ChatRequest{Text: line})
		return nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch name {
	case "say":
		c.intents.Chat.Emit(events.ChatRequest{Text: rest})
	case "claim":
		if len(args) != 1 {
			return fmt.Errorf("usage: /claim <station>")
		}
		c.intents.ClaimStation.Emit(events.ClaimStationRequest{StationID: args[0]})
	case "release":
		if len(args) != 1 {
			return fmt.Errorf("usage: /release <station>")
		}
		c.intents.ReleaseStation.Emit(events.ReleaseStationRequest{StationID: args[0]})
	case "text":
		id, text, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /text <station> <text>")
		}
		c.intents.UpdateStation.Emit(events.UpdateStationRequest{StationID: id, Text: text})
	case "move":
		req, err := parseMove(args)
		if err != nil {
			return err
		}
		c.intents.Move.Emit(req)
	case "emote":
		if len(args) != 1 {
			return fmt.Errorf("usage: /emote <name>")
		}
		c.intents.Emote.Emit(events.EmoteRequest{Emote: args[0]})
	case "who":
		c.printPlayers()
	case "stations":
		c.printStations()
	case "connect":
		c.conn.Connect()
	case "disconnect":
		c.conn.Disconnect(session.DisconnectOptions{})
	case "help":
		fmt.Println(usage)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
	return nil
}

func parseMove(args []string) (events.MoveRequest, error) {
	if len(args) < 3 || len(args) > 5 {
		return events.MoveRequest{}, fmt.Errorf("usage: /move <x> <y> <z> [rot] [animation]")
	}
	var nums [4]float64
	n := min(len(args), 4)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			if i == 3 {
				// a fourth word that is not a number is the animation
				n = 3
				break
			}
			return events.MoveRequest{}, fmt.Errorf("invalid coordinate %q", args[i])
		}
		nums[i] = v
	}
	if len(args) > n+1 {
		return events.MoveRequest{}, fmt.Errorf("invalid rotation %q", args[3])
	}
	req := events.MoveRequest{X: nums[0], Y: nums[1], Z: nums[2], RotY: nums[3]}
	if len(args) > n {
		req.Animation = args[n]
	}
	return req, nil
}

func (c *client) printPlayers() {
	for _, key := range c.players.Keys() {
		p, _ := c.players.Get(key)
		marker := " "
		if p.IsLocal {
			marker = "*"
		}
		fmt.Printf("%s %-12s %-36s (%.1f, %.1f, %.1f) %s\n", marker, p.Username, p.SessionID, p.X, p.Y, p.Z, p.StationID)
	}
}

func (c *client) printStations() {
	for _, key := range c.stations.Keys() {
		st, _ := c.stations.Get(key)
		owner := st.ClaimedByUsername
		if owner == "" {
			owner = "-"
		}
		fmt.Printf("%-12s %-12s $%d.%02d %q\n", st.StationID, owner, st.DonationTotal/100, st.DonationTotal%100, st.Text)
	}
}
