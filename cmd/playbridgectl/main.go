// Package main provides the playbridge control CLI.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/godbus/dbus/v5"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/osa030/playbridge/internal/api/ws"
)

const (
	mprisPath        = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	mprisPlayerIface = "org.mpris.MediaPlayer2.Player"
)

var (
	app    = kingpin.New("playbridgectl", "playbridge control client")
	player = app.Flag("player", "MPRIS player name").Default("playbridge").String()
	server = app.Flag("server", "Control API address").Default("http://127.0.0.1:8787").String()
	token  = app.Flag("token", "Control token (or set CONTROL_TOKEN env)").Envar("CONTROL_TOKEN").String()

	// MPRIS commands
	statusCmd   = app.Command("status", "Show what is playing")
	playCmd     = app.Command("play", "Start playback")
	pauseCmd    = app.Command("pause", "Pause playback")
	toggleCmd   = app.Command("toggle", "Toggle play/pause")
	nextCmd     = app.Command("next", "Skip to the next track")
	previousCmd = app.Command("previous", "Go to the previous track or restart the current one").Alias("prev")
	seekCmd     = app.Command("seek", "Seek within the current track")
	seekPos     = seekCmd.Arg("position", "Position from the start (e.g. 1m30s)").Required().Duration()

	// Control API commands
	queueCmd   = app.Command("queue", "List the play queue")
	enqueueCmd = app.Command("enqueue", "Add tracks to the queue")
	enqueueIDs = enqueueCmd.Arg("track-ids", "Track ids (optionally prefixed with the source type)").Required().Strings()
	modeCmd    = app.Command("mode", "Set the play mode")
	modeName   = modeCmd.Arg("mode", "normal, shuffle or repeat_one").Required().Enum("normal", "shuffle", "repeat_one")
	clearCmd   = app.Command("clear", "Clear the queue")
	watchCmd   = app.Command("watch", "Stream status updates")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = status()
	case playCmd.FullCommand():
		err = callPlayer("Play")
	case pauseCmd.FullCommand():
		err = callPlayer("Pause")
	case toggleCmd.FullCommand():
		err = callPlayer("PlayPause")
	case nextCmd.FullCommand():
		err = callPlayer("Next")
	case previousCmd.FullCommand():
		err = callPlayer("Previous")
	case seekCmd.FullCommand():
		err = seek(*seekPos)
	case queueCmd.FullCommand():
		err = listQueue()
	case enqueueCmd.FullCommand():
		err = enqueue(*enqueueIDs)
	case modeCmd.FullCommand():
		_, err = sendCommand(ws.Command{Command: "mode", Mode: *modeName})
	case clearCmd.FullCommand():
		_, err = sendCommand(ws.Command{Command: "clear"})
	case watchCmd.FullCommand():
		err = watch()
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func playerObject() (dbus.BusObject, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return conn.Object("org.mpris.MediaPlayer2."+*player, mprisPath), nil
}

func callPlayer(method string) error {
	obj, err := playerObject()
	if err != nil {
		return err
	}
	if call := obj.Call(mprisPlayerIface+"."+method, 0); call.Err != nil {
		return call.Err
	}
	return nil
}

func status() error {
	obj, err := playerObject()
	if err != nil {
		return err
	}

	playbackStatus, err := obj.GetProperty(mprisPlayerIface + ".PlaybackStatus")
	if err != nil {
		return fmt.Errorf("player %q not found: %w", *player, err)
	}
	fmt.Printf("State: %v\n", playbackStatus.Value())

	md, err := metadata(obj)
	if err != nil {
		return err
	}
	title, _ := md["xesam:title"].Value().(string)
	if title == "" {
		fmt.Println("\nNo track currently playing")
		return nil
	}

	fmt.Println("\nCurrently Playing:")
	fmt.Printf("  Title: %s\n", title)
	if artists, ok := md["xesam:artist"].Value().([]string); ok && len(artists) > 0 {
		fmt.Printf("  Artist: %s\n", strings.Join(artists, ", "))
	}
	if album, ok := md["xesam:album"].Value().(string); ok && album != "" {
		fmt.Printf("  Album: %s\n", album)
	}
	if art, ok := md["mpris:artUrl"].Value().(string); ok && art != "" {
		fmt.Printf("  Artwork: %s\n", art)
	}

	var position time.Duration
	if v, err := obj.GetProperty(mprisPlayerIface + ".Position"); err == nil {
		if us, ok := v.Value().(int64); ok {
			position = time.Duration(us) * time.Microsecond
		}
	}
	var length time.Duration
	if us, ok := md["mpris:length"].Value().(int64); ok {
		length = time.Duration(us) * time.Microsecond
	}
	fmt.Printf("  Position: %s / %s\n", formatDuration(position), formatDuration(length))
	return nil
}

func seek(position time.Duration) error {
	if position < 0 {
		return fmt.Errorf("position must not be negative")
	}
	obj, err := playerObject()
	if err != nil {
		return err
	}
	md, err := metadata(obj)
	if err != nil {
		return err
	}
	trackID, ok := md["mpris:trackid"].Value().(dbus.ObjectPath)
	if !ok {
		return fmt.Errorf("no track to seek in")
	}
	call := obj.Call(mprisPlayerIface+".SetPosition", 0, trackID, position.Microseconds())
	return call.Err
}

func metadata(obj dbus.BusObject) (map[string]dbus.Variant, error) {
	v, err := obj.GetProperty(mprisPlayerIface + ".Metadata")
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	md, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("unexpected metadata type %T", v.Value())
	}
	return md, nil
}

func newRequest(method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequest(method, strings.TrimRight(*server, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if *token != "" {
		req.Header.Set(ws.TokenHeader, *token)
	}
	return req, nil
}

func listQueue() error {
	req, err := newRequest(http.MethodGet, "/queue", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var entries []ws.QueueEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return err
	}

	fmt.Printf("\n=== QUEUE (%d tracks) ===\n", len(entries))
	for i, e := range entries {
		artist := ""
		if e.Artist != "" {
			artist = " - " + e.Artist
		}
		fmt.Printf("%3d. %s%s [%s] (%s)\n", i+1, e.Title, artist,
			formatDuration(time.Duration(e.DurationMs)*time.Millisecond), strings.ToLower(e.Origin))
	}
	fmt.Println()
	return nil
}

func enqueue(ids []string) error {
	reply, err := sendCommand(ws.Command{Command: "enqueue", TrackIDs: ids})
	if err != nil {
		return err
	}
	for _, r := range reply.Results {
		if r.Accepted {
			fmt.Printf("Queued: %s (%s)\n", r.Title, r.TrackID)
		} else {
			fmt.Printf("Rejected: %s [%s]\n", r.TrackID, r.Code)
		}
	}
	return nil
}

func sendCommand(cmd ws.Command) (*ws.Reply, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	req, err := newRequest(http.MethodPost, "/commands", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthenticated (use --token or CONTROL_TOKEN env)")
	}

	var reply ws.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("invalid response (%s): %w", resp.Status, err)
	}
	if !reply.OK {
		return nil, fmt.Errorf("%s", reply.Error)
	}
	return &reply, nil
}

func watch() error {
	u, err := url.Parse(strings.TrimRight(*server, "/") + "/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if *token != "" {
		header.Set(ws.TokenHeader, *token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	fmt.Println("Watching status (Ctrl+C to stop)...")
	for {
		var msg ws.StatusMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if msg.Type != "status" || msg.Status == nil {
			continue
		}
		s := msg.Status
		state := "paused"
		if s.IsPlaying {
			state = "playing"
		}
		title := "-"
		if s.Track != nil {
			title = s.Track.Title
			if s.Track.Artist != "" {
				title += " - " + s.Track.Artist
			}
		}
		fmt.Printf("[%d] %-7s %s %s/%s (%d/%d, %s)\n", s.SequenceNo, state, title,
			formatDuration(time.Duration(s.ElapsedMs)*time.Millisecond),
			formatDuration(time.Duration(s.DurationMs)*time.Millisecond),
			s.QueueIndex+1, s.QueueLength, s.PlayMode)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
