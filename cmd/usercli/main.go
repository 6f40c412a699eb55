// Package main provides the viewer CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/giftrank/internal/api/connect"
	"github.com/osa030/giftrank/internal/api/wire"
)

var (
	app    = kingpin.New("giftrank-usercli", "giftrank viewer client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()

	// overview command
	overviewCmd = app.Command("overview", "Show the ranking of all rooms").Default()

	// room command
	roomCmd   = app.Command("room", "Show one room")
	roomIndex = roomCmd.Arg("index", "Room index (0-5)").Required().Int()
	roomTop   = roomCmd.Flag("top", "Number of senders to show").Default("10").Int()

	// watch command
	watchCmd = app.Command("watch", "Stream ranking updates")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewMonitorServiceClient(http.DefaultClient, *server, "")
	ctx := context.Background()

	switch command {
	case overviewCmd.FullCommand():
		overview(ctx, client)
	case roomCmd.FullCommand():
		showRoom(ctx, client, *roomIndex, *roomTop)
	case watchCmd.FullCommand():
		watch()
	}
}

func overview(ctx context.Context, client *apiconnect.MonitorServiceClient) {
	resp, err := client.GetOverview(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	printUpdate(resp.Update)
}

func showRoom(ctx context.Context, client *apiconnect.MonitorServiceClient, index, top int) {
	resp, err := client.GetRoom(ctx, index)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	r := resp.Room
	fmt.Printf("\n=== ROOM %d ===\n", r.Index)
	fmt.Printf("Room: %s (%s)\n", r.RoomName, r.RoomID)
	fmt.Printf("State: %s", r.State)
	if r.NextRetryAt != nil {
		fmt.Printf(" (attempt %d, next retry %s)", r.Attempts, r.NextRetryAt.Local().Format("15:04:05"))
	}
	fmt.Println()
	fmt.Printf("Total: %d pt (initial %d + session %d)\n", r.Total, r.InitialPoints, r.SessionPoints)
	if r.PendingPoints > 0 {
		fmt.Printf("Pending: +%d pt (%d combo, settling=%v)\n", r.PendingPoints, r.Combo, r.Settling)
	}

	if row := resp.Row; row != nil {
		fmt.Printf("Rank: %d  Gap: %+d  Velocity: %d pt/min  Danger: %s\n", row.Rank, row.Gap, row.Velocity, row.Danger)
		if row.PredictedMinutes != nil {
			fmt.Printf("Prediction: %s in %.1f min\n", row.Prediction, *row.PredictedMinutes)
		}
	}

	if len(r.Senders) > 0 {
		fmt.Println("\nTop Senders:")
		for i, s := range r.Senders {
			if i >= top {
				break
			}
			fmt.Printf("  %2d. %-24s %8d pt\n", i+1, s.Name, s.Points)
		}
	}

	if len(r.HighValueGifts) > 0 {
		fmt.Println("\nHigh-value Gifts:")
		for _, g := range r.HighValueGifts {
			fmt.Printf("  %s  gift=%d x%d %d pt from %s\n", g.At.Local().Format("15:04:05"), g.GiftID, g.Count, g.Points, g.SenderName)
		}
	}
	fmt.Println()
}

func watch() {
	u, err := url.Parse(*server)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println("Watching ranking updates. Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nClosing...")
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				fmt.Printf("Stream error: %v\n", err)
			}
			return
		}
		var update wire.Update
		if err := json.Unmarshal(data, &update); err != nil {
			fmt.Printf("Bad update: %v\n", err)
			continue
		}
		printUpdate(&update)
	}
}

func printUpdate(u *wire.Update) {
	fmt.Printf("\n[Sequence: %d] %s", u.SequenceNo, u.At.Local().Format("15:04:05"))
	if u.Frozen {
		fmt.Print("  (FROZEN)")
	}
	fmt.Println()

	alert := u.Ranking.Alert
	fmt.Printf("Alert: [%s] %s\n", alert.Level, alert.Message)

	states := make(map[int]string, len(u.Rooms))
	for _, r := range u.Rooms {
		states[r.Index] = r.State
	}

	if len(u.Ranking.Rows) == 0 {
		fmt.Println("No rooms tracked")
		return
	}
	fmt.Printf("  %-4s %-5s %-24s %10s %9s %8s %-8s %s\n", "RANK", "INDEX", "ROOM", "TOTAL", "GAP", "PT/MIN", "DANGER", "STATE")
	for _, row := range u.Ranking.Rows {
		marker := " "
		if row.IsReference {
			marker = "*"
		}
		fmt.Printf("%s %-4d %-5d %-24s %10d %+9d %8d %-8s %s\n",
			marker, row.Rank, row.Index, truncate(row.RoomName, 24), row.Total, row.Gap, row.Velocity, row.Danger, states[row.Index])
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
