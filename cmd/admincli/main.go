// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/giftrank/internal/api/connect"
)

var (
	app    = kingpin.New("giftrank-admincli", "giftrank admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// connect command
	connectCmd        = app.Command("connect", "Bind a window to a room and connect")
	connectIndex      = connectCmd.Arg("index", "Room index (0-5)").Required().Int()
	connectIdentifier = connectCmd.Arg("room", "Room ID or room URL").Required().String()

	// disconnect command
	disconnectCmd   = app.Command("disconnect", "Disconnect a window")
	disconnectIndex = disconnectCmd.Arg("index", "Room index (0-5)").Required().Int()

	// set-initial command
	setInitialCmd    = app.Command("set-initial", "Set initial points of a window")
	setInitialIndex  = setInitialCmd.Arg("index", "Room index (0-5)").Required().Int()
	setInitialPoints = setInitialCmd.Arg("points", "Initial points").Required().Int64()

	// sync-initial command
	syncInitialCmd   = app.Command("sync-initial", "Fetch event points and set them as initial points")
	syncInitialIndex = syncInitialCmd.Arg("index", "Room index (0-5)").Required().Int()

	// reset command
	resetCmd   = app.Command("reset", "Clear points and history of a window")
	resetIndex = resetCmd.Arg("index", "Room index (0-5)").Required().Int()

	// set-reference command
	setReferenceCmd   = app.Command("set-reference", "Select the reference window")
	setReferenceIndex = setReferenceCmd.Arg("index", "Room index (0-5)").Required().Int()

	// set-reconnect-delay command
	setDelayCmd     = app.Command("set-reconnect-delay", "Set the reconnect delay of every window")
	setDelaySeconds = setDelayCmd.Arg("seconds", "Delay in seconds (1-300)").Required().Int()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewMonitorServiceClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	var (
		resp *apiconnect.ControlResponse
		err  error
	)
	switch command {
	case connectCmd.FullCommand():
		resp, err = client.Connect(ctx, *connectIndex, *connectIdentifier)
	case disconnectCmd.FullCommand():
		resp, err = client.Disconnect(ctx, *disconnectIndex)
	case setInitialCmd.FullCommand():
		resp, err = client.SetInitialPoints(ctx, *setInitialIndex, *setInitialPoints)
	case syncInitialCmd.FullCommand():
		resp, err = client.SyncInitialPoints(ctx, *syncInitialIndex)
	case resetCmd.FullCommand():
		resp, err = client.Reset(ctx, *resetIndex)
	case setReferenceCmd.FullCommand():
		resp, err = client.SetReference(ctx, *setReferenceIndex)
	case setDelayCmd.FullCommand():
		resp, err = client.SetReconnectDelay(ctx, *setDelaySeconds)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	printControl(resp)
}

func printControl(resp *apiconnect.ControlResponse) {
	if !resp.Success {
		fmt.Printf("Failed: %s\n", resp.Message)
		os.Exit(1)
	}
	fmt.Println(resp.Message)

	if r := resp.Room; r != nil {
		name := r.RoomName
		if name == "" {
			name = "-"
		}
		fmt.Printf("  Window %d: %s (%s) state=%s total=%d\n", r.Index, name, r.RoomID, r.State, r.Total)
	}
}
