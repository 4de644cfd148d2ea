// Command peer is a headless lobby client: it creates, joins or matchmakes
// into a session on a relay server and runs the match-start handshake.
//
// Commands on stdin: "start", "players", "leave".
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/DoyleJ11/lobby-sync/internal/config"
	"github.com/DoyleJ11/lobby-sync/internal/logging"
	"github.com/DoyleJ11/lobby-sync/internal/session"
	"github.com/DoyleJ11/lobby-sync/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		create   = flag.String("create", "", "create a co-op session on `MAP`")
		join     = flag.String("join", "", "join the session with `CODE`")
		auto     = flag.Bool("auto", false, "join any open co-op session (filtered by -map)")
		match    = flag.String("match", "", "matchmake for `MODE`")
		capacity = flag.Int("cap", 2, "matchmaking capacity")
		mapID    = flag.String("map", "", "map for -match and -auto")
		maps     = flag.String("maps", "Arena1,Arena2,Arena3", "comma separated maps this peer can load")
		solo     = flag.Bool("solo", false, "allow single-player matchmaking starts (debug builds only)")
		name     = flag.String("name", "", "display name (overrides LOBBY_DISPLAY_NAME)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *name != "" {
		cfg.DisplayName = *name
	}
	cfg.DebugSolo = cfg.DebugSolo || *solo

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	net, err := ws.NewNetwork(cfg.ServerURL, nil, log)
	if err != nil {
		return err
	}
	h := newHeadless(cfg, strings.Split(*maps, ","), log)
	c, err := session.New(net, cfg, session.Collaborators{
		Identity: h,
		Scenes:   h,
		Loading:  h,
		Spawner:  h,
		Notifier: h,
	}, log)
	if err != nil {
		return err
	}
	defer c.LeaveSession(context.Background())

	var code string
	switch {
	case *create != "":
		code, err = c.CreateSession(ctx, *create)
	case *join != "":
		err = c.JoinSession(ctx, *join)
		code = session.NormalizeCode(*join)
	case *auto:
		code, err = c.AutoJoin(ctx, session.Filter{Map: *mapID})
	case *match != "":
		code, err = c.StartMatchmaking(ctx, *match, *capacity, *mapID)
	default:
		flag.Usage()
		return errors.New("one of -create, -join, -auto or -match is required")
	}
	if err != nil {
		return err
	}
	fmt.Printf("in session %s as %s\n", code, c.Self())

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			switch line {
			case "start":
				if err := c.RequestStart(); err != nil {
					fmt.Println("start:", err)
				}
			case "players":
				for p, rec := range c.Players() {
					fmt.Printf("%s\t%s\t%s\n", p, rec.DisplayName, c.State())
				}
			case "leave":
				return nil
			case "":
			default:
				fmt.Println("commands: start, players, leave")
			}
		}
	}
}
