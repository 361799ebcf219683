package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"scenekeeper.ai/internal/events"
	"scenekeeper.ai/internal/protocol"
)

// bot is a scripted observer: it cycles through scenes, flips the game
// state between loads and logs every lifecycle event it sees.
func main() {
	var (
		url      = flag.String("url", "ws://127.0.0.1:8090/v1/observer", "observer ws url")
		scenes   = flag.String("scenes", "menu,level", "comma separated scene ids to cycle through")
		interval = flag.Duration("interval", 2*time.Second, "pause between loads")
		rounds   = flag.Int("rounds", 0, "number of loads (0 = until interrupted)")
	)
	flag.Parse()

	ids := splitScenes(*scenes)
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "missing -scenes")
		os.Exit(2)
	}

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version}); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	// Terminal lifecycle events, matched against ack load ids below.
	settled := make(chan protocol.EventMsg, 16)
	acks := make(chan protocol.AckMsg, 16)
	go func() {
		defer close(acks)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeStatus:
				var st protocol.StatusMsg
				if err := json.Unmarshal(msg, &st); err == nil {
					logger.Printf("STATUS tick=%d scene=%s world=%s gui=%s", st.Tick, st.Scene, st.WorldState, st.GuiState)
				}
			case protocol.TypeAck:
				var a protocol.AckMsg
				if err := json.Unmarshal(msg, &a); err == nil {
					acks <- a
				}
			case protocol.TypeEvent:
				var e protocol.EventMsg
				if err := json.Unmarshal(msg, &e); err != nil {
					continue
				}
				logger.Printf("EVENT tick=%d kind=%s scene=%s load=%s %s", e.Tick, e.Kind, e.Scene, e.LoadID, e.Reason)
				if isTerminal(e.Kind) && e.LoadID != "" {
					select {
					case settled <- e:
					default:
					}
				}
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for i := 0; *rounds == 0 || i < *rounds; i++ {
		id := ids[i%len(ids)]
		reqID := fmt.Sprintf("load_%d", i)
		if err := conn.WriteJSON(protocol.LoadSceneMsg{Type: protocol.TypeLoadScene, ProtocolVersion: protocol.Version, ReqID: reqID, Scene: id}); err != nil {
			logger.Fatalf("send LOAD_SCENE: %v", err)
		}
		ack, ok := awaitAck(acks, reqID, 5*time.Second)
		if !ok {
			logger.Fatalf("no ack for %s", reqID)
		}
		if !ack.Accepted {
			logger.Printf("load %s rejected: %s %s", id, ack.Code, ack.Message)
		} else {
			timeout := time.After(30 * time.Second)
		wait:
			for {
				select {
				case e := <-settled:
					if e.LoadID != ack.LoadID {
						continue
					}
					logger.Printf("load %s settled: %s", id, e.Kind)
					break wait
				case <-timeout:
					logger.Fatalf("load %s did not settle", id)
				case <-stop:
					return
				}
			}
		}

		// Pause the world on odd rounds so both pause paths get exercised.
		world := "PLAY"
		if i%2 == 1 {
			world = "PAUSE"
		}
		stateReq := fmt.Sprintf("state_%d", i)
		_ = conn.WriteJSON(protocol.SetGameStateMsg{Type: protocol.TypeSetGameState, ProtocolVersion: protocol.Version, ReqID: stateReq, World: world, Gui: "PLAY"})
		if _, ok := awaitAck(acks, stateReq, 5*time.Second); !ok {
			logger.Fatalf("no ack for %s", stateReq)
		}

		select {
		case <-stop:
			return
		case <-time.After(*interval):
		}
	}
}

func awaitAck(acks <-chan protocol.AckMsg, reqID string, timeout time.Duration) (protocol.AckMsg, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case a, ok := <-acks:
			if !ok {
				return protocol.AckMsg{}, false
			}
			if a.ReqID == reqID {
				return a, true
			}
		case <-deadline:
			return protocol.AckMsg{}, false
		}
	}
}

func isTerminal(kind string) bool {
	switch events.Kind(kind) {
	case events.SceneLoaded, events.SceneLoadFailed, events.InvalidSceneShape:
		return true
	}
	return false
}

func splitScenes(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
