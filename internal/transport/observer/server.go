package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"scenekeeper.ai/internal/engine"
	"scenekeeper.ai/internal/events"
	"scenekeeper.ai/internal/gamestate"
	"scenekeeper.ai/internal/persistence/indexdb"
	plog "scenekeeper.ai/internal/persistence/log"
	"scenekeeper.ai/internal/protocol"
	"scenekeeper.ai/internal/scene/active"
	"scenekeeper.ai/internal/scene/loader"
)

// Loop is the tick loop the observer marshals coordinator calls onto.
type Loop interface {
	Do(ctx context.Context, fn func()) error
	CurrentTick() uint64
	TickRateHz() int
	FramesPerSecond() float64
}

type Config struct {
	Loop        Loop
	Coordinator *gamestate.Coordinator
	Bus         *events.Bus
	Index       *indexdb.SQLiteIndex
	Commands    *plog.CommandLogger
	Logger      *log.Logger
	SendQueue   int
	AllowRemote bool
}

type Server struct {
	loop     Loop
	coord    *gamestate.Coordinator
	bus      *events.Bus
	index    *indexdb.SQLiteIndex
	commands *plog.CommandLogger
	log      *log.Logger

	sendQueue   int
	allowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	sessions atomic.Int64
	dropped  atomic.Uint64
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 256
	}
	return &Server{
		loop:        cfg.Loop,
		coord:       cfg.Coordinator,
		bus:         cfg.Bus,
		index:       cfg.Index,
		commands:    cfg.Commands,
		log:         cfg.Logger,
		sendQueue:   cfg.SendQueue,
		allowRemote: cfg.AllowRemote,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only by default
		},
	}
}

// Register mounts every observer endpoint on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/observer", s.WSHandler())
	mux.HandleFunc("/v1/status", s.StatusHandler())
	mux.HandleFunc("/v1/scene", s.SceneHandler())
	mux.HandleFunc("/v1/loads", s.LoadsHandler())
	mux.HandleFunc("/v1/events", s.EventsHandler())
}

func (s *Server) Sessions() int64 { return s.sessions.Load() }

// Dropped counts events discarded because an observer fell behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) status(ctx context.Context, reqID string) (protocol.StatusMsg, error) {
	var st gamestate.Status
	if err := s.loop.Do(ctx, func() { st = s.coord.Status() }); err != nil {
		return protocol.StatusMsg{}, err
	}
	return protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Tick:            s.loop.CurrentTick(),
		TickRateHz:      s.loop.TickRateHz(),
		FPS:             s.loop.FramesPerSecond(),
		Scene:           st.Scene,
		WorldState:      st.World.String(),
		GuiState:        st.Gui.String(),
		Paused:          st.Paused,
		LoadInProgress:  st.LoadInProgress,
		Quit:            st.Quit,
	}, nil
}

func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.admit(rw, r) {
			return
		}
		st, err := s.status(r.Context(), "")
		if err != nil {
			writeError(rw, http.StatusServiceUnavailable, ErrorCode(err), err)
			return
		}
		writeJSON(rw, http.StatusOK, st)
	}
}

// SceneHandler describes the live tree of the current scene in the scene
// definition format.
func (s *Server) SceneHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.admit(rw, r) {
			return
		}
		var (
			def loader.Definition
			ok  bool
		)
		err := s.loop.Do(r.Context(), func() {
			if sc := s.coord.CurrentScene(); sc != nil {
				def, ok = loader.Describe(sc.Name(), sc.Root()), true
			}
		})
		if err != nil {
			writeError(rw, http.StatusServiceUnavailable, ErrorCode(err), err)
			return
		}
		if !ok {
			writeError(rw, http.StatusNotFound, protocol.ErrNoScene, gamestate.ErrNoScene)
			return
		}
		writeJSON(rw, http.StatusOK, def)
	}
}

func (s *Server) LoadsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.admit(rw, r) {
			return
		}
		if s.index == nil {
			http.Error(rw, "index disabled", http.StatusNotFound)
			return
		}
		loads, err := s.index.Loads(r.Context(), queryLimit(r, 50))
		if err != nil {
			writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err)
			return
		}
		writeJSON(rw, http.StatusOK, loads)
	}
}

func (s *Server) EventsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.admit(rw, r) {
			return
		}
		if s.index == nil {
			http.Error(rw, "index disabled", http.StatusNotFound)
			return
		}
		evs, err := s.index.RecentEvents(r.Context(), r.URL.Query().Get("kind"), queryLimit(r, 100))
		if err != nil {
			writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err)
			return
		}
		writeJSON(rw, http.StatusOK, evs)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := protocol.ValidateJSON(protocol.ObserverSchema, msg); err != nil || json.Unmarshal(msg, &sub) != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		s.log.Printf("observer %s connected from %s", sid, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan []byte, s.sendQueue)
		var filter atomic.Pointer[map[events.Kind]bool]
		filter.Store(kindFilter(sub.Kinds))

		unsubscribe := s.bus.Subscribe(events.ListenerFunc(func(e events.Event) {
			if f := *filter.Load(); len(f) > 0 && !f[e.Kind] {
				return
			}
			b, err := json.Marshal(eventMsg(e))
			if err != nil {
				return
			}
			select {
			case out <- b:
			default:
				s.dropped.Add(1)
			}
		}))
		defer unsubscribe()

		send := func(v any) {
			b, err := json.Marshal(v)
			if err != nil {
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
		}

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		if st, err := s.status(ctx, ""); err == nil {
			send(st)
		}

		// Reader loop: commands and SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				send(nack("", "", protocol.ErrProtoBadRequest, "malformed json"))
				continue
			}
			if err := protocol.ValidateJSON(protocol.ObserverSchema, msg); err != nil || base.ProtocolVersion != protocol.Version {
				reason := "protocol version mismatch"
				if err != nil {
					reason = err.Error()
				}
				send(nack(base.Type, base.ReqID, protocol.ErrProtoBadRequest, reason))
				continue
			}
			switch base.Type {
			case protocol.TypeSubscribe:
				var upd protocol.SubscribeMsg
				if err := json.Unmarshal(msg, &upd); err == nil {
					filter.Store(kindFilter(upd.Kinds))
				}
			case protocol.TypeStatusReq:
				st, err := s.status(ctx, base.ReqID)
				if err != nil {
					send(nack(base.Type, base.ReqID, ErrorCode(err), err.Error()))
					continue
				}
				send(st)
			default:
				send(s.command(ctx, sid, base, msg))
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		s.log.Printf("observer %s disconnected", sid)

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// command runs one state-changing request on the tick loop and builds the
// ACK for it.
func (s *Server) command(ctx context.Context, sid string, base protocol.BaseMessage, msg []byte) protocol.AckMsg {
	var (
		cmdErr error
		loadID string
		detail string
	)
	runErr := func(fn func()) error { return s.loop.Do(ctx, fn) }

	var err error
	switch base.Type {
	case protocol.TypeLoadScene:
		var m protocol.LoadSceneMsg
		if err = json.Unmarshal(msg, &m); err != nil {
			break
		}
		detail = m.Scene
		err = runErr(func() {
			var op *gamestate.LoadOp
			op, cmdErr = s.coord.LoadScene(m.Scene)
			if op != nil {
				loadID = op.ID.String()
			}
		})
	case protocol.TypeSetGameState:
		var m protocol.SetGameStateMsg
		if err = json.Unmarshal(msg, &m); err != nil {
			break
		}
		detail = m.World + "/" + m.Gui
		world, werr := gamestate.ParseState(m.World)
		gui, gerr := gamestate.ParseState(m.Gui)
		if err = errors.Join(werr, gerr); err != nil {
			break
		}
		err = runErr(func() { cmdErr = s.coord.SetGameState(world, gui) })
	case protocol.TypeSetActive:
		var m protocol.SetNodeActiveMsg
		if err = json.Unmarshal(msg, &m); err != nil {
			break
		}
		detail = m.Path + "=" + strconv.FormatBool(m.Enabled)
		err = runErr(func() { cmdErr = s.coord.SetNodeActive(m.Path, m.Enabled) })
	default:
		err = fmt.Errorf("unsupported message type %q", base.Type)
	}
	if err == nil {
		err = cmdErr
	}

	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          base.Type,
		ReqID:           base.ReqID,
		Accepted:        err == nil,
		LoadID:          loadID,
		ServerTick:      s.loop.CurrentTick(),
	}
	if err != nil {
		ack.Code = ErrorCode(err)
		ack.Message = err.Error()
	}
	if s.commands != nil {
		if werr := s.commands.WriteCommand(plog.CommandEntry{
			Tick:     ack.ServerTick,
			Remote:   sid,
			Type:     base.Type,
			ReqID:    base.ReqID,
			Detail:   detail,
			Accepted: ack.Accepted,
			Code:     ack.Code,
		}); werr != nil {
			s.log.Printf("command log: %v", werr)
		}
	}
	return ack
}

// ErrorCode maps coordinator and engine errors onto protocol codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, loader.ErrInvalidResource):
		return protocol.ErrInvalidResource
	case errors.Is(err, loader.ErrResourceLoadFailed):
		return protocol.ErrLoadFailed
	case errors.Is(err, active.ErrInvalidSceneShape):
		return protocol.ErrInvalidSceneShape
	case errors.Is(err, gamestate.ErrLoadAlreadyInProgress):
		return protocol.ErrLoadInProgress
	case errors.Is(err, gamestate.ErrNoScene):
		return protocol.ErrNoScene
	case errors.Is(err, gamestate.ErrNodeNotFound):
		return protocol.ErrNoNode
	case errors.Is(err, gamestate.ErrQuit), errors.Is(err, engine.ErrStopped):
		return protocol.ErrQuit
	case errors.Is(err, engine.ErrBusy):
		return protocol.ErrBusy
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrBusy
	default:
		return protocol.ErrBadRequest
	}
}

func nack(ackFor, reqID, code, message string) protocol.AckMsg {
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          ackFor,
		ReqID:           reqID,
		Code:            code,
		Message:         message,
	}
}

func eventMsg(e events.Event) protocol.EventMsg {
	return protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Tick:            e.Tick,
		Kind:            string(e.Kind),
		Scene:           e.Scene,
		LoadID:          e.LoadID,
		Reason:          e.Reason,
		WorldState:      e.WorldState,
		GuiState:        e.GuiState,
	}
}

func kindFilter(kinds []string) *map[events.Kind]bool {
	m := make(map[events.Kind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
			m[events.Kind(k)] = true
		}
	}
	return &m
}

func (s *Server) admit(rw http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if !s.allowRemote && !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 1000 {
		return 1000
	}
	return n
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code string, err error) {
	writeJSON(rw, status, map[string]string{"code": code, "message": err.Error()})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
