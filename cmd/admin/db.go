package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/scenekeeper.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	kind := fs.String("kind", "", "event kind filter (events)")
	_ = fs.Parse(args)

	q := "loads"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "scenekeeper.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "loads", "failures":
		query := `SELECT load_id,COALESCE(replaced_scene,''),started_tick,COALESCE(scene,''),COALESCE(finished_tick,0),COALESCE(outcome,''),COALESCE(reason,'') FROM loads`
		if q == "failures" {
			query += ` WHERE outcome IS NOT NULL AND outcome<>'loaded'`
		}
		query += ` ORDER BY started_tick DESC, rowid DESC LIMIT ?`
		rows, err := db.Query(query, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				LoadID        string `json:"load_id"`
				ReplacedScene string `json:"replaced_scene,omitempty"`
				StartedTick   int64  `json:"started_tick"`
				Scene         string `json:"scene,omitempty"`
				FinishedTick  int64  `json:"finished_tick,omitempty"`
				Outcome       string `json:"outcome,omitempty"`
				Reason        string `json:"reason,omitempty"`
			}
			if err := rows.Scan(&r.LoadID, &r.ReplacedScene, &r.StartedTick, &r.Scene, &r.FinishedTick, &r.Outcome, &r.Reason); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "events":
		rows, err := db.Query(`SELECT tick,kind,COALESCE(scene,''),COALESCE(load_id,''),COALESCE(reason,''),COALESCE(world_state,''),COALESCE(gui_state,''),recorded_at
			FROM events WHERE (?='' OR kind=?) ORDER BY id DESC LIMIT ?`, *kind, *kind, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick       int64  `json:"tick"`
				Kind       string `json:"kind"`
				Scene      string `json:"scene,omitempty"`
				LoadID     string `json:"load_id,omitempty"`
				Reason     string `json:"reason,omitempty"`
				WorldState string `json:"world_state,omitempty"`
				GuiState   string `json:"gui_state,omitempty"`
				RecordedAt string `json:"recorded_at"`
			}
			if err := rows.Scan(&r.Tick, &r.Kind, &r.Scene, &r.LoadID, &r.Reason, &r.WorldState, &r.GuiState, &r.RecordedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "kinds":
		rows, err := db.Query(`SELECT kind,COUNT(*),MAX(tick) FROM events GROUP BY kind ORDER BY kind`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Kind     string `json:"kind"`
				Count    int64  `json:"count"`
				LastTick int64  `json:"last_tick"`
			}
			if err := rows.Scan(&r.Kind, &r.Count, &r.LastTick); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-limit N] [-kind K] loads|failures|events|kinds")
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
