package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "scenekeeper.ai/internal/persistence/log"
)

// replay re-reads the compressed event log and checks that the recorded
// scene lifecycle is consistent: loads never overlap, every load settles
// exactly once and no load settles in the tick it started.
func main() {
	var (
		dataDir   = flag.String("data", "./data", "runtime data directory")
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst (default: <data>/events)")
		kind      = flag.String("kind", "", "print only events of this kind")
		scene     = flag.String("scene", "", "print only events naming this scene")
		quiet     = flag.Bool("q", false, "print the summary only")
	)
	flag.Parse()

	dir := strings.TrimSpace(*eventsDir)
	if dir == "" {
		dir = filepath.Join(*dataDir, "events")
	}
	files, err := persistlog.ListFiles(dir, "events")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", dir)
		os.Exit(1)
	}

	v := newVerifier()
	for _, path := range files {
		err := persistlog.ReadEvents(path, func(e persistlog.EventEntry) error {
			if !*quiet && (*kind == "" || string(e.Kind) == *kind) && (*scene == "" || e.Scene == *scene) {
				fmt.Printf("%s tick=%d %s scene=%s load=%s world=%s gui=%s %s\n",
					e.Time, e.Tick, e.Kind, e.Scene, e.LoadID, e.WorldState, e.GuiState, e.Reason)
			}
			v.Observe(e.Event)
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	sum := v.Finish()

	fmt.Printf("replay: sessions=%d events=%d loads=%d loaded=%d failed=%d invalid_shape=%d rejected=%d unsettled=%d\n",
		sum.Sessions, sum.Events, sum.Loads, sum.Loaded, sum.Failed, sum.InvalidShape, sum.Rejected, sum.Unsettled)
	for _, msg := range sum.Violations {
		fmt.Fprintln(os.Stderr, "violation:", msg)
	}
	if len(sum.Violations) > 0 {
		os.Exit(1)
	}
}
