package gamestate

import (
	"fmt"
	"time"

	"scenekeeper.ai/internal/persistence/snapshot"
	"scenekeeper.ai/internal/scene/loader"
)

// Capture records the current scene tree and game state. A load in flight
// is not captured; the snapshot holds whatever scene is attached.
func (c *Coordinator) Capture(now time.Time) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			Tick:    c.host.CurrentTick(),
			SavedAt: now.UTC().Format(time.RFC3339Nano),
		},
		World: c.world.String(),
		Gui:   c.gui.String(),
	}
	if c.scene != nil {
		def := loader.Describe(c.scene.Name(), c.scene.Root())
		snap.Scene = c.scene.Name()
		snap.Tree = &def
	}
	return snap
}

// Resume starts the coordinator from a snapshot instead of the host's
// first child: the saved tree is attached, adopted and the saved game
// state reapplied. The host tick continues from the saved one.
func (c *Coordinator) Resume(snap snapshot.SnapshotV1) error {
	world, err := ParseState(snap.World)
	if err != nil {
		return err
	}
	gui, err := ParseState(snap.Gui)
	if err != nil {
		return err
	}
	c.host.SetTick(snap.Header.Tick)
	if snap.Tree != nil {
		root, err := loader.Build(*snap.Tree)
		if err != nil {
			return fmt.Errorf("restore %s: %w", snap.Scene, err)
		}
		if err := c.host.AddChild(root); err != nil {
			return fmt.Errorf("restore %s: %w", snap.Scene, err)
		}
	}
	if err := c.Start(); err != nil {
		return err
	}
	if world != c.world || gui != c.gui {
		c.apply(world, gui)
	}
	c.log.Printf("resumed from tick=%d world=%s gui=%s", snap.Header.Tick, world, gui)
	return nil
}
