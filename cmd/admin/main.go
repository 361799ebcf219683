package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scenekeeper.ai/internal/scene/node"
	"scenekeeper.ai/internal/scene/active"
	"scenekeeper.ai/internal/scene/loader"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "validate":
			validateCmd(os.Args[2:])
			return
		case "pack":
			packCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "scene":
			sceneCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	scenesDir := fs.String("scenes", "./scenes", "scene directory")
	_ = fs.Parse(args)

	ids, err := loader.NewDirResolver(*scenesDir).List()
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
}

func validateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	scenesDir := fs.String("scenes", "./scenes", "scene directory")
	_ = fs.Parse(args)

	res := loader.NewDirResolver(*scenesDir)
	ids := fs.Args()
	if len(ids) == 0 {
		var err error
		if ids, err = res.List(); err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
	bad := 0
	for _, id := range ids {
		n, err := validateScene(res, id)
		if err != nil {
			bad++
			fmt.Printf("FAIL %s: %v\n", id, err)
			continue
		}
		fmt.Printf("ok   %s nodes=%d\n", id, n)
	}
	if bad > 0 {
		os.Exit(1)
	}
}

// validateScene loads id the way the server would and checks that the
// result can become the current scene. It returns the node count.
func validateScene(res loader.Resolver, id string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	root, err := loader.LoadNow(ctx, res, id, loader.Options{})
	if err != nil {
		return 0, err
	}
	if _, err := active.New(root); err != nil {
		return 0, err
	}
	return node.Count(root), nil
}

func packCmd(args []string) {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	out := fs.String("out", "", "output path (default: <input>.zst)")
	keep := fs.Bool("keep", false, "keep the uncompressed input")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin pack [-out path] [-keep] scene.yaml")
		os.Exit(2)
	}
	dst, err := packScene(fs.Arg(0), strings.TrimSpace(*out), *keep)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pack:", err)
		os.Exit(1)
	}
	fmt.Println(dst)
}

// packScene writes a zstd copy of a yaml scene next to it (or to out). The
// definition is parsed first so a broken scene is never packed.
func packScene(src, out string, keep bool) (string, error) {
	raw, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	if _, err := loader.ParseDefinition(raw); err != nil {
		return "", err
	}
	if out == "" {
		out = strings.TrimSuffix(src, filepath.Ext(src)) + ".yaml.zst"
	}
	b, err := loader.Compress(raw)
	if err != nil {
		return "", err
	}
	tmp := out + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, out); err != nil {
		return "", err
	}
	if !keep && filepath.Clean(src) != filepath.Clean(out) {
		if err := os.Remove(src); err != nil {
			return "", err
		}
	}
	return out, nil
}
