package main

import (
	"flag"
	"fmt"
	"os"

	wind "github.com/windvcs/wind"
	"github.com/windvcs/wind/pkg/model"
)

func usage() {
	fmt.Println("Usage: wind <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  init")
	fmt.Println("  status")
	fmt.Println("  add <path>...")
	fmt.Println("  commit -m <message>")
	fmt.Println("  log [-n <limit>]")
	fmt.Println("  branch <name>")
	fmt.Println("  checkout <branch>")
	fmt.Println("  merge <branch>")
	fmt.Println("  resolve <node-id> <file>")
	fmt.Println("  sync <git-dir>")
	fmt.Println("  pack")
	os.Exit(1)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cwd, err := os.Getwd()
	if err != nil {
		fatal(err)
	}
	conf := wind.Config{Root: cwd, Author: authorFromEnv()}

	if os.Args[1] == "init" {
		repo, err := wind.Init(conf)
		if err != nil {
			fatal(err)
		}
		defer repo.Close()
		fmt.Printf("Initialized empty repository in %s\n", cwd)
		return
	}

	repo, err := wind.Open(conf)
	if err != nil {
		fatal(err)
	}
	defer repo.Close()

	switch os.Args[1] {
	case "status":
		status, err := repo.Status()
		if err != nil {
			fatal(err)
		}
		if status.Clean() {
			fmt.Println("Working copy clean.")
			return
		}
		for _, c := range status.Changes {
			if c.OldPath != "" {
				fmt.Printf("  %-10s %s -> %s\n", c.Status, c.OldPath, c.Path)
				continue
			}
			fmt.Printf("  %-10s %s\n", c.Status, c.Path)
		}

	case "add":
		if len(os.Args) < 3 {
			usage()
		}
		if err := repo.Add(os.Args[2:]...); err != nil {
			fatal(err)
		}

	case "commit":
		commitCmd := flag.NewFlagSet("commit", flag.ExitOnError)
		message := commitCmd.String("m", "", "commit message")
		commitCmd.Parse(os.Args[2:])
		if *message == "" {
			fmt.Fprintln(os.Stderr, "commit requires -m <message>")
			os.Exit(1)
		}
		oid, err := repo.Commit(*message)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Committed %s\n", oid)

	case "log":
		logCmd := flag.NewFlagSet("log", flag.ExitOnError)
		limit := logCmd.Int("n", 0, "maximum entries")
		logCmd.Parse(os.Args[2:])
		entries, err := repo.Log(*limit)
		if err != nil {
			fatal(err)
		}
		for _, e := range entries {
			fmt.Printf("changeset %s\n", e.Oid)
			fmt.Printf("Author: %s\n", e.Author)
			fmt.Printf("Date:   %s\n", e.Timestamp.Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("\n    %s\n\n", e.Message)
		}

	case "branch":
		if len(os.Args) < 3 {
			branches, err := repo.Branches()
			if err != nil {
				fatal(err)
			}
			current, _ := repo.CurrentBranch()
			for _, b := range branches {
				marker := "  "
				if b.Name == current {
					marker = "* "
				}
				fmt.Printf("%s%s\n", marker, b.Name)
			}
			return
		}
		if err := repo.CreateBranch(os.Args[2]); err != nil {
			fatal(err)
		}

	case "checkout":
		if len(os.Args) < 3 {
			usage()
		}
		if err := repo.Checkout(os.Args[2]); err != nil {
			fatal(err)
		}

	case "merge":
		if len(os.Args) < 3 {
			usage()
		}
		outcome, err := repo.Merge(os.Args[2])
		if err != nil {
			fatal(err)
		}
		if outcome.Clean() {
			fmt.Printf("Merged as %s\n", outcome.Oid)
			return
		}
		fmt.Printf("Merge produced %d conflict(s):\n", len(outcome.Conflicts))
		for _, c := range outcome.Conflicts {
			path := ""
			if c.Ours != nil {
				path = c.Ours.Path
			} else if c.Theirs != nil {
				path = c.Theirs.Path
			}
			fmt.Printf("  %s  %s  (%s)\n", c.NodeID, path, c.Kind)
		}
		fmt.Println("Resolve each with 'wind resolve <node-id> <file>' and commit.")

	case "resolve":
		if len(os.Args) < 4 {
			usage()
		}
		id, err := model.ParseNodeID(os.Args[2])
		if err != nil {
			fatal(err)
		}
		content, err := os.ReadFile(os.Args[3])
		if err != nil {
			fatal(err)
		}
		if err := repo.Resolve(id, content); err != nil {
			fatal(err)
		}

	case "sync":
		if len(os.Args) < 3 {
			usage()
		}
		report, err := repo.SyncPath(os.Args[2])
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Imported %d, exported %d\n", report.Imported, report.Exported)
		for _, d := range report.Divergences {
			fmt.Printf("  diverged: %s\n", d)
		}

	case "pack":
		n, err := repo.PackObjects()
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Packed %d object(s)\n", n)

	default:
		usage()
	}
}

func authorFromEnv() string {
	name := os.Getenv("WIND_AUTHOR_NAME")
	email := os.Getenv("WIND_AUTHOR_EMAIL")
	if name == "" {
		return ""
	}
	if email == "" {
		email = "unknown@localhost"
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
