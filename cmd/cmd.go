// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, syncCommand, downloadCommand, storageCommand, playCommand, statusCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration, database, and storage tiers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Setup,
	}
}

// syncCommand handles session sync against the progress service
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Push listening sessions and pull server progress",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run one sweep: close stale sessions, push the unsynced pool, prune",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "reconcile",
						Usage: "Also pull the bulk progress snapshot first",
					},
				},
				Action: r.SyncRun,
			},
			{
				Name:   "watch",
				Usage:  "Run the periodic sweep until interrupted",
				Action: r.SyncWatch,
			},
			{
				Name:   "sessions",
				Usage:  "List sessions still owed to the server",
				Action: r.SyncSessions,
			},
		},
	}
}

// downloadCommand handles item downloads and their lifecycle
func downloadCommand(r *Runner) *cli.Command {
	idFlag := &cli.StringFlag{
		Name:     "id",
		Usage:    "Library item ID",
		Required: true,
	}

	return &cli.Command{
		Name:    "download",
		Aliases: []string{"dl"},
		Usage:   "Download items for offline playback",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Download an item's audio files and cover art",
				Flags: []cli.Flag{
					idFlag,
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Re-download files already on disk",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Show interactive progress",
						Value: true,
					},
				},
				Action: r.DownloadStart,
			},
			{
				Name:   "restore",
				Usage:  "Reattach to downloads that survived a restart",
				Action: r.DownloadRestore,
			},
			{
				Name:   "delete",
				Usage:  "Remove an item's downloaded files from both tiers",
				Flags:  []cli.Flag{idFlag},
				Action: r.DownloadDelete,
			},
		},
	}
}

// storageCommand handles the hot/cold tier lifecycle
func storageCommand(r *Runner) *cli.Command {
	idFlag := &cli.StringFlag{
		Name:     "id",
		Usage:    "Library item ID",
		Required: true,
	}

	return &cli.Command{
		Name:  "storage",
		Usage: "Manage the hot/cold storage tiers",
		Commands: []*cli.Command{
			{
				Name:   "sweep",
				Usage:  "Demote finished and inactive items to the cold tier",
				Action: r.StorageSweep,
			},
			{
				Name:   "verify",
				Usage:  "Clear downloaded flags for files the OS evicted",
				Action: r.StorageVerify,
			},
			{
				Name:   "promote",
				Usage:  "Move an item's files to the hot tier",
				Flags:  []cli.Flag{idFlag},
				Action: r.StoragePromote,
			},
			{
				Name:   "demote",
				Usage:  "Move an item's files to the cold tier",
				Flags:  []cli.Flag{idFlag},
				Action: r.StorageDemote,
			},
		},
	}
}

func playCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "play",
		Usage: "Simulate listening to an item, exercising sessions and sync",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Library item ID",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "for",
				Usage: "How long to listen before stopping",
				Value: 0,
			},
		},
		Action: r.Play,
	}
}

func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show sessions, sync debt, and downloaded items",
		Action: r.Status,
	}
}
