package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func followFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "dir",
			Aliases: []string{"out"},
			Usage:   "Directory for the downloaded result (defaults to download.dir)",
		},
		&cli.IntFlag{
			Name:  "refresh-attempts",
			Usage: "How often to retry a missing download link",
			Value: 3,
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Give up following the job after this long",
			Value: 30 * time.Minute,
		},
		&cli.BoolFlag{
			Name:  "no-browser",
			Usage: "Print links instead of opening them",
		},
		&cli.StringFlag{
			Name:  "user-agent",
			Usage: "Device user agent, used by download.strategy=auto",
		},
	}
}

func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Upload a video and check out",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Video file to compress",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "email",
				Usage: "Where the result link is sent",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Target email provider: gmail, outlook or other",
				Value: "gmail",
			},
			&cli.BoolFlag{
				Name:  "priority",
				Usage: "Add priority processing",
			},
			&cli.BoolFlag{
				Name:  "transcript",
				Usage: "Add a transcript",
			},
			&cli.StringFlag{
				Name:  "coupon",
				Usage: "Coupon code",
			},
			&cli.BoolFlag{
				Name:  "accept-terms",
				Usage: "Accept the Terms & Conditions",
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "Session id to use (generated when empty)",
			},
		}, followFlags()...),
		Action: r.Run,
	}
}

func resumeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Pick up a session after returning from the payment page",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "session",
				Usage:    "Session id printed by run",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "return-url",
				Aliases: []string{"url"},
				Usage:   "URL the payment page sent you back to",
			},
		}, followFlags()...),
		Action: r.Resume,
	}
}

func quoteCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "Show the price for every provider",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "Price this file's size",
			},
			&cli.IntFlag{
				Name:  "size",
				Usage: "Size in bytes when no file is given",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Provider to highlight",
				Value: "gmail",
			},
			&cli.BoolFlag{
				Name:  "priority",
				Usage: "Include priority processing",
			},
			&cli.BoolFlag{
				Name:  "transcript",
				Usage: "Include a transcript",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o", "out"},
				Usage:   "Write the quote to an .xlsx file",
			},
		},
		Action: r.Quote,
	}
}

func initConfigCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "init-config",
		Usage: "Write an example configuration file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Usage: "Where to write the file",
				Value: "config.toml",
			},
		},
		Action: r.InitConfig,
	}
}

func stubCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "stub",
		Usage: "Serve an in-memory backend for local runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
				Value: ":8000",
			},
		},
		Action: r.Stub,
	}
}
