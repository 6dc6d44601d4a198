// Command polystore is a command line client for the storage layer:
// list, transfer and manage files across every configured backend.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/polystore/polystore/internal/logging"
	"github.com/polystore/polystore/pkg/config"
	"github.com/polystore/polystore/pkg/storage"
)

func main() {
	app := &cli.App{
		Name:  "polystore",
		Usage: "uniform client for local, S3, SSH, Swift, HTTP and corpus storages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to the JSON configuration file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			listCommand(),
			getCommand(),
			pushCommand(),
			statCommand(),
			deleteCommand(),
			renameCommand(),
			existsCommand(),
			mkdirCommand(),
			streamCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withClient loads the configuration, initializes logging and hands a
// ready client to the command action.
func withClient(c *cli.Context, fn func(ctx context.Context, client *storage.Client) error) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if c.String("log-level") != "" {
		level = c.String("log-level")
	}
	if err := logging.Init(logging.Config{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}
	defer logging.Sync()

	client, err := config.NewClient(c.Context, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logging.Warn("close storage client", zap.Error(err))
		}
	}()

	return fn(c.Context, client)
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "list a directory",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: list [-r] <path>")
			}
			return withClient(c, func(ctx context.Context, client *storage.Client) error {
				listing, err := client.List(ctx, c.Args().First(), c.Bool("recursive"))
				if err != nil {
					return err
				}
				printListing(listing)
				return nil
			})
		},
	}
}

func printListing(listing storage.Listing) {
	keys := make([]string, 0, len(listing))
	for key := range listing {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := listing[key]
		if entry.IsDir {
			fmt.Printf("dir %s\n", key)
			continue
		}
		date := ""
		if !entry.LastModified.IsZero() {
			date = entry.LastModified.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%d\t%s\t%s\n", entry.Size, date, key)
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "download a file or directory",
		ArgsUsage: "<remote> <local>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("usage: get <remote> <local>")
			}
			return withClient(c, func(ctx context.Context, client *storage.Client) error {
				remote, local := c.Args().Get(0), c.Args().Get(1)
				isDir, err := client.IsDir(ctx, remote)
				if err != nil {
					return err
				}
				return client.Get(ctx, remote, local, isDir)
			})
		},
	}
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "upload a file or directory",
		ArgsUsage: "<local> <remote>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("usage: push <local> <remote>")
			}
			return withClient(c, func(ctx context.Context, client *storage.Client) error {
				return client.Push(ctx, c.Args().Get(0), c.Args().Get(1))
			})
		},
	}
}

func statCommand() *cli.Command {
	return &cli.Command{
		Name:      "stat",
		Usage:     "show metadata of a file or directory",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: stat <path>")
			}
			return withClient(c, func(ctx context.Context, client *storage.Client) error {
				stat, err := client.Stat(ctx, c.Args().First())
				if err != nil {
					return err
				}
				if stat.IsDir {
					fmt.Println("directory")
					return nil
				}
				fmt.Printf("size: %d\n", stat.Size)
				if !stat.LastModified.IsZero() {
					fmt.Printf("modified: %s\n", stat.LastModified.Format("2006-01-02 15:04:05"))
				}
				if stat.Checksum != "" {
					fmt.Printf("checksum: %s\n", stat.Checksum)
				}
				return nil
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete a file or directory",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: delete [-r] <path>")
			}
			return withClient(c, func(ctx context.Context, client *storage.Client) error {
				return client.Delete(ctx, c.Args().First(), c.Bool("recursive"))
			})
		},
	}
}

func renameCommand() *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "rename a file or directory within one storage",
		ArgsUsage: "<old> <new>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("usage: rename <old> <new>")
			}
			return withClient(c, func(ctx context.Context, client *storage.Client) error {
				return client.Rename(ctx, c.Args().Get(0), c.Args().Get(1))
			})
		},
	}
}

func existsCommand() *cli.Command {
	return &cli.Command{
		Name:      "exists",
		Usage:     "check whether a path exists",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: exists <path>")
			}
			return withClient(c, func(ctx context.Context, client *storage.Client) error {
				ok, err := client.Exists(ctx, c.Args().First())
				if err != nil {
					return err
				}
				fmt.Println(ok)
				if !ok {
					return cli.Exit("", 1)
				}
				return nil
			})
		},
	}
}

func mkdirCommand() *cli.Command {
	return &cli.Command{
		Name:      "mkdir",
		Usage:     "create a directory",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: mkdir <path>")
			}
			return withClient(c, func(ctx context.Context, client *storage.Client) error {
				return client.Mkdir(ctx, c.Args().First())
			})
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "stream a file to stdout",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "buffer-size", Aliases: []string{"b"}, Value: storage.DefaultBufferSize},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: stream [-b N] <path>")
			}
			return withClient(c, func(ctx context.Context, client *storage.Client) error {
				stream, err := client.Stream(ctx, c.Args().First(), c.Int("buffer-size"))
				if err != nil {
					return err
				}
				defer stream.Close()

				for {
					chunk, err := stream.Next()
					if err == io.EOF {
						return nil
					}
					if err != nil {
						return err
					}
					if _, err := os.Stdout.Write(chunk); err != nil {
						return err
					}
				}
			})
		},
	}
}
