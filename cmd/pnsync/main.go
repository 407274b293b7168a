package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"

	"pnsync"
	"pnsync/contentstore"
	"pnsync/internal/helpers"
	"pnsync/syncer"
)

var Version = "dev"

func main() {
	app := &cli.App{
		Name:  "pnsync",
		Usage: "Sync an encrypted identity record over a content-addressed network",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "pnsync.db",
				EnvVars: []string{"PNSYNC_DB_PATH"},
			},
			&cli.StringFlag{
				Name:     "secret-path",
				Required: true,
				EnvVars:  []string{"PNSYNC_SECRET_PATH"},
			},
			&cli.StringSliceFlag{
				Name:     "upload-gateway",
				Required: true,
				EnvVars:  []string{"PNSYNC_UPLOAD_GATEWAYS"},
			},
			&cli.StringSliceFlag{
				Name:     "download-gateway",
				Required: true,
				EnvVars:  []string{"PNSYNC_DOWNLOAD_GATEWAYS"},
			},
			&cli.StringFlag{
				Name:    "password",
				EnvVars: []string{"PNSYNC_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "device-id",
				EnvVars: []string{"PNSYNC_DEVICE_ID"},
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Value:   5 * time.Minute,
				EnvVars: []string{"PNSYNC_CACHE_TTL"},
			},
			&cli.DurationFlag{
				Name:    "rate-window",
				Value:   time.Minute,
				EnvVars: []string{"PNSYNC_RATE_WINDOW"},
			},
			&cli.IntFlag{
				Name:    "kdf-iterations",
				Value:   0,
				EnvVars: []string{"PNSYNC_KDF_ITERATIONS"},
			},
			&cli.StringFlag{
				Name:    "kdf-hash",
				Value:   "sha512",
				EnvVars: []string{"PNSYNC_KDF_HASH"},
			},
		},
		Commands: []*cli.Command{
			publish,
			fetch,
			resolve,
			audit,
		},
		ErrWriter: os.Stdout,
		Version:   Version,
	}

	app.Run(os.Args)
}

func newSync(cmd *cli.Context) (*pnsync.Sync, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{}))

	s, err := pnsync.New(&pnsync.Args{
		DbPath:           cmd.String("db-path"),
		SecretPath:       cmd.String("secret-path"),
		UploadGateways:   gateways(cmd.StringSlice("upload-gateway")),
		DownloadGateways: gateways(cmd.StringSlice("download-gateway")),
		CacheTTL:         cmd.Duration("cache-ttl"),
		RateLimitWindow:  cmd.Duration("rate-window"),
		KDFIterations:    cmd.Int("kdf-iterations"),
		KDFHash:          cmd.String("kdf-hash"),
		DeviceId:         cmd.String("device-id"),
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	if pass := cmd.String("password"); pass != "" {
		s.Unlock(pass)
	}

	return s, nil
}

func gateways(urls []string) []contentstore.Gateway {
	out := make([]contentstore.Gateway, 0, len(urls))
	for _, u := range urls {
		name := u
		if parsed, err := url.Parse(u); err == nil && parsed.Host != "" {
			name = parsed.Host
		}
		out = append(out, contentstore.Gateway{Name: name, URL: u})
	}
	return out
}

var publish = &cli.Command{
	Name:      "publish",
	Usage:     "Encrypt and publish an identity record from a JSON file",
	ArgsUsage: "<identity.json>",
	Action: func(cmd *cli.Context) error {
		if cmd.NArg() != 1 {
			return fmt.Errorf("usage: pnsync publish <identity.json>")
		}

		b, err := os.ReadFile(cmd.Args().First())
		if err != nil {
			return err
		}

		var identity syncer.Identity
		if err := json.Unmarshal(b, &identity); err != nil {
			return err
		}

		s, err := newSync(cmd)
		if err != nil {
			return err
		}

		res := s.Publish(cmd.Context, &identity)
		if !res.Success {
			return fmt.Errorf("publish failed: %s", res.Err)
		}

		fmt.Printf("published %s -> %s\n", identity.Id, res.ContentAddress)
		return nil
	},
}

var fetch = &cli.Command{
	Name:      "fetch",
	Usage:     "Fetch and decrypt the identity record for a DID",
	ArgsUsage: "<did>",
	Action: func(cmd *cli.Context) error {
		if cmd.NArg() != 1 {
			return fmt.Errorf("usage: pnsync fetch <did>")
		}

		s, err := newSync(cmd)
		if err != nil {
			return err
		}

		identity, err := s.Fetch(cmd.Context, cmd.Args().First())
		if err != nil {
			fmt.Println(helpers.HumanMessage(err))
			return err
		}

		out, err := json.MarshalIndent(identity, "", "  ")
		if err != nil {
			return err
		}

		fmt.Println(string(out))
		return nil
	},
}

var resolve = &cli.Command{
	Name:      "resolve",
	Usage:     "Resolve a DID to its document",
	ArgsUsage: "<did>",
	Action: func(cmd *cli.Context) error {
		if cmd.NArg() != 1 {
			return fmt.Errorf("usage: pnsync resolve <did>")
		}

		s, err := newSync(cmd)
		if err != nil {
			return err
		}

		res, err := s.Resolve(cmd.Context, cmd.Args().First())
		if err != nil {
			fmt.Println(helpers.HumanMessage(err))
			return err
		}

		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}

		fmt.Println(string(out))
		return nil
	},
}

var audit = &cli.Command{
	Name:  "audit",
	Usage: "Print the security audit log",
	Action: func(cmd *cli.Context) error {
		s, err := newSync(cmd)
		if err != nil {
			return err
		}

		for _, ent := range s.AuditLog() {
			out, err := json.Marshal(ent)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		}

		return nil
	},
}
