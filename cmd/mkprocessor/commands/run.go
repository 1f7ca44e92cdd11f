package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"mkprocessor/lib/browser"
	"mkprocessor/lib/configutil"
	"mkprocessor/lib/extract"
	"mkprocessor/lib/normalize"
	"mkprocessor/lib/serviceutil"
	"mkprocessor/lib/sheets"
	"mkprocessor/lib/telemetry"
	"mkprocessor/services/pipeline"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

type BrowserConfig struct {
	// Backend is "chromedp" for a live browser or "static" for plain
	// fetches, defaults to "static".
	Backend  string `json:"backend"`
	Headless bool   `json:"headless"`
	ExecPath string `json:"exec_path"`
	// UserAgent pins the client identity, empty picks a random
	// desktop identity per session.
	UserAgent string `json:"user_agent"`
}

type SheetConfig struct {
	Id                string  `json:"id"`
	Tab               string  `json:"tab"`
	HeaderRange       string  `json:"header_range"`
	DataRange         string  `json:"data_range"`
	KeyColumn         string  `json:"key_column"`
	TokenFile         string  `json:"token_file"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

type Config struct {
	UrlTemplate string                `json:"url_template"`
	Units       []pipeline.Unit       `json:"units"`
	Fields      []extract.FieldSpec   `json:"fields"`
	Schema      normalize.Schema      `json:"schema"`
	Browser     BrowserConfig         `json:"browser"`
	Sheet       SheetConfig           `json:"sheet"`
	Retry       pipeline.RetryOptions `json:"retry"`
	BatchSize   int                   `json:"batch_size"`
	WaitSeconds int                   `json:"wait_seconds"`
}

var runConfig *string
var runOffline *string

func init() {
	runConfig = runCmd.Flags().String("config", "config.json5", "The pipeline config to run.")
	runOffline = runCmd.Flags().String("offline", "", "Sync to a local sqlite file instead of the remote sheet.")
	rootCmd.AddCommand(runCmd)
}

func browserBackend(cfg BrowserConfig) browser.Backend {
	if cfg.Backend == "chromedp" {
		return browser.ChromedpBackend{
			Headless: cfg.Headless,
			ExecPath: cfg.ExecPath,
		}
	}
	return browser.StaticBackend{}
}

func sheetBackend(cfg SheetConfig) sheets.Backend {
	if *runOffline != "" {
		backend, err := sheets.OpenSqlite(*runOffline)
		if err != nil {
			serviceutil.Fatal("failed to open offline database", err)
		}
		return backend
	}

	token, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		serviceutil.Fatal("failed to read sheet credential", err)
	}
	return sheets.NewGoogleClient(sheets.GoogleClientOptions{
		Tab:               cfg.Tab,
		Cred:              sheets.StaticToken(token),
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
}

func streamEvents(events <-chan pipeline.Event) {
	for e := range events {
		if e.State == pipeline.StateFailed {
			slog.Error("unit", "id", e.Unit, "state", e.State, "detail", e.Detail)
			continue
		}
		slog.Info("unit", "id", e.Unit, "state", e.State, "detail", e.Detail)
	}
}

func printSummary(summary pipeline.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Unit", "State", "Attempts", "Inserted", "Updated", "Skipped", "Error"})

	for _, u := range summary.Units {
		errText := ""
		if u.Err != nil {
			errText = u.Err.Error()
		}
		t.AppendRow(table.Row{
			u.Unit, u.State, u.Attempts,
			u.Sync.Inserted, u.Sync.Updated, u.Sync.Skipped,
			errText,
		})
	}
	t.AppendFooter(table.Row{
		"", "", "",
		fmt.Sprintf("stopped=%t", summary.Stopped),
		"", "",
		summary.Finished.Sub(summary.Started).Round(time.Millisecond),
	})

	t.SetStyle(table.StyleRounded)
	t.Render()
}

var runCmd = &cobra.Command{
	Use:   "run [--config <path/to/config.json5>] [--offline <path/to/local.db>]",
	Short: "Runs the scrape-normalize-sync pipeline for every configured unit.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[Config](*runConfig)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		telemetry.InstrumentPerfStats(cmd.Context())

		identity := browser.IdentityPolicy(browser.RandomDesktopIdentity)
		if cfg.Browser.UserAgent != "" {
			identity = browser.FixedIdentity(cfg.Browser.UserAgent)
		}

		events := make(chan pipeline.Event, 256)
		runner, err := pipeline.NewRunner(pipeline.Options{
			UrlTemplate: cfg.UrlTemplate,
			Units:       cfg.Units,
			Browser:     browserBackend(cfg.Browser),
			Identity:    identity,
			Fields:      cfg.Fields,
			Schema:      cfg.Schema,
			Sheet:       sheetBackend(cfg.Sheet),
			SheetId:     cfg.Sheet.Id,
			HeaderRange: cfg.Sheet.HeaderRange,
			DataRange:   cfg.Sheet.DataRange,
			KeyColumn:   cfg.Sheet.KeyColumn,
			BatchSize:   cfg.BatchSize,
			Retry:       cfg.Retry,
			WaitTimeout: time.Second * time.Duration(cfg.WaitSeconds),
			Events:      events,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize pipeline", err)
		}

		go streamEvents(events)

		slog.Info("starting run", "units", len(cfg.Units))
		summary := runner.Run(serviceutil.SignalContext())
		close(events)

		printSummary(summary)
	},
}
