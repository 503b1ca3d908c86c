package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/root-talis/kaidan/cli"
)

func main() {
	var root cli.CLI

	kctx := kong.Parse(&root,
		kong.Name("kaidan"),
		kong.Description("Versioned SQL migration runner."),
		kong.UsageOnError(),
		kong.DefaultEnvars("KAIDAN"),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
	)

	lvl := &slog.LevelVar{}
	lvl.Set(root.Log.Level)

	logger := slog.New(
		tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
			Level:      lvl,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
			TimeFormat: "2006-01-02 15:04:05",
		}),
	)
	slog.SetDefault(logger)

	appCtx := &cli.Context{
		Ctx:    context.Background(),
		Logger: logger,
		Stdout: colorable.NewColorable(os.Stdout),
	}

	if err := kctx.Run(&root.Globals, appCtx); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}
