package main

import (
	"context"

	"mkprocessor/cmd/mkprocessor/commands"
	"mkprocessor/lib/serviceutil"
	"mkprocessor/lib/telemetry"
)

func main() {
	ctx := context.Background()

	instance, err := telemetry.SetupFromEnv(ctx, "mkprocessor")
	if err != nil {
		serviceutil.Fatal("failed to initialize telemetry", err)
	}
	defer instance.Shutdown(ctx)
	telemetry.InitSlog(true)

	commands.ExecuteContext(ctx)
}
